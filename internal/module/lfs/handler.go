package lfs

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/namespace"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/response"
	"github.com/kohakuhub/server/internal/utils/middleware"
)

const lfsMediaType = "application/vnd.git-lfs+json"

type repoResolver interface {
	ResolveRepo(ctx context.Context, repoType model.RepoType, ns, name string) (*model.Repository, *namespace.Owner, error)
}

// Handler serves the git-lfs batch and verify endpoints.
type Handler struct {
	service *Service
	repos   repoResolver
	ns      *namespace.Service
	baseURL string
}

// NewHandler creates the LFS handler.
func NewHandler(service *Service, repos repoResolver, ns *namespace.Service, baseURL string) *Handler {
	return &Handler{service: service, repos: repos, ns: ns, baseURL: baseURL}
}

func (h *Handler) authorize(c *gin.Context, needWrite bool) *model.Repository {
	repoType, ok := model.ParseRepoType(c.Param("type"))
	if !ok {
		response.Error(c, apperrors.BadRequest("unknown repo type"))
		return nil
	}

	repo, _, err := h.repos.ResolveRepo(c.Request.Context(), repoType, c.Param("namespace"), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return nil
	}

	rights, err := h.ns.EffectiveRights(c.Request.Context(), middleware.CurrentIdentity(c), repo)
	if err != nil {
		response.Error(c, err)
		return nil
	}
	if !rights.Read {
		response.Error(c, apperrors.RepoNotFound(repo.FullID))
		return nil
	}
	if needWrite && !rights.Write {
		response.Error(c, apperrors.Forbidden("write access required"))
		return nil
	}
	return repo
}

// Batch handles POST .../{name}.git/info/lfs/objects/batch.
func (h *Handler) Batch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("malformed batch request"))
		return
	}

	repo := h.authorize(c, req.Operation == "upload")
	if repo == nil {
		return
	}

	verifyBase := fmt.Sprintf("%s/api/%s/%s.git/info/lfs",
		h.baseURL, repo.RepoType.Plural(), repo.FullID)

	resp, err := h.service.Batch(c.Request.Context(), repo, &req, verifyBase)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Type", lfsMediaType)
	c.JSON(http.StatusOK, resp)
}

// Verify handles POST .../{name}.git/info/lfs/verify.
func (h *Handler) Verify(c *gin.Context) {
	repo := h.authorize(c, true)
	if repo == nil {
		return
	}

	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("malformed verify request"))
		return
	}

	if err := h.service.Verify(c.Request.Context(), &req); err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Type", lfsMediaType)
	c.JSON(http.StatusOK, gin.H{"oid": req.OID, "size": req.Size})
}
