package gitbridge

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/namespace"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/logger"
	"github.com/kohakuhub/server/internal/shared/response"
	"github.com/kohakuhub/server/internal/utils/middleware"
)

type repoResolver interface {
	ResolveRepo(ctx context.Context, repoType model.RepoType, ns, name string) (*model.Repository, *namespace.Owner, error)
	LakeRepoName(repo *model.Repository) string
}

// Handler serves the git smart HTTP surface.
type Handler struct {
	bridge *Bridge
	repos  repoResolver
	ns     *namespace.Service
	log    *logger.Logger
}

// NewHandler creates the git handler.
func NewHandler(bridge *Bridge, repos repoResolver, ns *namespace.Service, log *logger.Logger) *Handler {
	return &Handler{bridge: bridge, repos: repos, ns: ns, log: log}
}

// authorizeRead resolves the repo and checks read access, masking denials as
// not-found.
func (h *Handler) authorizeRead(c *gin.Context) *model.Repository {
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
	return repo
}

// InfoRefs handles GET {repo}.git/info/refs.
func (h *Handler) InfoRefs(c *gin.Context) {
	service := c.Query("service")
	if service != "git-upload-pack" {
		// Dumb HTTP and push discovery are both unsupported.
		c.String(http.StatusForbidden, "smart HTTP with git-upload-pack required")
		return
	}

	repo := h.authorizeRead(c)
	if repo == nil {
		return
	}

	c.Header("Content-Type", "application/x-git-upload-pack-advertisement")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	err := h.bridge.AdvertiseRefs(c.Request.Context(), h.repos.LakeRepoName(repo), c.Writer)
	if err != nil {
		h.log.Error("refs advertisement failed", "repo", repo.FullID, "error", err)
	}
}

// UploadPack handles POST {repo}.git/git-upload-pack.
func (h *Handler) UploadPack(c *gin.Context) {
	repo := h.authorizeRead(c)
	if repo == nil {
		return
	}

	c.Header("Content-Type", "application/x-git-upload-pack-result")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	err := h.bridge.UploadPack(c.Request.Context(), h.repos.LakeRepoName(repo), c.Request.Body, c.Writer)
	if err != nil {
		h.log.Error("upload-pack failed", "repo", repo.FullID, "error", err)
	}
}

// ReceivePack rejects pushes; writes go through the commit API.
func (h *Handler) ReceivePack(c *gin.Context) {
	c.Header("Content-Type", "text/plain")
	c.String(http.StatusNotImplemented, "pushes are not supported; use the commit API\n")
}

// Head handles GET {repo}.git/HEAD for clients probing the default branch.
func (h *Handler) Head(c *gin.Context) {
	repo := h.authorizeRead(c)
	if repo == nil {
		return
	}
	c.Header("Content-Type", "text/plain")
	c.String(http.StatusOK, "ref: refs/heads/%s\n", h.bridge.defaultBranch)
}
