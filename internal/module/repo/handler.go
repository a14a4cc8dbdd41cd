package repo

import (
	"github.com/gin-gonic/gin"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/commitpipe"
	"github.com/kohakuhub/server/internal/module/namespace"
	"github.com/kohakuhub/server/internal/module/storage"
	"github.com/kohakuhub/server/internal/shared/config"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/logger"
	"github.com/kohakuhub/server/internal/shared/response"
	"github.com/kohakuhub/server/internal/utils/middleware"
)

// Handler serves the HF-compatible repository API.
type Handler struct {
	service *Service
	ns      *namespace.Service
	blobs   *storage.Client
	cfg     *config.Config
	log     *logger.Logger
}

// NewHandler creates the repository handler.
func NewHandler(service *Service, ns *namespace.Service, blobs *storage.Client,
	cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{service: service, ns: ns, blobs: blobs, cfg: cfg, log: log}
}

// resolved bundles the outcome of path-param resolution and access checks.
type resolved struct {
	repo   *model.Repository
	owner  *namespace.Owner
	rights namespace.Rights
}

// resolve loads the repo from :type/:namespace/:name and computes the
// caller's rights. Read denials are masked as not-found.
func (h *Handler) resolve(c *gin.Context) (*resolved, bool) {
	repoType, ok := model.ParseRepoType(c.Param("type"))
	if !ok {
		response.Error(c, apperrors.BadRequest("unknown repo type"))
		return nil, false
	}

	repo, owner, err := h.service.ResolveRepo(c.Request.Context(), repoType, c.Param("namespace"), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}

	rights, err := h.ns.EffectiveRights(c.Request.Context(), middleware.CurrentIdentity(c), repo)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if !rights.Read {
		response.Error(c, apperrors.RepoNotFound(repo.FullID))
		return nil, false
	}
	return &resolved{repo: repo, owner: owner, rights: rights}, true
}

func (h *Handler) resolveForWrite(c *gin.Context) (*resolved, bool) {
	r, ok := h.resolve(c)
	if !ok {
		return nil, false
	}
	if !r.rights.Write {
		response.Error(c, apperrors.Forbidden("write access to "+r.repo.FullID+" denied"))
		return nil, false
	}
	return r, true
}

func (h *Handler) resolveForDelete(c *gin.Context) (*resolved, bool) {
	r, ok := h.resolve(c)
	if !ok {
		return nil, false
	}
	if !r.rights.Delete {
		response.Error(c, apperrors.Forbidden("admin access to "+r.repo.FullID+" required"))
		return nil, false
	}
	return r, true
}

// revision returns the request's revision param, defaulting to the primary
// branch and decoding encoded slashes.
func revision(c *gin.Context) string {
	return commitpipe.NormalizeRevision(c.Param("revision"))
}
