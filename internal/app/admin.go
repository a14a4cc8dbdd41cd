package app

import (
	"github.com/gin-gonic/gin"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/lfs"
	"github.com/kohakuhub/server/internal/module/namespace"
	"github.com/kohakuhub/server/internal/module/quota"
	"github.com/kohakuhub/server/internal/module/repo"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/response"
	"github.com/kohakuhub/server/internal/utils/middleware"
)

// adminHandler serves quota administration and maintenance endpoints.
type adminHandler struct {
	ns        *namespace.Service
	quota     *quota.Engine
	collector *lfs.Collector
	lfs       *lfs.Service
	repos     *repo.Service
}

func newAdminHandler(ns *namespace.Service, q *quota.Engine, collector *lfs.Collector,
	lfsService *lfs.Service, repos *repo.Service) *adminHandler {
	return &adminHandler{ns: ns, quota: q, collector: collector, lfs: lfsService, repos: repos}
}

func (h *adminHandler) owner(c *gin.Context) (*namespace.Owner, bool) {
	owner, err := h.ns.Resolve(c.Request.Context(), c.Param("namespace"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return owner, true
}

// GetUsage handles GET /api/quota/:namespace. Callers see their own usage;
// admins see everyone's.
func (h *adminHandler) GetUsage(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}

	identity := middleware.CurrentIdentity(c)
	if !identity.Admin() {
		if identity.Anonymous() {
			response.Error(c, apperrors.Unauthorized(""))
			return
		}
		allowed := !owner.IsOrg() && owner.User.ID == identity.User.ID
		if owner.IsOrg() {
			role, err := h.ns.MemberRole(c.Request.Context(), identity.User.ID, owner.Org.ID)
			if err != nil {
				response.Error(c, err)
				return
			}
			allowed = role != ""
		}
		if !allowed {
			response.Error(c, apperrors.Forbidden(""))
			return
		}
	}

	usage, err := h.quota.GetUsage(c.Request.Context(), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, usage)
}

type setQuotaRequest struct {
	PrivateQuotaBytes *int64 `json:"private_quota_bytes"`
	PublicQuotaBytes  *int64 `json:"public_quota_bytes"`
}

// SetQuota handles PUT /api/admin/quota/:namespace.
func (h *adminHandler) SetQuota(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}

	var req setQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("invalid request body"))
		return
	}

	if err := h.quota.SetQuota(c.Request.Context(), owner, req.PrivateQuotaBytes, req.PublicQuotaBytes); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

// RecomputeQuota handles POST /api/admin/quota/:namespace/recompute.
func (h *adminHandler) RecomputeQuota(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}

	usage, err := h.quota.Recompute(c.Request.Context(), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, usage)
}

// SweepStaging handles POST /api/admin/lfs/sweep.
func (h *adminHandler) SweepStaging(c *gin.Context) {
	n, err := h.lfs.SweepStaging(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"removed": n})
}

// CollectRepo handles POST /api/admin/gc/:type/:namespace/:name.
func (h *adminHandler) CollectRepo(c *gin.Context) {
	repoType, ok := model.ParseRepoType(c.Param("type"))
	if !ok {
		response.Error(c, apperrors.BadRequest("unknown repo type"))
		return
	}

	target, _, err := h.repos.ResolveRepo(c.Request.Context(), repoType, c.Param("namespace"), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.collector.CollectRepo(c.Request.Context(), target.FullID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}
