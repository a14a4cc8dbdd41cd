package org

import (
	"github.com/gin-gonic/gin"

	"github.com/kohakuhub/server/internal/model"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/response"
	"github.com/kohakuhub/server/internal/utils/middleware"
)

// Handler serves the organization API.
type Handler struct {
	service *Service
}

// NewHandler creates the organization handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) load(c *gin.Context) (*model.Organization, bool) {
	org, err := h.service.Get(c.Request.Context(), c.Param("org"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return org, true
}

type createOrgRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// Create handles POST /api/organizations.
func (h *Handler) Create(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	if identity.Anonymous() || identity.User == nil {
		response.Error(c, apperrors.Unauthorized(""))
		return
	}

	var req createOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("organization name required"))
		return
	}

	org, err := h.service.Create(c.Request.Context(), identity.User, req.Name, req.Description)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, org)
}

// Get handles GET /api/organizations/:org.
func (h *Handler) Get(c *gin.Context) {
	org, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, org)
}

type updateOrgRequest struct {
	Description string `json:"description"`
}

// Update handles PUT /api/organizations/:org.
func (h *Handler) Update(c *gin.Context) {
	org, ok := h.load(c)
	if !ok {
		return
	}

	identity := middleware.CurrentIdentity(c)
	if _, err := h.service.actorRole(c.Request.Context(), identity, org); err != nil {
		response.Error(c, err)
		return
	}

	var req updateOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("invalid request body"))
		return
	}
	if err := h.service.UpdateDescription(c.Request.Context(), org, req.Description); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

// Members handles GET /api/organizations/:org/members.
func (h *Handler) Members(c *gin.Context) {
	org, ok := h.load(c)
	if !ok {
		return
	}
	members, err := h.service.Members(c.Request.Context(), org)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"members": members})
}

type memberRequest struct {
	Username string `json:"user" binding:"required"`
	Role     string `json:"role"`
}

// AddMember handles POST /api/organizations/:org/members.
func (h *Handler) AddMember(c *gin.Context) {
	org, ok := h.load(c)
	if !ok {
		return
	}

	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("user required"))
		return
	}
	role := model.OrgRole(req.Role)
	if req.Role == "" {
		role = model.OrgRoleMember
	}

	err := h.service.AddMember(c.Request.Context(), middleware.CurrentIdentity(c), org, req.Username, role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdateMember handles PUT /api/organizations/:org/members/:username.
func (h *Handler) UpdateMember(c *gin.Context) {
	org, ok := h.load(c)
	if !ok {
		return
	}

	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("role required"))
		return
	}

	err := h.service.UpdateMember(c.Request.Context(), middleware.CurrentIdentity(c), org,
		c.Param("username"), model.OrgRole(req.Role))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

// RemoveMember handles DELETE /api/organizations/:org/members/:username.
func (h *Handler) RemoveMember(c *gin.Context) {
	org, ok := h.load(c)
	if !ok {
		return
	}

	err := h.service.RemoveMember(c.Request.Context(), middleware.CurrentIdentity(c), org, c.Param("username"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}
