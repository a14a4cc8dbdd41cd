package repo

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kohakuhub/server/internal/model"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/response"
	"github.com/kohakuhub/server/internal/utils/middleware"
)

type createRequest struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Private      bool   `json:"private"`
}

// Create handles POST /api/repos/create.
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("invalid request body"))
		return
	}
	if req.Type == "" {
		req.Type = string(model.RepoTypeModel)
	}
	repoType, ok := model.ParseRepoType(req.Type)
	if !ok {
		response.Error(c, apperrors.BadRequest("unknown repo type "+req.Type))
		return
	}

	// "org/name" in the name field wins over the organization field.
	name := req.Name
	org := req.Organization
	if ns, bare, found := strings.Cut(req.Name, "/"); found {
		org, name = ns, bare
	}

	identity := middleware.CurrentIdentity(c)
	if org != "" && !identity.Anonymous() && org == identity.User.Username {
		org = ""
	}

	repo, err := h.service.Create(c.Request.Context(), identity, &CreateRequest{
		Type:         repoType,
		Name:         name,
		Organization: org,
		Private:      req.Private,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{
		"url":     h.cfg.App.BaseURL + "/" + repo.RepoType.Plural() + "/" + repo.FullID,
		"repo_id": repo.FullID,
		"private": repo.Private,
	})
}

type deleteRequest struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Organization string `json:"organization"`
}

// Delete handles POST /api/repos/delete.
func (h *Handler) Delete(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("invalid request body"))
		return
	}
	if req.Type == "" {
		req.Type = string(model.RepoTypeModel)
	}
	repoType, ok := model.ParseRepoType(req.Type)
	if !ok {
		response.Error(c, apperrors.BadRequest("unknown repo type "+req.Type))
		return
	}

	identity := middleware.CurrentIdentity(c)
	ns, name := req.Organization, req.Name
	if n, bare, found := strings.Cut(req.Name, "/"); found {
		ns, name = n, bare
	}
	if ns == "" {
		if identity.Anonymous() {
			response.Error(c, apperrors.Unauthorized(""))
			return
		}
		ns = identity.User.Username
	}

	repo, owner, err := h.service.ResolveRepo(c.Request.Context(), repoType, ns, name)
	if err != nil {
		response.Error(c, err)
		return
	}
	rights, err := h.ns.EffectiveRights(c.Request.Context(), identity, repo)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !rights.Read {
		response.Error(c, apperrors.RepoNotFound(repo.FullID))
		return
	}
	if !rights.Delete {
		response.Error(c, apperrors.Forbidden("admin access to "+repo.FullID+" required"))
		return
	}

	if err := h.service.Delete(c.Request.Context(), repo, owner); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

type moveRequest struct {
	FromRepo string `json:"fromRepo"`
	ToRepo   string `json:"toRepo"`
	Type     string `json:"type"`
}

// Move handles POST /api/repos/move.
func (h *Handler) Move(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("invalid request body"))
		return
	}
	if req.Type == "" {
		req.Type = string(model.RepoTypeModel)
	}
	repoType, ok := model.ParseRepoType(req.Type)
	if !ok {
		response.Error(c, apperrors.BadRequest("unknown repo type "+req.Type))
		return
	}

	fromNS, fromName, okFrom := strings.Cut(req.FromRepo, "/")
	toNS, toName, okTo := strings.Cut(req.ToRepo, "/")
	if !okFrom || !okTo {
		response.Error(c, apperrors.BadRequest("fromRepo and toRepo must be namespace/name"))
		return
	}

	identity := middleware.CurrentIdentity(c)
	repo, owner, err := h.service.ResolveRepo(c.Request.Context(), repoType, fromNS, fromName)
	if err != nil {
		response.Error(c, err)
		return
	}
	rights, err := h.ns.EffectiveRights(c.Request.Context(), identity, repo)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !rights.Read {
		response.Error(c, apperrors.RepoNotFound(repo.FullID))
		return
	}
	if !rights.Delete {
		response.Error(c, apperrors.Forbidden("admin access to "+repo.FullID+" required"))
		return
	}

	moved, err := h.service.Move(c.Request.Context(), identity, repo, owner, toNS, toName)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"url":     h.cfg.App.BaseURL + "/" + moved.RepoType.Plural() + "/" + moved.FullID,
		"repo_id": moved.FullID,
	})
}

type settingsRequest struct {
	Private *bool `json:"private"`
	Gated   *bool `json:"gated"`
}

// UpdateSettings handles PUT /api/:type/:namespace/:name/settings.
func (h *Handler) UpdateSettings(c *gin.Context) {
	r, ok := h.resolveForDelete(c)
	if !ok {
		return
	}

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("invalid request body"))
		return
	}

	if err := h.service.UpdateSettings(c.Request.Context(), r.repo, r.owner, req.Private, req.Gated); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

type branchRequest struct {
	Branch        string `json:"branch"`
	StartingPoint string `json:"startingPoint"`
}

// CreateBranch handles POST /api/:type/:namespace/:name/branch/:branch.
func (h *Handler) CreateBranch(c *gin.Context) {
	r, ok := h.resolveForWrite(c)
	if !ok {
		return
	}

	var req branchRequest
	// Body is optional; the branch name rides in the path.
	_ = c.ShouldBindJSON(&req)
	branch := c.Param("branch")
	if branch == "" {
		branch = req.Branch
	}
	if branch == "" {
		response.Error(c, apperrors.BadRequest("branch name required"))
		return
	}

	if err := h.service.CreateBranch(c.Request.Context(), r.repo, branch, req.StartingPoint); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// DeleteBranch handles DELETE /api/:type/:namespace/:name/branch/:branch.
func (h *Handler) DeleteBranch(c *gin.Context) {
	r, ok := h.resolveForWrite(c)
	if !ok {
		return
	}
	if err := h.service.DeleteBranch(c.Request.Context(), r.repo, c.Param("branch")); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

type tagRequest struct {
	Tag      string `json:"tag"`
	Revision string `json:"revision"`
	Message  string `json:"message"`
}

// CreateTag handles POST /api/:type/:namespace/:name/tag/:revision where the
// path revision is the tag source and the body carries the tag name.
func (h *Handler) CreateTag(c *gin.Context) {
	r, ok := h.resolveForWrite(c)
	if !ok {
		return
	}

	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Tag == "" {
		response.Error(c, apperrors.BadRequest("tag name required"))
		return
	}

	source := revision(c)
	if req.Revision != "" {
		source = req.Revision
	}
	if err := h.service.CreateTag(c.Request.Context(), r.repo, req.Tag, source); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// DeleteTag handles DELETE /api/:type/:namespace/:name/tag/:revision. The
// path revision carries the tag name; the route shares its node with tag
// creation.
func (h *Handler) DeleteTag(c *gin.Context) {
	r, ok := h.resolveForWrite(c)
	if !ok {
		return
	}
	if err := h.service.DeleteTag(c.Request.Context(), r.repo, c.Param("revision")); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

type squashRequest struct {
	Message string `json:"message"`
}

// Squash handles POST /api/:type/:namespace/:name/super-squash/:revision.
func (h *Handler) Squash(c *gin.Context) {
	r, ok := h.resolveForDelete(c)
	if !ok {
		return
	}

	var req squashRequest
	_ = c.ShouldBindJSON(&req)

	commitID, err := h.service.Squash(c.Request.Context(), r.repo, revision(c), req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"success": true, "commitOid": commitID})
}
