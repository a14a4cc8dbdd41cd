package commitpipe

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/namespace"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/logger"
	"github.com/kohakuhub/server/internal/shared/response"
	"github.com/kohakuhub/server/internal/utils/middleware"
)

// RepoResolver finds a repository and its owning namespace. Implemented by
// the repository lifecycle service; the indirection keeps the pipeline free
// of lifecycle concerns.
type RepoResolver interface {
	ResolveRepo(ctx context.Context, repoType model.RepoType, ns, name string) (*model.Repository, *namespace.Owner, error)
	LakeRepoName(repo *model.Repository) string
}

// Handler serves the commit and preupload endpoints.
type Handler struct {
	pipeline        *Pipeline
	repos           RepoResolver
	ns              *namespace.Service
	db              *gorm.DB
	inlineThreshold int64
	log             *logger.Logger
}

// NewHandler creates the commit handler.
func NewHandler(pipeline *Pipeline, repos RepoResolver, ns *namespace.Service,
	db *gorm.DB, inlineThreshold int64, log *logger.Logger) *Handler {
	return &Handler{
		pipeline:        pipeline,
		repos:           repos,
		ns:              ns,
		db:              db,
		inlineThreshold: inlineThreshold,
		log:             log,
	}
}

// authorizeWrite resolves the repo and checks write rights. A read denial is
// masked as not-found so private repositories stay invisible.
func (h *Handler) authorizeWrite(c *gin.Context, repoType model.RepoType, ns, name string) (*model.Repository, *namespace.Owner, bool) {
	identity := middleware.CurrentIdentity(c)

	repo, owner, err := h.repos.ResolveRepo(c.Request.Context(), repoType, ns, name)
	if err != nil {
		response.Error(c, err)
		return nil, nil, false
	}

	rights, err := h.ns.EffectiveRights(c.Request.Context(), identity, repo)
	if err != nil {
		response.Error(c, err)
		return nil, nil, false
	}
	if !rights.Read {
		response.Error(c, apperrors.RepoNotFound(repo.FullID))
		return nil, nil, false
	}
	if !rights.Write {
		response.Error(c, apperrors.Forbidden("write access required"))
		return nil, nil, false
	}
	return repo, owner, true
}

// Commit handles POST /api/{types}/{ns}/{name}/commit/{revision}.
func (h *Handler) Commit(c *gin.Context) {
	repoType, ok := model.ParseRepoType(c.Param("type"))
	if !ok {
		response.Error(c, apperrors.BadRequest("unknown repo type"))
		return
	}

	repo, owner, ok := h.authorizeWrite(c, repoType, c.Param("namespace"), c.Param("name"))
	if !ok {
		return
	}

	header, ops, err := ParseOperations(c.Request.Body)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.pipeline.Commit(c.Request.Context(), &Request{
		Repo:     repo,
		Owner:    owner,
		Identity: middleware.CurrentIdentity(c),
		Branch:   NormalizeRevision(c.Param("revision")),
		Header:   header,
		Ops:      ops,
		LakeRepo: h.repos.LakeRepoName(repo),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"commitUrl":     result.CommitURL,
		"commitOid":     result.CommitID,
		"commitMessage": header.Summary,
		"success":       true,
	})
}

type preuploadFile struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sample string `json:"sample,omitempty"`
	SHA    string `json:"sha256,omitempty"`
}

type preuploadRequest struct {
	Files []preuploadFile `json:"files"`
}

type preuploadDecision struct {
	Path         string `json:"path"`
	UploadMode   string `json:"uploadMode"`
	ShouldIgnore bool   `json:"shouldIgnore"`
}

// Preupload handles POST /api/{types}/{ns}/{name}/preupload/{revision}.
// Decides per file whether content travels inline in the commit payload or
// through the LFS flow, and flags unchanged files the client can skip.
func (h *Handler) Preupload(c *gin.Context) {
	repoType, ok := model.ParseRepoType(c.Param("type"))
	if !ok {
		response.Error(c, apperrors.BadRequest("unknown repo type"))
		return
	}

	repo, _, ok := h.authorizeWrite(c, repoType, c.Param("namespace"), c.Param("name"))
	if !ok {
		return
	}

	var req preuploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("malformed preupload request"))
		return
	}

	decisions := make([]preuploadDecision, 0, len(req.Files))
	for _, f := range req.Files {
		if err := validatePath(f.Path); err != nil {
			response.Error(c, err)
			return
		}

		mode := "regular"
		if f.Size > h.inlineThreshold {
			mode = "lfs"
		}

		ignore := false
		if f.SHA != "" {
			var existing model.File
			err := h.db.WithContext(c.Request.Context()).
				Where("repo_full_id = ? AND repo_type = ? AND path_in_repo = ?",
					repo.FullID, repo.RepoType, f.Path).
				First(&existing).Error
			if err == nil && existing.SHA256 == f.SHA && existing.Size == f.Size {
				ignore = true
			}
		}

		decisions = append(decisions, preuploadDecision{
			Path:         f.Path,
			UploadMode:   mode,
			ShouldIgnore: ignore,
		})
	}

	c.JSON(http.StatusOK, gin.H{"files": decisions})
}
