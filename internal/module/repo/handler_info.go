package repo

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/lakefs"
	"github.com/kohakuhub/server/internal/module/namespace"
	"github.com/kohakuhub/server/internal/module/storage"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/response"
	"github.com/kohakuhub/server/internal/utils/middleware"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	treePageSize     = 1000
)

// sibling is one file entry in a repo info response.
type sibling struct {
	RFilename string `json:"rfilename"`
	Size      int64  `json:"size,omitempty"`
}

type repoInfoResponse struct {
	ID           string    `json:"id"`
	Author       string    `json:"author"`
	SHA          string    `json:"sha,omitempty"`
	LastModified string    `json:"lastModified,omitempty"`
	Private      bool      `json:"private"`
	Gated        bool      `json:"gated"`
	Tags         []string  `json:"tags"`
	Siblings     []sibling `json:"siblings"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Info handles GET /api/:type/:namespace/:name and its /revision/:revision
// variant.
func (h *Handler) Info(c *gin.Context) {
	r, ok := h.resolve(c)
	if !ok {
		return
	}

	rev := revision(c)
	lakeRepo := h.service.LakeRepoName(r.repo)

	ref, err := h.resolveRef(c.Request.Context(), lakeRepo, rev)
	if err != nil {
		response.Error(c, err)
		return
	}

	info := repoInfoResponse{
		ID:        r.repo.FullID,
		Author:    r.repo.Namespace,
		SHA:       ref.CommitID,
		Private:   r.repo.Private,
		Gated:     r.repo.Gated,
		Tags:      []string{},
		Siblings:  []sibling{},
		CreatedAt: r.repo.CreatedAt,
	}

	if ref.CommitID != "" {
		if commit, err := h.service.lake.GetCommit(c.Request.Context(), lakeRepo, ref.CommitID); err == nil {
			info.LastModified = commit.When().Format(time.RFC3339)
		}

		objects, err := h.service.lake.ListAllObjects(c.Request.Context(), lakeRepo, ref.CommitID, "")
		if err != nil {
			response.Error(c, err)
			return
		}
		for i := range objects {
			if objects[i].IsCommonPrefix() {
				continue
			}
			info.Siblings = append(info.Siblings, sibling{
				RFilename: objects[i].Path,
				Size:      objects[i].SizeBytes,
			})
		}
	}

	response.OK(c, info)
}

// List handles GET /api/:type with author, search and limit filters. Private
// repositories show only to their owner, org members and admins.
func (h *Handler) List(c *gin.Context) {
	repoType, ok := model.ParseRepoType(c.Param("type"))
	if !ok {
		response.Error(c, apperrors.BadRequest("unknown repo type"))
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, maxListLimit)
		}
	}

	identity := middleware.CurrentIdentity(c)
	q := h.service.db.WithContext(c.Request.Context()).
		Model(&model.Repository{}).
		Where("repo_type = ? AND deleted_at IS NULL", repoType)

	if author := c.Query("author"); author != "" {
		q = q.Where("namespace_norm = ?", namespace.Normalize(author))
	}
	if search := c.Query("search"); search != "" {
		q = q.Where("name_norm LIKE ?", "%"+namespace.Normalize(search)+"%")
	}

	switch {
	case identity.Admin():
		// Admins see everything.
	case identity.Anonymous():
		q = q.Where("private = false AND gated = false")
	default:
		q = q.Where(
			"private = false AND gated = false OR owner_user_id = ? OR owner_org_id IN (?)",
			identity.User.ID,
			h.service.db.Model(&model.Membership{}).Select("org_id").Where("user_id = ?", identity.User.ID),
		)
	}

	var repos []model.Repository
	if err := q.Order("created_at DESC").Limit(limit).Find(&repos).Error; err != nil {
		response.Error(c, apperrors.Internal("list repositories", err))
		return
	}

	out := make([]repoInfoResponse, 0, len(repos))
	for i := range repos {
		out = append(out, repoInfoResponse{
			ID:        repos[i].FullID,
			Author:    repos[i].Namespace,
			Private:   repos[i].Private,
			Gated:     repos[i].Gated,
			Tags:      []string{},
			Siblings:  []sibling{},
			CreatedAt: repos[i].CreatedAt,
		})
	}
	response.OK(c, out)
}

// lfsInfo describes the pointer view of an LFS-backed file.
type lfsInfo struct {
	OID         string `json:"oid"`
	Size        int64  `json:"size"`
	PointerSize int    `json:"pointerSize"`
}

type treeEntry struct {
	Type string   `json:"type"`
	OID  string   `json:"oid,omitempty"`
	Size int64    `json:"size"`
	Path string   `json:"path"`
	LFS  *lfsInfo `json:"lfs,omitempty"`
}

func entryFromObject(obj *lakefs.ObjectStats) treeEntry {
	if obj.IsCommonPrefix() {
		return treeEntry{Type: "directory", Path: strings.TrimSuffix(obj.Path, "/")}
	}
	entry := treeEntry{
		Type: "file",
		OID:  obj.Checksum,
		Size: obj.SizeBytes,
		Path: obj.Path,
	}
	if oid := storage.OIDFromKey(obj.PhysicalAddress); oid != "" {
		entry.LFS = &lfsInfo{
			OID:  oid,
			Size: obj.SizeBytes,
			// version line + oid line + size line.
			PointerSize: 43 + 76 + 6 + len(strconv.FormatInt(obj.SizeBytes, 10)),
		}
	}
	return entry
}

// Tree handles GET /api/:type/:namespace/:name/tree/:revision/*path.
func (h *Handler) Tree(c *gin.Context) {
	r, ok := h.resolve(c)
	if !ok {
		return
	}

	rev := revision(c)
	prefix := strings.TrimPrefix(c.Param("path"), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	delimiter := "/"
	if c.Query("recursive") == "true" || c.Query("recursive") == "True" {
		delimiter = ""
	}

	lakeRepo := h.service.LakeRepoName(r.repo)
	objects, page, err := h.service.lake.ListObjects(c.Request.Context(), lakeRepo, rev,
		prefix, delimiter, c.Query("cursor"), treePageSize)
	if err != nil {
		if errors.Is(err, lakefs.ErrNotFound) || errors.Is(err, lakefs.ErrRefNotFound) {
			response.Error(c, apperrors.RevisionNotFound(rev))
			return
		}
		response.Error(c, err)
		return
	}

	entries := make([]treeEntry, 0, len(objects))
	for i := range objects {
		entries = append(entries, entryFromObject(&objects[i]))
	}

	if page != nil && page.HasMore {
		c.Header("Link", "<"+c.Request.URL.Path+"?cursor="+page.NextOffset+">; rel=\"next\"")
	}
	response.OK(c, entries)
}

type pathsInfoRequest struct {
	Paths  []string `json:"paths"`
	Expand bool     `json:"expand"`
}

// PathsInfo handles POST /api/:type/:namespace/:name/paths-info/:revision.
// Missing paths are omitted from the response, matching hub behavior.
func (h *Handler) PathsInfo(c *gin.Context) {
	r, ok := h.resolve(c)
	if !ok {
		return
	}

	var req pathsInfoRequest
	if err := c.ShouldBind(&req); err != nil || len(req.Paths) == 0 {
		response.Error(c, apperrors.BadRequest("paths required"))
		return
	}

	rev := revision(c)
	lakeRepo := h.service.LakeRepoName(r.repo)

	entries := make([]treeEntry, 0, len(req.Paths))
	for _, p := range req.Paths {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}

		obj, err := h.service.lake.StatObject(c.Request.Context(), lakeRepo, rev, p)
		if err == nil {
			entries = append(entries, entryFromObject(obj))
			continue
		}
		if errors.Is(err, lakefs.ErrRefNotFound) {
			response.Error(c, apperrors.RevisionNotFound(rev))
			return
		}
		if !errors.Is(err, lakefs.ErrNotFound) {
			response.Error(c, err)
			return
		}

		// Not an object; report it as a directory when children exist.
		children, _, err := h.service.lake.ListObjects(c.Request.Context(), lakeRepo, rev, p+"/", "/", "", 1)
		if err == nil && len(children) > 0 {
			entries = append(entries, treeEntry{Type: "directory", Path: p})
		}
	}

	response.OK(c, entries)
}

type refEntry struct {
	Name         string `json:"name"`
	Ref          string `json:"ref"`
	TargetCommit string `json:"targetCommit"`
}

// Refs handles GET /api/:type/:namespace/:name/refs.
func (h *Handler) Refs(c *gin.Context) {
	r, ok := h.resolve(c)
	if !ok {
		return
	}

	lakeRepo := h.service.LakeRepoName(r.repo)
	branches, err := h.service.lake.ListBranches(c.Request.Context(), lakeRepo)
	if err != nil {
		response.Error(c, err)
		return
	}
	tags, err := h.service.lake.ListTags(c.Request.Context(), lakeRepo)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := gin.H{
		"branches": make([]refEntry, 0, len(branches)),
		"tags":     make([]refEntry, 0, len(tags)),
	}
	b := out["branches"].([]refEntry)
	for _, ref := range branches {
		b = append(b, refEntry{Name: ref.ID, Ref: "refs/heads/" + ref.ID, TargetCommit: ref.CommitID})
	}
	out["branches"] = b

	t := out["tags"].([]refEntry)
	for _, ref := range tags {
		t = append(t, refEntry{Name: ref.ID, Ref: "refs/tags/" + ref.ID, TargetCommit: ref.CommitID})
	}
	out["tags"] = t

	response.OK(c, out)
}

type commitEntry struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Authors []author `json:"authors"`
	Date    string   `json:"date"`
}

type author struct {
	User string `json:"user"`
}

// Commits handles GET /api/:type/:namespace/:name/commits/:revision.
func (h *Handler) Commits(c *gin.Context) {
	r, ok := h.resolve(c)
	if !ok {
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, maxListLimit)
		}
	}

	rev := revision(c)
	records, err := h.service.lake.LogCommits(c.Request.Context(), h.service.LakeRepoName(r.repo), rev, limit)
	if err != nil {
		if errors.Is(err, lakefs.ErrNotFound) || errors.Is(err, lakefs.ErrRefNotFound) {
			response.Error(c, apperrors.RevisionNotFound(rev))
			return
		}
		response.Error(c, err)
		return
	}

	out := make([]commitEntry, 0, len(records))
	for _, rec := range records {
		title, _, _ := strings.Cut(rec.Message, "\n")
		user := rec.Committer
		if meta := rec.Metadata["author"]; meta != "" {
			user = meta
		}
		out = append(out, commitEntry{
			ID:      rec.ID,
			Title:   title,
			Message: rec.Message,
			Authors: []author{{User: user}},
			Date:    rec.When().Format(time.RFC3339),
		})
	}
	response.OK(c, out)
}

type validateYAMLRequest struct {
	Content  string `json:"content"`
	RepoType string `json:"repoType"`
}

// ValidateYAML handles POST /api/validate-yaml, checking README front matter.
func (h *Handler) ValidateYAML(c *gin.Context) {
	var req validateYAMLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.BadRequest("invalid request body"))
		return
	}

	doc := frontMatter(req.Content)
	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(doc), &parsed); err != nil {
		response.OK(c, gin.H{
			"valid":  false,
			"errors": []gin.H{{"message": err.Error()}},
		})
		return
	}
	response.OK(c, gin.H{"valid": true, "errors": []gin.H{}})
}

// frontMatter extracts the YAML block between leading "---" fences; content
// without fences is treated as a full YAML document.
func frontMatter(content string) string {
	trimmed := strings.TrimLeft(content, "\ufeff\n\r ")
	if !strings.HasPrefix(trimmed, "---") {
		return content
	}
	rest := trimmed[3:]
	if idx := strings.Index(rest, "\n---"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// WhoAmI handles GET /api/whoami-v2.
func (h *Handler) WhoAmI(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	if identity.Anonymous() {
		response.Error(c, apperrors.Unauthorized("Invalid user token"))
		return
	}

	type orgEntry struct {
		Name      string `json:"name"`
		RoleInOrg string `json:"roleInOrg"`
	}
	orgs := []orgEntry{}

	if identity.User != nil {
		type row struct {
			Name string
			Role model.OrgRole
		}
		var rows []row
		err := h.service.db.WithContext(c.Request.Context()).
			Model(&model.Membership{}).
			Select("organizations.name AS name, memberships.role AS role").
			Joins("JOIN organizations ON organizations.id = memberships.org_id").
			Where("memberships.user_id = ?", identity.User.ID).
			Scan(&rows).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			response.Error(c, apperrors.Internal("load memberships", err))
			return
		}
		for _, r := range rows {
			orgs = append(orgs, orgEntry{Name: r.Name, RoleInOrg: string(r.Role)})
		}
	}

	name := identity.Username()
	var email string
	var id any
	if identity.User != nil {
		email = identity.User.Email
		id = identity.User.ID
	}
	response.OK(c, gin.H{
		"type":  "user",
		"id":    id,
		"name":  name,
		"email": email,
		"orgs":  orgs,
		"auth":  gin.H{"type": "access_token", "accessToken": gin.H{"role": "write"}},
	})
}
