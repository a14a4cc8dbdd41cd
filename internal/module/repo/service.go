package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/commitpipe"
	"github.com/kohakuhub/server/internal/module/lakefs"
	"github.com/kohakuhub/server/internal/module/lfs"
	"github.com/kohakuhub/server/internal/module/namespace"
	"github.com/kohakuhub/server/internal/module/quota"
	"github.com/kohakuhub/server/internal/module/storage"
	"github.com/kohakuhub/server/internal/shared/config"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/logger"
)

// gitattributesSeed is the first commit of every new repository; it makes
// fresh clones LFS-ready.
const gitattributesSeed = `*.bin filter=lfs diff=lfs merge=lfs -text
*.safetensors filter=lfs diff=lfs merge=lfs -text
*.gguf filter=lfs diff=lfs merge=lfs -text
*.ckpt filter=lfs diff=lfs merge=lfs -text
*.pt filter=lfs diff=lfs merge=lfs -text
*.pth filter=lfs diff=lfs merge=lfs -text
*.onnx filter=lfs diff=lfs merge=lfs -text
*.parquet filter=lfs diff=lfs merge=lfs -text
*.arrow filter=lfs diff=lfs merge=lfs -text
`

// Service owns repository lifecycle: create, delete, move, squash, branches
// and tags. It orchestrates the version store, blob storage and metadata so
// the three stay consistent.
type Service struct {
	db       *gorm.DB
	lake     *lakefs.Client
	blobs    *storage.Client
	ns       *namespace.Service
	quota    *quota.Engine
	gc       *lfs.Collector
	pipeline *commitpipe.Pipeline
	cfg      *config.Config
	log      *logger.Logger
}

// NewService creates the lifecycle service.
func NewService(db *gorm.DB, lake *lakefs.Client, blobs *storage.Client,
	ns *namespace.Service, quotaEngine *quota.Engine, gc *lfs.Collector,
	pipeline *commitpipe.Pipeline, cfg *config.Config, log *logger.Logger) *Service {
	return &Service{
		db:       db,
		lake:     lake,
		blobs:    blobs,
		ns:       ns,
		quota:    quotaEngine,
		gc:       gc,
		pipeline: pipeline,
		cfg:      cfg,
		log:      log,
	}
}

// LakeRepoName returns the version store repository backing a hub repo.
func (s *Service) LakeRepoName(repo *model.Repository) string {
	return storage.RepoPrefix(string(repo.RepoType), repo.NamespaceNorm, repo.NameNorm)
}

// ResolveRepo finds an active repository by its normalized triple and loads
// its owner. A moved repository remains reachable through its old triple via
// the redirect table.
func (s *Service) ResolveRepo(ctx context.Context, repoType model.RepoType, ns, name string) (*model.Repository, *namespace.Owner, error) {
	nsNorm, nameNorm := namespace.Normalize(ns), namespace.Normalize(name)

	var repo model.Repository
	err := s.db.WithContext(ctx).
		Where("repo_type = ? AND namespace_norm = ? AND name_norm = ? AND deleted_at IS NULL",
			repoType, nsNorm, nameNorm).
		First(&repo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.resolveRedirect(ctx, repoType, nsNorm, nameNorm, &repo)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.RepoNotFound(ns + "/" + name)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve repo: %w", err)
	}

	owner, err := s.ownerOf(ctx, &repo)
	if err != nil {
		return nil, nil, err
	}
	return &repo, owner, nil
}

// resolveRedirect follows a move redirect from an old triple to the live row.
func (s *Service) resolveRedirect(ctx context.Context, repoType model.RepoType, nsNorm, nameNorm string, repo *model.Repository) error {
	var redirect model.RepoRedirect
	err := s.db.WithContext(ctx).
		Where("repo_type = ? AND namespace_norm = ? AND name_norm = ?", repoType, nsNorm, nameNorm).
		First(&redirect).Error
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", redirect.RepoID).
		First(repo).Error
}

func (s *Service) ownerOf(ctx context.Context, repo *model.Repository) (*namespace.Owner, error) {
	if repo.OwnerOrgID != nil {
		var org model.Organization
		if err := s.db.WithContext(ctx).First(&org, *repo.OwnerOrgID).Error; err != nil {
			return nil, fmt.Errorf("load repo owner org: %w", err)
		}
		return &namespace.Owner{Org: &org}, nil
	}
	if repo.OwnerUserID != nil {
		var user model.User
		if err := s.db.WithContext(ctx).First(&user, *repo.OwnerUserID).Error; err != nil {
			return nil, fmt.Errorf("load repo owner user: %w", err)
		}
		return &namespace.Owner{User: &user}, nil
	}
	return nil, apperrors.Internal("repository has no owner", nil)
}

// CreateRequest describes a new repository.
type CreateRequest struct {
	Type         model.RepoType
	Name         string
	Organization string // empty means the caller's own namespace
	Private      bool
}

// Create provisions the metadata row, the version store repository and the
// seed commit. The version store is compensated on failure so a retry can
// reuse the name.
func (s *Service) Create(ctx context.Context, identity *namespace.Identity, req *CreateRequest) (*model.Repository, error) {
	if identity.Anonymous() && !identity.Admin() {
		return nil, apperrors.Unauthorized("")
	}
	if !req.Type.IsValid() {
		return nil, apperrors.BadRequest("unknown repo type")
	}
	if err := namespace.ValidateName(req.Name); err != nil {
		return nil, err
	}

	repo := &model.Repository{
		RepoType: req.Type,
		Name:     req.Name,
		NameNorm: namespace.Normalize(req.Name),
		Private:  req.Private,
	}

	if req.Organization != "" {
		owner, err := s.ns.Resolve(ctx, req.Organization)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.BadRequest("organization " + req.Organization + " does not exist")
			}
			return nil, err
		}
		if !owner.IsOrg() {
			return nil, apperrors.BadRequest(req.Organization + " is not an organization")
		}
		if !identity.Admin() {
			role, err := s.ns.MemberRole(ctx, identity.User.ID, owner.Org.ID)
			if err != nil {
				return nil, err
			}
			if role == "" {
				return nil, apperrors.Forbidden("not a member of " + req.Organization)
			}
		}
		repo.Namespace = owner.Org.Name
		repo.OwnerOrgID = &owner.Org.ID
	} else {
		if identity.Anonymous() {
			return nil, apperrors.BadRequest("organization is required for admin-created repositories")
		}
		repo.Namespace = identity.User.Username
		repo.OwnerUserID = &identity.User.ID
	}
	repo.NamespaceNorm = namespace.Normalize(repo.Namespace)
	repo.FullID = repo.Namespace + "/" + repo.Name

	err := s.db.WithContext(ctx).Create(repo).Error
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.RepoExists(repo.FullID)
		}
		return nil, fmt.Errorf("create repo row: %w", err)
	}

	lakeRepo := s.LakeRepoName(repo)
	storageNS := "s3://" + s.blobs.Bucket() + "/" + lakeRepo
	if err := s.lake.CreateRepository(ctx, lakeRepo, storageNS, commitpipe.DefaultBranch); err != nil {
		s.db.WithContext(ctx).Unscoped().Delete(repo)
		if errors.Is(err, lakefs.ErrConflict) {
			return nil, apperrors.RepoExists(repo.FullID)
		}
		return nil, fmt.Errorf("create version store repo: %w", err)
	}

	if err := s.seed(ctx, repo, identity); err != nil {
		s.log.Warn("seed commit failed", "repo", repo.FullID, "error", err)
	}

	return repo, nil
}

// seed writes the initial .gitattributes commit.
func (s *Service) seed(ctx context.Context, repo *model.Repository, identity *namespace.Identity) error {
	owner, err := s.ownerOf(ctx, repo)
	if err != nil {
		return err
	}

	ops := []commitpipe.Operation{
		&commitpipe.FileOp{Dest: ".gitattributes", Content: []byte(gitattributesSeed)},
	}
	_, err = s.pipeline.Commit(ctx, &commitpipe.Request{
		Repo:     repo,
		Owner:    owner,
		Identity: identity,
		Branch:   commitpipe.DefaultBranch,
		Header:   &commitpipe.Header{Summary: "initial commit"},
		Ops:      ops,
		LakeRepo: s.LakeRepoName(repo),
	})
	return err
}

// Delete removes a repository: metadata first inside one transaction, then
// version store, blob prefix and LFS purge. The storage steps are idempotent
// so a crashed delete can be re-run.
func (s *Service) Delete(ctx context.Context, repo *model.Repository, owner *namespace.Owner) error {
	var total int64
	err := s.db.WithContext(ctx).Model(&model.File{}).
		Where("repo_full_id = ? AND repo_type = ?", repo.FullID, repo.RepoType).
		Select("COALESCE(SUM(size), 0)").Scan(&total).Error
	if err != nil {
		return fmt.Errorf("sum repo usage: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("repo_full_id = ? AND repo_type = ?", repo.FullID, repo.RepoType).
			Delete(&model.File{}).Error; err != nil {
			return err
		}
		if err := tx.Where("repo_full_id = ? AND repo_type = ?", repo.FullID, repo.RepoType).
			Delete(&model.Commit{}).Error; err != nil {
			return err
		}
		if err := tx.Where("repo_full_id = ?", repo.FullID).
			Delete(&model.StagingUpload{}).Error; err != nil {
			return err
		}
		if err := tx.Where("repo_id = ?", repo.ID).
			Delete(&model.RepoRedirect{}).Error; err != nil {
			return err
		}
		if total != 0 {
			if err := s.quota.Apply(ctx, tx, owner, repo.Private, -total); err != nil {
				return err
			}
		}
		return tx.Model(&model.Repository{}).Where("id = ?", repo.ID).
			UpdateColumn("deleted_at", gorm.Expr("NOW()")).Error
	})
	if err != nil {
		return fmt.Errorf("delete repo metadata: %w", err)
	}

	lakeRepo := s.LakeRepoName(repo)
	if err := s.lake.DeleteRepository(ctx, lakeRepo); err != nil {
		s.log.Error("version store delete failed", "repo", repo.FullID, "error", err)
	}
	if err := s.blobs.DeletePrefix(ctx, lakeRepo+"/", 4); err != nil {
		s.log.Error("storage prefix delete failed", "repo", repo.FullID, "error", err)
	}
	if err := s.gc.PurgeRepo(ctx, repo.FullID); err != nil {
		s.log.Error("lfs purge failed", "repo", repo.FullID, "error", err)
	}
	return nil
}

// Move renames a repository, possibly across namespaces. The version store
// repository is rebuilt under the new name from each branch tip; non-tip
// history does not survive a move.
func (s *Service) Move(ctx context.Context, identity *namespace.Identity, repo *model.Repository,
	fromOwner *namespace.Owner, toNamespace, toName string) (*model.Repository, error) {
	if err := namespace.ValidateName(toName); err != nil {
		return nil, err
	}

	toOwner, err := s.ns.Resolve(ctx, toNamespace)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.BadRequest("namespace " + toNamespace + " does not exist")
		}
		return nil, err
	}
	if !identity.Admin() {
		if toOwner.IsOrg() {
			role, err := s.ns.MemberRole(ctx, identity.User.ID, toOwner.Org.ID)
			if err != nil {
				return nil, err
			}
			if !role.CanDelete() {
				return nil, apperrors.Forbidden("admin role required in " + toNamespace)
			}
		} else if toOwner.User.ID != identity.User.ID {
			return nil, apperrors.Forbidden("cannot move into another user's namespace")
		}
	}

	var existing model.Repository
	err = s.db.WithContext(ctx).
		Where("repo_type = ? AND namespace_norm = ? AND name_norm = ? AND deleted_at IS NULL",
			repo.RepoType, namespace.Normalize(toNamespace), namespace.Normalize(toName)).
		First(&existing).Error
	if err == nil {
		return nil, apperrors.RepoExists(toNamespace + "/" + toName)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check move target: %w", err)
	}

	oldLake := s.LakeRepoName(repo)
	oldFullID := repo.FullID

	var total int64
	err = s.db.WithContext(ctx).Model(&model.File{}).
		Where("repo_full_id = ? AND repo_type = ?", oldFullID, repo.RepoType).
		Select("COALESCE(SUM(size), 0)").Scan(&total).Error
	if err != nil {
		return nil, fmt.Errorf("sum repo usage: %w", err)
	}

	// The destination namespace must have room before anything is rebuilt.
	if total != 0 && !sameOwner(fromOwner, toOwner) {
		if err := s.quota.Check(ctx, toOwner, repo.Private, total); err != nil {
			return nil, err
		}
	}

	updated := *repo
	updated.Namespace = toOwner.Name()
	updated.NamespaceNorm = namespace.Normalize(toOwner.Name())
	updated.Name = toName
	updated.NameNorm = namespace.Normalize(toName)
	updated.FullID = updated.Namespace + "/" + toName
	if toOwner.IsOrg() {
		updated.OwnerOrgID = &toOwner.Org.ID
		updated.OwnerUserID = nil
	} else {
		updated.OwnerUserID = &toOwner.User.ID
		updated.OwnerOrgID = nil
	}

	newLake := storage.RepoPrefix(string(updated.RepoType), updated.NamespaceNorm, updated.NameNorm)
	if err := s.rebuildLakeRepo(ctx, oldLake, newLake); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"namespace":      updated.Namespace,
			"namespace_norm": updated.NamespaceNorm,
			"name":           updated.Name,
			"name_norm":      updated.NameNorm,
			"full_id":        updated.FullID,
			"owner_user_id":  updated.OwnerUserID,
			"owner_org_id":   updated.OwnerOrgID,
		}
		if err := tx.Model(&model.Repository{}).Where("id = ?", repo.ID).Updates(updates).Error; err != nil {
			return err
		}
		for _, m := range []any{&model.File{}, &model.Commit{}} {
			if err := tx.Model(m).
				Where("repo_full_id = ? AND repo_type = ?", oldFullID, repo.RepoType).
				UpdateColumn("repo_full_id", updated.FullID).Error; err != nil {
				return err
			}
		}
		for _, m := range repoScopedByFullID() {
			if err := tx.Model(m).
				Where("repo_full_id = ?", oldFullID).
				UpdateColumn("repo_full_id", updated.FullID).Error; err != nil {
				return err
			}
		}
		if err := s.installRedirect(tx, repo, &updated); err != nil {
			return err
		}
		if total != 0 && !sameOwner(fromOwner, toOwner) {
			if err := s.quota.Transfer(ctx, tx, fromOwner, toOwner, repo.Private, total); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("move repo metadata: %w", err)
	}

	if err := s.lake.DeleteRepository(ctx, oldLake); err != nil {
		s.log.Error("old version store repo delete failed", "repo", oldFullID, "error", err)
	}
	if err := s.blobs.DeletePrefix(ctx, oldLake+"/", 4); err != nil {
		s.log.Error("old storage prefix delete failed", "repo", oldFullID, "error", err)
	}

	return &updated, nil
}

// installRedirect records the repository's old location and clears any
// redirect the new location shadows.
func (s *Service) installRedirect(tx *gorm.DB, old, moved *model.Repository) error {
	if err := tx.Where("repo_type = ? AND namespace_norm = ? AND name_norm = ?",
		moved.RepoType, moved.NamespaceNorm, moved.NameNorm).
		Delete(&model.RepoRedirect{}).Error; err != nil {
		return err
	}
	redirect := redirectFor(old)
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "repo_type"}, {Name: "namespace_norm"}, {Name: "name_norm"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"repo_id"}),
	}).Create(redirect).Error
}

// repoScopedByFullID lists the tables keyed by repo_full_id alone. Rows in
// these tables must follow the repository across a rename; File and Commit
// are handled separately because their key includes repo_type.
func repoScopedByFullID() []any {
	return []any{&model.LFSObjectHistory{}, &model.StagingUpload{}}
}

// redirectFor builds the redirect row preserving a repository's current
// triple.
func redirectFor(repo *model.Repository) *model.RepoRedirect {
	return &model.RepoRedirect{
		RepoType:      repo.RepoType,
		NamespaceNorm: repo.NamespaceNorm,
		NameNorm:      repo.NameNorm,
		RepoID:        repo.ID,
	}
}

func sameOwner(a, b *namespace.Owner) bool {
	if a.IsOrg() != b.IsOrg() {
		return false
	}
	if a.IsOrg() {
		return a.Org.ID == b.Org.ID
	}
	return a.User.ID == b.User.ID
}

// rebuildLakeRepo recreates every branch tip of src under dst by re-linking
// physical addresses; no object bytes move.
func (s *Service) rebuildLakeRepo(ctx context.Context, src, dst string) error {
	storageNS := "s3://" + s.blobs.Bucket() + "/" + dst
	if err := s.lake.CreateRepository(ctx, dst, storageNS, commitpipe.DefaultBranch); err != nil {
		return fmt.Errorf("create target version store repo: %w", err)
	}

	branches, err := s.lake.ListBranches(ctx, src)
	if err != nil {
		return err
	}

	for _, branch := range branches {
		if branch.ID != commitpipe.DefaultBranch {
			if err := s.lake.CreateBranch(ctx, dst, branch.ID, commitpipe.DefaultBranch); err != nil &&
				!errors.Is(err, lakefs.ErrConflict) {
				return err
			}
		}

		objects, err := s.lake.ListAllObjects(ctx, src, branch.ID, "")
		if err != nil {
			return err
		}
		changed := false
		for _, obj := range objects {
			if obj.IsCommonPrefix() {
				continue
			}
			if err := s.lake.LinkPhysicalAddress(ctx, dst, branch.ID, obj.Path,
				obj.PhysicalAddress, obj.Checksum, obj.SizeBytes); err != nil {
				return fmt.Errorf("relink %s: %w", obj.Path, err)
			}
			changed = true
		}
		if changed {
			if _, err := s.lake.Commit(ctx, dst, branch.ID, "import "+branch.ID, nil); err != nil {
				return fmt.Errorf("commit rebuilt branch %s: %w", branch.ID, err)
			}
		}
	}
	return nil
}

// Squash collapses a branch's history into a single commit holding the
// current tip. Implemented as a rebuild: tip objects are re-linked onto a
// hard-reset branch root.
func (s *Service) Squash(ctx context.Context, repo *model.Repository, branch, message string) (string, error) {
	lakeRepo := s.LakeRepoName(repo)

	objects, err := s.lake.ListAllObjects(ctx, lakeRepo, branch, "")
	if err != nil {
		if errors.Is(err, lakefs.ErrRefNotFound) || errors.Is(err, lakefs.ErrNotFound) {
			return "", apperrors.RevisionNotFound(branch)
		}
		return "", err
	}

	tmp := branch + "-squash-tmp"
	if err := s.lake.DeleteBranch(ctx, lakeRepo, tmp); err != nil && !errors.Is(err, lakefs.ErrNotFound) {
		s.log.Warn("stale squash branch cleanup failed", "repo", repo.FullID, "error", err)
	}

	// Branch from the repository's root commit so the squash commit has no
	// meaningful history behind it.
	root, err := s.rootCommit(ctx, lakeRepo, branch)
	if err != nil {
		return "", err
	}

	if err := s.lake.CreateBranch(ctx, lakeRepo, tmp, root); err != nil {
		return "", fmt.Errorf("create squash branch: %w", err)
	}
	defer func() {
		if err := s.lake.DeleteBranch(context.WithoutCancel(ctx), lakeRepo, tmp); err != nil {
			s.log.Warn("squash branch cleanup failed", "repo", repo.FullID, "error", err)
		}
	}()

	for _, obj := range objects {
		if obj.IsCommonPrefix() {
			continue
		}
		if err := s.lake.LinkPhysicalAddress(ctx, lakeRepo, tmp, obj.Path,
			obj.PhysicalAddress, obj.Checksum, obj.SizeBytes); err != nil {
			return "", fmt.Errorf("relink %s: %w", obj.Path, err)
		}
	}

	if message == "" {
		message = "squash " + branch
	}
	squashed, err := s.lake.Commit(ctx, lakeRepo, tmp, message, nil)
	if err != nil {
		return "", fmt.Errorf("squash commit: %w", err)
	}

	if err := s.lake.HardReset(ctx, lakeRepo, branch, squashed.ID); err != nil {
		return "", fmt.Errorf("reset branch to squash commit: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("repo_full_id = ? AND repo_type = ? AND branch = ?",
			repo.FullID, repo.RepoType, branch).Delete(&model.Commit{}).Error; err != nil {
			return err
		}
		return tx.Create(&model.Commit{
			CommitID:   squashed.ID,
			RepoFullID: repo.FullID,
			RepoType:   repo.RepoType,
			Branch:     branch,
			Message:    message,
		}).Error
	})
	if err != nil {
		return "", fmt.Errorf("record squash: %w", err)
	}

	if branch == commitpipe.DefaultBranch {
		if err := s.gc.CollectRepo(ctx, repo.FullID); err != nil {
			s.log.Warn("post-squash gc failed", "repo", repo.FullID, "error", err)
		}
	}
	return squashed.ID, nil
}

// rootCommit walks the log of a branch to its first commit.
func (s *Service) rootCommit(ctx context.Context, lakeRepo, ref string) (string, error) {
	commits, err := s.lake.LogCommits(ctx, lakeRepo, ref, 0)
	if err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "", apperrors.RevisionNotFound(ref)
	}
	return commits[len(commits)-1].ID, nil
}

// UpdateSettings flips visibility or gating. A private/public flip moves the
// repository's usage between quota buckets.
func (s *Service) UpdateSettings(ctx context.Context, repo *model.Repository, owner *namespace.Owner,
	private, gated *bool) error {
	updates := map[string]any{}
	if gated != nil {
		updates["gated"] = *gated
	}

	visibilityFlip := private != nil && *private != repo.Private
	if visibilityFlip {
		updates["private"] = *private
	}
	if len(updates) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Repository{}).Where("id = ?", repo.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update settings: %w", err)
		}
		if visibilityFlip {
			var total int64
			if err := tx.Model(&model.File{}).
				Where("repo_full_id = ? AND repo_type = ?", repo.FullID, repo.RepoType).
				Select("COALESCE(SUM(size), 0)").Scan(&total).Error; err != nil {
				return err
			}
			if total != 0 {
				if err := s.quota.MoveBucket(ctx, tx, owner, total, *private); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// CreateBranch creates a branch from a source revision.
func (s *Service) CreateBranch(ctx context.Context, repo *model.Repository, branch, source string) error {
	if source == "" {
		source = commitpipe.DefaultBranch
	}
	err := s.lake.CreateBranch(ctx, s.LakeRepoName(repo), branch, source)
	switch {
	case errors.Is(err, lakefs.ErrConflict):
		return apperrors.Conflict("branch " + branch + " already exists")
	case errors.Is(err, lakefs.ErrNotFound), errors.Is(err, lakefs.ErrRefNotFound):
		return apperrors.RevisionNotFound(source)
	}
	return err
}

// DeleteBranch removes a branch. The default branch is protected.
func (s *Service) DeleteBranch(ctx context.Context, repo *model.Repository, branch string) error {
	if branch == commitpipe.DefaultBranch {
		return apperrors.BadRequest("cannot delete the default branch")
	}
	err := s.lake.DeleteBranch(ctx, s.LakeRepoName(repo), branch)
	if errors.Is(err, lakefs.ErrNotFound) || errors.Is(err, lakefs.ErrRefNotFound) {
		return apperrors.RevisionNotFound(branch)
	}
	return err
}

// CreateTag tags a revision.
func (s *Service) CreateTag(ctx context.Context, repo *model.Repository, tag, revision string) error {
	if revision == "" {
		revision = commitpipe.DefaultBranch
	}
	err := s.lake.CreateTag(ctx, s.LakeRepoName(repo), tag, revision)
	switch {
	case errors.Is(err, lakefs.ErrConflict):
		return apperrors.Conflict("tag " + tag + " already exists")
	case errors.Is(err, lakefs.ErrNotFound), errors.Is(err, lakefs.ErrRefNotFound):
		return apperrors.RevisionNotFound(revision)
	}
	return err
}

// DeleteTag removes a tag.
func (s *Service) DeleteTag(ctx context.Context, repo *model.Repository, tag string) error {
	err := s.lake.DeleteTag(ctx, s.LakeRepoName(repo), tag)
	if errors.Is(err, lakefs.ErrNotFound) || errors.Is(err, lakefs.ErrRefNotFound) {
		return apperrors.RevisionNotFound(tag)
	}
	return err
}

// isUniqueViolation detects a unique index conflict without depending on
// driver-specific error types.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
