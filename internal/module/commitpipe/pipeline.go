package commitpipe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/lakefs"
	"github.com/kohakuhub/server/internal/module/namespace"
	"github.com/kohakuhub/server/internal/module/quota"
	"github.com/kohakuhub/server/internal/module/storage"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/logger"
	"github.com/kohakuhub/server/internal/shared/metrics"
)

// DefaultBranch is the branch whose tip feeds the file table and quota
// counters. Commits to other branches are versioned but not accounted.
const DefaultBranch = "main"

const commitWorkers = 8

// versionStore is the slice of the version store client the pipeline uses.
type versionStore interface {
	GetBranch(ctx context.Context, repo, name string) (*lakefs.Ref, error)
	UploadObject(ctx context.Context, repo, branch, path string, content []byte) error
	LinkPhysicalAddress(ctx context.Context, repo, branch, path, physicalAddress, checksum string, size int64) error
	DeleteObject(ctx context.Context, repo, branch, path string) error
	ListAllObjects(ctx context.Context, repo, ref, prefix string) ([]lakefs.ObjectStats, error)
	StatObject(ctx context.Context, repo, ref, path string) (*lakefs.ObjectStats, error)
	Commit(ctx context.Context, repo, branch, message string, metadata map[string]string) (*lakefs.CommitRecord, error)
	ResetStaging(ctx context.Context, repo, branch string) error
}

// blobStore is the slice of the storage gateway the pipeline uses.
type blobStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	S3URI(key string) string
}

// Pipeline applies commit operations: staging in the version store, one
// version store commit, then one metadata transaction.
type Pipeline struct {
	db              *gorm.DB
	store           versionStore
	blobs           blobStore
	quota           *quota.Engine
	metrics         *metrics.Metrics
	inlineThreshold int64
	baseURL         string
	log             *logger.Logger

	// ScheduleGC, when set, is invoked after a default-branch commit that
	// replaced LFS objects. Wired by the application to the LFS collector.
	ScheduleGC func(repoFullID string, repoType model.RepoType)
}

// New creates a commit pipeline.
func New(db *gorm.DB, store versionStore, blobs blobStore, quotaEngine *quota.Engine,
	m *metrics.Metrics, inlineThreshold int64, baseURL string, log *logger.Logger) *Pipeline {
	return &Pipeline{
		db:              db,
		store:           store,
		blobs:           blobs,
		quota:           quotaEngine,
		metrics:         m,
		inlineThreshold: inlineThreshold,
		baseURL:         baseURL,
		log:             log,
	}
}

// Request is one commit to apply.
type Request struct {
	Repo     *model.Repository
	Owner    *namespace.Owner
	Identity *namespace.Identity
	Branch   string
	Header   *Header
	Ops      []Operation
	LakeRepo string // version store repository name
}

// Result reports the applied commit.
type Result struct {
	CommitID  string
	CommitURL string
	Delta     int64
}

// entry is the resolved post-commit state of one path.
type entry struct {
	path   string
	size   int64
	sha256 string
	lfs    bool
}

// Commit runs the full pipeline. On staging or commit failure the branch's
// uncommitted changes are reset best-effort, so a retry starts clean.
func (p *Pipeline) Commit(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Ops) == 0 {
		return nil, apperrors.BadRequest("commit has no operations")
	}

	if _, err := p.store.GetBranch(ctx, req.LakeRepo, req.Branch); err != nil {
		if errors.Is(err, lakefs.ErrRefNotFound) || errors.Is(err, lakefs.ErrNotFound) {
			return nil, apperrors.RevisionNotFound(req.Branch)
		}
		return nil, fmt.Errorf("resolve branch: %w", err)
	}

	plan, err := p.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	accounted := req.Branch == DefaultBranch
	if accounted {
		if err := p.quota.Check(ctx, req.Owner, req.Repo.Private, plan.delta); err != nil {
			if errors.Is(err, apperrors.ErrQuotaExceeded) {
				p.metrics.QuotaDenials.Inc()
				p.metrics.CommitsTotal.WithLabelValues(string(req.Repo.RepoType), "quota_denied").Inc()
			}
			return nil, err
		}
	}

	if err := p.stage(ctx, req, plan); err != nil {
		if resetErr := p.store.ResetStaging(context.WithoutCancel(ctx), req.LakeRepo, req.Branch); resetErr != nil {
			p.log.Warn("staging reset failed", "repo", req.LakeRepo, "branch", req.Branch, "error", resetErr)
		}
		p.metrics.CommitsTotal.WithLabelValues(string(req.Repo.RepoType), "error").Inc()
		return nil, err
	}

	message := req.Header.Summary
	metadata := map[string]string{"author": req.Identity.Username()}
	if req.Header.Description != "" {
		metadata["description"] = req.Header.Description
	}

	commit, err := p.store.Commit(ctx, req.LakeRepo, req.Branch, message, metadata)
	if err != nil {
		if resetErr := p.store.ResetStaging(context.WithoutCancel(ctx), req.LakeRepo, req.Branch); resetErr != nil {
			p.log.Warn("staging reset failed", "repo", req.LakeRepo, "branch", req.Branch, "error", resetErr)
		}
		p.metrics.CommitsTotal.WithLabelValues(string(req.Repo.RepoType), "error").Inc()
		if errors.Is(err, lakefs.ErrConflict) {
			return nil, apperrors.Conflict("concurrent commit on branch " + req.Branch)
		}
		return nil, fmt.Errorf("version store commit: %w", err)
	}

	if err := p.record(ctx, req, plan, commit.ID, accounted); err != nil {
		// The version store commit landed; metadata is now behind. Surface the
		// commit anyway and let Recompute repair the counters.
		p.log.Error("metadata record failed after commit", "repo", req.Repo.FullID, "commit", commit.ID, "error", err)
	}

	p.metrics.CommitsTotal.WithLabelValues(string(req.Repo.RepoType), "ok").Inc()
	if plan.delta > 0 {
		p.metrics.CommitBytes.Add(float64(plan.delta))
	}
	if accounted && plan.replacedLFS && p.ScheduleGC != nil {
		p.ScheduleGC(req.Repo.FullID, req.Repo.RepoType)
	}

	return &Result{
		CommitID:  commit.ID,
		CommitURL: fmt.Sprintf("%s/%s/%s/commit/%s", p.baseURL, req.Repo.RepoType.Plural(), req.Repo.FullID, commit.ID),
		Delta:     plan.delta,
	}, nil
}

// plan is the pre-staging resolution of a commit: net byte delta, the new
// tip entries, and the paths to remove from the file table.
type plan struct {
	delta       int64
	upserts     []entry
	deletePaths []string
	lfsHistory  []entry
	replacedLFS bool
	folderOps   map[string][]string // folder prefix -> paths to delete in the store
	unchanged   map[string]bool     // inline paths identical to the tip; not staged
}

// tipState is the accounted tip of a repository, keyed by path.
type tipState struct {
	sizes map[string]int64
	lfs   map[string]bool
	shas  map[string]string
}

// resolve validates operations against current state and computes the byte
// delta before anything is staged.
func (p *Pipeline) resolve(ctx context.Context, req *Request) (*plan, error) {
	tip, err := p.loadTip(ctx, req.Repo)
	if err != nil {
		return nil, err
	}
	return p.resolveOps(ctx, req, tip)
}

func (p *Pipeline) resolveOps(ctx context.Context, req *Request, tip *tipState) (*plan, error) {
	pl := &plan{
		folderOps: make(map[string][]string),
		unchanged: make(map[string]bool),
	}

	for _, op := range req.Ops {
		switch o := op.(type) {
		case *FileOp:
			if int64(len(o.Content)) > p.inlineThreshold {
				return nil, apperrors.BadRequest(fmt.Sprintf(
					"%s exceeds the inline limit; upload it through LFS", o.Dest))
			}
			sum := sha256.Sum256(o.Content)
			e := entry{path: o.Dest, size: int64(len(o.Content)), sha256: hex.EncodeToString(sum[:])}
			if size, known := tip.sizes[o.Dest]; known && size == e.size && tip.shas[o.Dest] == e.sha256 {
				// Identical to the tip row; replaying the commit changes nothing.
				pl.unchanged[o.Dest] = true
				continue
			}
			pl.delta += e.size - tip.sizes[o.Dest]
			if tip.lfs[o.Dest] {
				pl.replacedLFS = true
			}
			pl.upserts = append(pl.upserts, e)

		case *LFSFileOp:
			ok, err := p.blobs.Exists(ctx, storage.LFSKey(o.OID))
			if err != nil {
				return nil, fmt.Errorf("check lfs object %s: %w", o.OID, err)
			}
			if !ok {
				return nil, apperrors.BadRequest(fmt.Sprintf(
					"LFS object %s for %s has not been uploaded", o.OID, o.Dest))
			}
			e := entry{path: o.Dest, size: o.Size, sha256: o.OID, lfs: true}
			pl.delta += e.size - tip.sizes[o.Dest]
			if tip.lfs[o.Dest] && tip.sizes[o.Dest] > 0 {
				pl.replacedLFS = true
			}
			pl.upserts = append(pl.upserts, e)
			pl.lfsHistory = append(pl.lfsHistory, e)

		case *DeleteFileOp:
			size, known := tip.sizes[o.Dest]
			if !known {
				// Not on the accounted tip; still forward the delete to the
				// version store for non-default branches.
				pl.deletePaths = append(pl.deletePaths, o.Dest)
				continue
			}
			pl.delta -= size
			if tip.lfs[o.Dest] {
				pl.replacedLFS = true
			}
			pl.deletePaths = append(pl.deletePaths, o.Dest)

		case *DeleteFolderOp:
			prefix := o.Dest + "/"
			objects, err := p.store.ListAllObjects(ctx, req.LakeRepo, req.Branch, prefix)
			if err != nil {
				return nil, fmt.Errorf("list folder %s: %w", o.Dest, err)
			}
			if len(objects) == 0 {
				// Deleting an absent folder succeeds; there is nothing to undo.
				continue
			}
			var paths []string
			for _, obj := range objects {
				paths = append(paths, obj.Path)
				if size, known := tip.sizes[obj.Path]; known {
					pl.delta -= size
					if tip.lfs[obj.Path] {
						pl.replacedLFS = true
					}
				}
				pl.deletePaths = append(pl.deletePaths, obj.Path)
			}
			pl.folderOps[o.Dest] = paths

		case *CopyFileOp:
			srcRev := o.SrcRevision
			if srcRev == "" {
				srcRev = req.Branch
			}
			stats, err := p.store.StatObject(ctx, req.LakeRepo, srcRev, o.SrcPath)
			if err != nil {
				if errors.Is(err, lakefs.ErrNotFound) || errors.Is(err, lakefs.ErrRefNotFound) {
					return nil, apperrors.EntryNotFound(o.SrcPath)
				}
				return nil, fmt.Errorf("stat copy source %s: %w", o.SrcPath, err)
			}
			e := entry{path: o.Dest, size: stats.SizeBytes}
			if oid := storage.OIDFromKey(stats.PhysicalAddress); oid != "" {
				e.lfs = true
				e.sha256 = oid
				pl.lfsHistory = append(pl.lfsHistory, e)
			}
			pl.delta += e.size - tip.sizes[o.Dest]
			if tip.lfs[o.Dest] {
				pl.replacedLFS = true
			}
			pl.upserts = append(pl.upserts, e)
		}
	}

	return pl, nil
}

// loadTip loads current sizes, content hashes and LFS flags for the repo's
// accounted tip.
func (p *Pipeline) loadTip(ctx context.Context, repo *model.Repository) (*tipState, error) {
	var files []model.File
	err := p.db.WithContext(ctx).
		Where("repo_full_id = ? AND repo_type = ?", repo.FullID, repo.RepoType).
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("load file tip: %w", err)
	}

	tip := &tipState{
		sizes: make(map[string]int64, len(files)),
		lfs:   make(map[string]bool, len(files)),
		shas:  make(map[string]string, len(files)),
	}
	for _, f := range files {
		tip.sizes[f.PathInRepo] = f.Size
		tip.lfs[f.PathInRepo] = f.LFS
		tip.shas[f.PathInRepo] = f.SHA256
	}
	return tip, nil
}

// stage applies operations to the branch's staging area. Work is partitioned
// by destination path hash so ops on the same path keep their order while
// distinct paths proceed in parallel.
func (p *Pipeline) stage(ctx context.Context, req *Request, pl *plan) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queues := make([]chan Operation, commitWorkers)
	for i := range queues {
		queues[i] = make(chan Operation, 4)
	}

	var wg sync.WaitGroup
	errOnce := sync.Once{}
	var firstErr error
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < commitWorkers; i++ {
		wg.Add(1)
		go func(queue <-chan Operation) {
			defer wg.Done()
			for op := range queue {
				if ctx.Err() != nil {
					continue
				}
				if err := p.applyOp(ctx, req, pl, op); err != nil {
					fail(err)
				}
			}
		}(queues[i])
	}

dispatch:
	for _, op := range req.Ops {
		select {
		case <-ctx.Done():
			break dispatch
		case queues[partition(op.Path())] <- op:
		}
	}
	for _, q := range queues {
		close(q)
	}
	wg.Wait()

	return firstErr
}

func (p *Pipeline) applyOp(ctx context.Context, req *Request, pl *plan, op Operation) error {
	switch o := op.(type) {
	case *FileOp:
		if pl.unchanged[o.Dest] {
			return nil
		}
		if err := p.store.UploadObject(ctx, req.LakeRepo, req.Branch, o.Dest, o.Content); err != nil {
			return fmt.Errorf("upload %s: %w", o.Dest, err)
		}

	case *LFSFileOp:
		addr := p.blobs.S3URI(storage.LFSKey(o.OID))
		if err := p.store.LinkPhysicalAddress(ctx, req.LakeRepo, req.Branch, o.Dest, addr, o.OID, o.Size); err != nil {
			return fmt.Errorf("link %s: %w", o.Dest, err)
		}

	case *DeleteFileOp:
		if err := p.store.DeleteObject(ctx, req.LakeRepo, req.Branch, o.Dest); err != nil {
			return fmt.Errorf("delete %s: %w", o.Dest, err)
		}

	case *DeleteFolderOp:
		for _, path := range pl.folderOps[o.Dest] {
			if err := p.store.DeleteObject(ctx, req.LakeRepo, req.Branch, path); err != nil {
				return fmt.Errorf("delete %s: %w", path, err)
			}
		}

	case *CopyFileOp:
		srcRev := o.SrcRevision
		if srcRev == "" {
			srcRev = req.Branch
		}
		stats, err := p.store.StatObject(ctx, req.LakeRepo, srcRev, o.SrcPath)
		if err != nil {
			return fmt.Errorf("stat copy source %s: %w", o.SrcPath, err)
		}
		if err := p.store.LinkPhysicalAddress(ctx, req.LakeRepo, req.Branch, o.Dest,
			stats.PhysicalAddress, stats.Checksum, stats.SizeBytes); err != nil {
			return fmt.Errorf("copy to %s: %w", o.Dest, err)
		}
	}
	return nil
}

// record writes the metadata transaction for a landed commit.
func (p *Pipeline) record(ctx context.Context, req *Request, pl *plan, commitID string, accounted bool) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &model.Commit{
			CommitID:    commitID,
			RepoFullID:  req.Repo.FullID,
			RepoType:    req.Repo.RepoType,
			Branch:      req.Branch,
			Username:    req.Identity.Username(),
			Message:     req.Header.Summary,
			Description: req.Header.Description,
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("record commit: %w", err)
		}

		for _, e := range pl.lfsHistory {
			hist := &model.LFSObjectHistory{
				RepoFullID: req.Repo.FullID,
				PathInRepo: e.path,
				SHA256:     e.sha256,
				Size:       e.size,
				CommitID:   commitID,
			}
			if err := tx.Create(hist).Error; err != nil {
				return fmt.Errorf("record lfs history: %w", err)
			}
		}

		if !accounted {
			return nil
		}

		for _, e := range pl.upserts {
			file := &model.File{
				RepoFullID: req.Repo.FullID,
				RepoType:   req.Repo.RepoType,
				PathInRepo: e.path,
				Size:       e.size,
				SHA256:     e.sha256,
				LFS:        e.lfs,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "repo_full_id"}, {Name: "repo_type"}, {Name: "path_in_repo"},
				},
				DoUpdates: clause.AssignmentColumns([]string{"size", "sha256", "lfs", "updated_at"}),
			}).Create(file).Error
			if err != nil {
				return fmt.Errorf("upsert file %s: %w", e.path, err)
			}
		}

		if len(pl.deletePaths) > 0 {
			err := tx.Where("repo_full_id = ? AND repo_type = ? AND path_in_repo IN ?",
				req.Repo.FullID, req.Repo.RepoType, pl.deletePaths).
				Delete(&model.File{}).Error
			if err != nil {
				return fmt.Errorf("delete file rows: %w", err)
			}
		}

		if pl.delta != 0 {
			if err := p.quota.Apply(ctx, tx, req.Owner, req.Repo.Private, pl.delta); err != nil {
				return err
			}
		}
		return nil
	})
}

func partition(path string) int {
	if path == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	return int(h.Sum32() % commitWorkers)
}

// NormalizeRevision maps an empty or URL-encoded revision to a branch name.
func NormalizeRevision(rev string) string {
	if rev == "" {
		return DefaultBranch
	}
	return strings.ReplaceAll(rev, "%2F", "/")
}
