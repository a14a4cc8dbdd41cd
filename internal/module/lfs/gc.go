package lfs

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/storage"
	"github.com/kohakuhub/server/internal/shared/logger"
	"github.com/kohakuhub/server/internal/shared/metrics"
)

// Collector prunes LFS history and reclaims unreferenced blobs. A blob is
// deleted only when, after pruning, no history row and no tip file anywhere
// still references its oid; content addressing makes cross-repo sharing
// possible, so the reference check is always global.
type Collector struct {
	db      *gorm.DB
	blobs   blobStore
	keep    int
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewCollector creates the garbage collector. keep is the number of distinct
// versions retained per path.
func NewCollector(db *gorm.DB, blobs blobStore, keep int, m *metrics.Metrics, log *logger.Logger) *Collector {
	if keep < 1 {
		keep = 1
	}
	return &Collector{db: db, blobs: blobs, keep: keep, metrics: m, log: log}
}

// CollectRepo prunes each path of a repository down to the newest keep
// distinct versions, then reclaims blobs nothing references. Safe to run
// repeatedly; a second pass finds nothing to do.
func (c *Collector) CollectRepo(ctx context.Context, repoFullID string) error {
	groups, err := c.pathGroups(ctx, repoFullID)
	if err != nil {
		return err
	}

	candidates := make(map[string]struct{})
	for path, shas := range groups {
		if len(shas) <= c.keep {
			continue
		}
		for _, sha := range shas[c.keep:] {
			err := c.db.WithContext(ctx).
				Where("repo_full_id = ? AND path_in_repo = ? AND sha256 = ?", repoFullID, path, sha).
				Delete(&model.LFSObjectHistory{}).Error
			if err != nil {
				return fmt.Errorf("prune history %s %s: %w", path, sha, err)
			}
			candidates[sha] = struct{}{}
		}
	}

	return c.reclaim(ctx, candidates)
}

// PurgeRepo removes every LFS trace of a repository and reclaims blobs that
// became orphaned. Called by repository deletion.
func (c *Collector) PurgeRepo(ctx context.Context, repoFullID string) error {
	var shas []string
	err := c.db.WithContext(ctx).Model(&model.LFSObjectHistory{}).
		Where("repo_full_id = ?", repoFullID).
		Distinct("sha256").Pluck("sha256", &shas).Error
	if err != nil {
		return fmt.Errorf("list repo lfs history: %w", err)
	}

	err = c.db.WithContext(ctx).
		Where("repo_full_id = ?", repoFullID).
		Delete(&model.LFSObjectHistory{}).Error
	if err != nil {
		return fmt.Errorf("purge repo lfs history: %w", err)
	}

	candidates := make(map[string]struct{}, len(shas))
	for _, sha := range shas {
		candidates[sha] = struct{}{}
	}
	return c.reclaim(ctx, candidates)
}

// pathGroups returns, per path, the distinct oids newest-first.
func (c *Collector) pathGroups(ctx context.Context, repoFullID string) (map[string][]string, error) {
	var rows []model.LFSObjectHistory
	err := c.db.WithContext(ctx).
		Where("repo_full_id = ?", repoFullID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load lfs history: %w", err)
	}

	return groupNewestDistinct(rows), nil
}

// groupNewestDistinct collapses newest-first history rows into per-path lists
// of distinct oids, preserving recency order.
func groupNewestDistinct(rows []model.LFSObjectHistory) map[string][]string {
	groups := make(map[string][]string)
	seen := make(map[string]map[string]bool)
	for _, row := range rows {
		if seen[row.PathInRepo] == nil {
			seen[row.PathInRepo] = make(map[string]bool)
		}
		if seen[row.PathInRepo][row.SHA256] {
			continue
		}
		seen[row.PathInRepo][row.SHA256] = true
		groups[row.PathInRepo] = append(groups[row.PathInRepo], row.SHA256)
	}
	return groups
}

// reclaim deletes each candidate blob that has no remaining reference.
func (c *Collector) reclaim(ctx context.Context, candidates map[string]struct{}) error {
	for sha := range candidates {
		referenced, err := c.isReferenced(ctx, sha)
		if err != nil {
			return err
		}
		if referenced {
			continue
		}

		key := storage.LFSKey(sha)
		info, err := c.blobs.Head(ctx, key)
		size := int64(0)
		if err == nil {
			size = info.Size
		}

		if err := c.blobs.Delete(ctx, key); err != nil {
			c.log.Warn("blob delete failed, will retry next cycle", "oid", sha, "error", err)
			continue
		}

		c.metrics.GCObjects.Inc()
		if size > 0 {
			c.metrics.GCBytes.Add(float64(size))
		}
		c.log.Info("reclaimed lfs blob", "oid", sha, "size", size)
	}
	return nil
}

func (c *Collector) isReferenced(ctx context.Context, sha string) (bool, error) {
	var count int64
	err := c.db.WithContext(ctx).Model(&model.LFSObjectHistory{}).
		Where("sha256 = ?", sha).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count history refs: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	err = c.db.WithContext(ctx).Model(&model.File{}).
		Where("sha256 = ? AND lfs = ?", sha, true).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count file refs: %w", err)
	}
	return count > 0, nil
}
