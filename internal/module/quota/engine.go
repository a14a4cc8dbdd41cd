package quota

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/namespace"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/logger"
)

// Engine tracks per-namespace storage usage, split into private and public
// buckets. A nil quota means unlimited. Enforcement happens before bytes are
// committed; counters update atomically inside the commit transaction.
type Engine struct {
	db    *gorm.DB
	cache *usageCache
	log   *logger.Logger
}

// NewEngine creates a quota engine. The cache may be nil when Redis is not
// configured.
func NewEngine(db *gorm.DB, cache *usageCache, log *logger.Logger) *Engine {
	return &Engine{db: db, cache: cache, log: log}
}

// Usage is a namespace's storage accounting snapshot.
type Usage struct {
	PrivateUsedBytes  int64  `json:"private_used_bytes"`
	PrivateQuotaBytes *int64 `json:"private_quota_bytes"`
	PublicUsedBytes   int64  `json:"public_used_bytes"`
	PublicQuotaBytes  *int64 `json:"public_quota_bytes"`
}

// Available returns remaining bytes in a bucket; nil means unlimited.
func (u *Usage) Available(private bool) *int64 {
	var quota *int64
	var used int64
	if private {
		quota, used = u.PrivateQuotaBytes, u.PrivateUsedBytes
	} else {
		quota, used = u.PublicQuotaBytes, u.PublicUsedBytes
	}
	if quota == nil {
		return nil
	}
	avail := *quota - used
	if avail < 0 {
		avail = 0
	}
	return &avail
}

// checkDelta decides whether adding delta bytes to a bucket stays within
// quota. Negative and zero deltas always pass; shrinking is never blocked.
func checkDelta(used int64, quota *int64, delta int64) error {
	if delta <= 0 || quota == nil {
		return nil
	}
	if used+delta > *quota {
		return apperrors.QuotaExceeded(fmt.Sprintf(
			"storage quota exceeded: %d bytes used of %d, commit adds %d", used, *quota, delta))
	}
	return nil
}

// Check verifies that a pending commit's byte delta fits the owner's bucket.
func (e *Engine) Check(ctx context.Context, owner *namespace.Owner, private bool, delta int64) error {
	usage, err := e.load(ctx, e.db, owner)
	if err != nil {
		return err
	}
	if private {
		return checkDelta(usage.PrivateUsedBytes, usage.PrivateQuotaBytes, delta)
	}
	return checkDelta(usage.PublicUsedBytes, usage.PublicQuotaBytes, delta)
}

// Apply adjusts a bucket's used counter by delta inside tx. The update is a
// single SQL expression so concurrent commits cannot lose increments.
func (e *Engine) Apply(ctx context.Context, tx *gorm.DB, owner *namespace.Owner, private bool, delta int64) error {
	if delta == 0 {
		return nil
	}

	column := "public_used_bytes"
	if private {
		column = "private_used_bytes"
	}

	var err error
	if owner.IsOrg() {
		err = tx.WithContext(ctx).Model(&model.Organization{}).
			Where("id = ?", owner.Org.ID).
			UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
	} else {
		err = tx.WithContext(ctx).Model(&model.User{}).
			Where("id = ?", owner.User.ID).
			UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
	}
	if err != nil {
		return fmt.Errorf("apply quota delta: %w", err)
	}

	e.invalidate(ctx, owner)
	return nil
}

// MoveBucket shifts size bytes between the private and public buckets, for
// repository visibility flips. toPrivate=true moves public usage to private.
func (e *Engine) MoveBucket(ctx context.Context, tx *gorm.DB, owner *namespace.Owner, size int64, toPrivate bool) error {
	if size == 0 {
		return nil
	}
	if err := e.Apply(ctx, tx, owner, toPrivate, size); err != nil {
		return err
	}
	return e.Apply(ctx, tx, owner, !toPrivate, -size)
}

// Transfer moves usage between two owners during a repository move.
func (e *Engine) Transfer(ctx context.Context, tx *gorm.DB, from, to *namespace.Owner, private bool, size int64) error {
	if size == 0 {
		return nil
	}
	if err := e.Apply(ctx, tx, to, private, size); err != nil {
		return err
	}
	return e.Apply(ctx, tx, from, private, -size)
}

// GetUsage returns the owner's usage, via cache when available.
func (e *Engine) GetUsage(ctx context.Context, owner *namespace.Owner) (*Usage, error) {
	if e.cache != nil {
		if usage, ok := e.cache.get(ctx, cacheKey(owner)); ok {
			return usage, nil
		}
	}

	usage, err := e.load(ctx, e.db, owner)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.set(ctx, cacheKey(owner), usage)
	}
	return usage, nil
}

// Recompute rebuilds an owner's counters from the file table. The repair path
// for drift after partial failures; normal commits never call it.
func (e *Engine) Recompute(ctx context.Context, owner *namespace.Owner) (*Usage, error) {
	norm := namespace.Normalize(owner.Name())

	type row struct {
		Private bool
		Total   int64
	}
	var rows []row
	err := e.db.WithContext(ctx).
		Model(&model.File{}).
		Select("repositories.private AS private, COALESCE(SUM(files.size), 0) AS total").
		Joins("JOIN repositories ON repositories.full_id = files.repo_full_id AND repositories.repo_type = files.repo_type").
		Where("repositories.namespace_norm = ? AND repositories.deleted_at IS NULL", norm).
		Group("repositories.private").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recompute usage: %w", err)
	}

	var privateTotal, publicTotal int64
	for _, r := range rows {
		if r.Private {
			privateTotal = r.Total
		} else {
			publicTotal = r.Total
		}
	}

	updates := map[string]any{
		"private_used_bytes": privateTotal,
		"public_used_bytes":  publicTotal,
	}
	if owner.IsOrg() {
		err = e.db.WithContext(ctx).Model(&model.Organization{}).
			Where("id = ?", owner.Org.ID).Updates(updates).Error
	} else {
		err = e.db.WithContext(ctx).Model(&model.User{}).
			Where("id = ?", owner.User.ID).Updates(updates).Error
	}
	if err != nil {
		return nil, fmt.Errorf("store recomputed usage: %w", err)
	}

	e.invalidate(ctx, owner)
	return e.load(ctx, e.db, owner)
}

// SetQuota overwrites an owner's quota limits. Nil clears to unlimited.
func (e *Engine) SetQuota(ctx context.Context, owner *namespace.Owner, privateQuota, publicQuota *int64) error {
	updates := map[string]any{
		"private_quota_bytes": privateQuota,
		"public_quota_bytes":  publicQuota,
	}
	var err error
	if owner.IsOrg() {
		err = e.db.WithContext(ctx).Model(&model.Organization{}).
			Where("id = ?", owner.Org.ID).Updates(updates).Error
	} else {
		err = e.db.WithContext(ctx).Model(&model.User{}).
			Where("id = ?", owner.User.ID).Updates(updates).Error
	}
	if err != nil {
		return fmt.Errorf("set quota: %w", err)
	}
	e.invalidate(ctx, owner)
	return nil
}

func (e *Engine) load(ctx context.Context, db *gorm.DB, owner *namespace.Owner) (*Usage, error) {
	if owner.IsOrg() {
		var org model.Organization
		if err := db.WithContext(ctx).First(&org, owner.Org.ID).Error; err != nil {
			return nil, fmt.Errorf("load org usage: %w", err)
		}
		return &Usage{
			PrivateUsedBytes:  org.PrivateUsedBytes,
			PrivateQuotaBytes: org.PrivateQuotaBytes,
			PublicUsedBytes:   org.PublicUsedBytes,
			PublicQuotaBytes:  org.PublicQuotaBytes,
		}, nil
	}

	var user model.User
	if err := db.WithContext(ctx).First(&user, owner.User.ID).Error; err != nil {
		return nil, fmt.Errorf("load user usage: %w", err)
	}
	return &Usage{
		PrivateUsedBytes:  user.PrivateUsedBytes,
		PrivateQuotaBytes: user.PrivateQuotaBytes,
		PublicUsedBytes:   user.PublicUsedBytes,
		PublicQuotaBytes:  user.PublicQuotaBytes,
	}, nil
}

func (e *Engine) invalidate(ctx context.Context, owner *namespace.Owner) {
	if e.cache != nil {
		e.cache.del(ctx, cacheKey(owner))
	}
}

func cacheKey(owner *namespace.Owner) string {
	if owner.IsOrg() {
		return fmt.Sprintf("quota:org:%d", owner.Org.ID)
	}
	return fmt.Sprintf("quota:user:%d", owner.User.ID)
}
