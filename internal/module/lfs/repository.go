package lfs

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kohakuhub/server/internal/model"
)

// stagingRepo persists in-flight upload bookkeeping.
type stagingRepo interface {
	Track(ctx context.Context, row *model.StagingUpload) error
	ClearByOID(ctx context.Context, oid string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type gormStagingRepo struct {
	db *gorm.DB
}

// NewStagingRepo creates the gorm-backed staging repository.
func NewStagingRepo(db *gorm.DB) stagingRepo {
	return &gormStagingRepo{db: db}
}

func (r *gormStagingRepo) Track(ctx context.Context, row *model.StagingUpload) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *gormStagingRepo) ClearByOID(ctx context.Context, oid string) error {
	return r.db.WithContext(ctx).Where("sha256 = ?", oid).Delete(&model.StagingUpload{}).Error
}

func (r *gormStagingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.StagingUpload{})
	if result.Error != nil {
		return 0, fmt.Errorf("sweep staging: %w", result.Error)
	}
	return result.RowsAffected, nil
}
