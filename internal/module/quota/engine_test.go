package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/namespace"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
)

func ptr(v int64) *int64 { return &v }

func TestCheckDelta(t *testing.T) {
	tests := []struct {
		name    string
		used    int64
		quota   *int64
		delta   int64
		wantErr bool
	}{
		{"unlimited_quota", 1 << 40, nil, 1 << 30, false},
		{"fits_exactly", 900, ptr(1000), 100, false},
		{"exceeds_by_one", 900, ptr(1000), 101, true},
		{"zero_delta_always_passes", 2000, ptr(1000), 0, false},
		{"negative_delta_always_passes", 2000, ptr(1000), -500, false},
		{"already_over_but_shrinking", 2000, ptr(1000), -1, false},
		{"zero_quota_blocks_any_growth", 0, ptr(0), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkDelta(tt.used, tt.quota, tt.delta)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUsage_Available(t *testing.T) {
	usage := &Usage{
		PrivateUsedBytes:  300,
		PrivateQuotaBytes: ptr(1000),
		PublicUsedBytes:   50,
	}

	t.Run("bounded_bucket", func(t *testing.T) {
		avail := usage.Available(true)
		assert.NotNil(t, avail)
		assert.Equal(t, int64(700), *avail)
	})

	t.Run("unlimited_bucket", func(t *testing.T) {
		assert.Nil(t, usage.Available(false))
	})

	t.Run("overcommitted_clamps_to_zero", func(t *testing.T) {
		over := &Usage{PrivateUsedBytes: 1500, PrivateQuotaBytes: ptr(1000)}
		avail := over.Available(true)
		assert.Equal(t, int64(0), *avail)
	})
}

func TestCacheKey(t *testing.T) {
	user := &namespace.Owner{User: &model.User{ID: 42}}
	org := &namespace.Owner{Org: &model.Organization{ID: 7}}

	assert.Equal(t, "quota:user:42", cacheKey(user))
	assert.Equal(t, "quota:org:7", cacheKey(org))
}
