package lfs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/storage"
	"github.com/kohakuhub/server/internal/shared/config"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/logger"
	"github.com/kohakuhub/server/internal/shared/metrics"
)

type mockBlobStore struct {
	mock.Mock
}

func (m *mockBlobStore) Head(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.ObjectInfo), args.Error(1)
}

func (m *mockBlobStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockBlobStore) PresignPut(ctx context.Context, key string, size int64, expiry time.Duration) (*storage.PresignedURL, error) {
	args := m.Called(ctx, key, size, expiry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.PresignedURL), args.Error(1)
}

func (m *mockBlobStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (*storage.PresignedURL, error) {
	args := m.Called(ctx, key, expiry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.PresignedURL), args.Error(1)
}

type mockStaging struct {
	mock.Mock
}

func (m *mockStaging) Track(ctx context.Context, row *model.StagingUpload) error {
	return m.Called(ctx, row).Error(0)
}

func (m *mockStaging) ClearByOID(ctx context.Context, oid string) error {
	return m.Called(ctx, oid).Error(0)
}

func (m *mockStaging) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func testConfig() *config.LFSConfig {
	return &config.LFSConfig{
		InlineThresholdBytes: 10 * 1024 * 1024,
		HistoryKeep:          5,
		UploadExpiry:         15 * time.Minute,
		DownloadExpiry:       time.Hour,
	}
}

func newTestService(blobs blobStore, staging stagingRepo) *Service {
	return NewService(staging, blobs, testConfig(),
		metrics.New(prometheus.NewRegistry()), logger.New(nil))
}

var testOID = strings.Repeat("ab", 32)

func testRepo() *model.Repository {
	return &model.Repository{
		RepoType: model.RepoTypeModel,
		FullID:   "alice/bert",
	}
}

func TestService_Batch_Upload(t *testing.T) {
	t.Run("missing_object_gets_upload_and_verify_actions", func(t *testing.T) {
		blobs := new(mockBlobStore)
		staging := new(mockStaging)
		svc := newTestService(blobs, staging)

		key := storage.LFSKey(testOID)
		blobs.On("Head", mock.Anything, key).Return(nil, storage.ErrObjectNotFound)
		blobs.On("PresignPut", mock.Anything, key, int64(100), 15*time.Minute).
			Return(&storage.PresignedURL{URL: "https://s3/put", Method: "PUT"}, nil)
		staging.On("Track", mock.Anything, mock.Anything).Return(nil)

		resp, err := svc.Batch(context.Background(), testRepo(), &BatchRequest{
			Operation: "upload",
			Objects:   []BatchObject{{OID: testOID, Size: 100}},
		}, "http://hub/api/models/alice/bert.git/info/lfs")

		require.NoError(t, err)
		require.Len(t, resp.Objects, 1)
		obj := resp.Objects[0]
		require.NotNil(t, obj.Actions)
		assert.Equal(t, "https://s3/put", obj.Actions["upload"].HREF)
		assert.Equal(t, "http://hub/api/models/alice/bert.git/info/lfs/verify", obj.Actions["verify"].HREF)
		staging.AssertCalled(t, "Track", mock.Anything, mock.Anything)
	})

	t.Run("existing_object_deduplicated", func(t *testing.T) {
		blobs := new(mockBlobStore)
		staging := new(mockStaging)
		svc := newTestService(blobs, staging)

		blobs.On("Head", mock.Anything, storage.LFSKey(testOID)).
			Return(&storage.ObjectInfo{Size: 100}, nil)

		resp, err := svc.Batch(context.Background(), testRepo(), &BatchRequest{
			Operation: "upload",
			Objects:   []BatchObject{{OID: testOID, Size: 100}},
		}, "http://hub")

		require.NoError(t, err)
		obj := resp.Objects[0]
		assert.Nil(t, obj.Actions, "dedup hit must carry no actions")
		assert.Nil(t, obj.Error)
		blobs.AssertNotCalled(t, "PresignPut", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("stored_size_mismatch_re_presigns_upload", func(t *testing.T) {
		blobs := new(mockBlobStore)
		staging := new(mockStaging)
		svc := newTestService(blobs, staging)

		key := storage.LFSKey(testOID)
		blobs.On("Head", mock.Anything, key).
			Return(&storage.ObjectInfo{Size: 37}, nil)
		blobs.On("PresignPut", mock.Anything, key, int64(100), 15*time.Minute).
			Return(&storage.PresignedURL{URL: "https://s3/put", Method: "PUT"}, nil)
		staging.On("Track", mock.Anything, mock.Anything).Return(nil)

		resp, err := svc.Batch(context.Background(), testRepo(), &BatchRequest{
			Operation: "upload",
			Objects:   []BatchObject{{OID: testOID, Size: 100}},
		}, "http://hub")

		require.NoError(t, err)
		obj := resp.Objects[0]
		require.NotNil(t, obj.Actions, "truncated blob must be re-uploaded")
		assert.Equal(t, "https://s3/put", obj.Actions["upload"].HREF)
	})

	t.Run("invalid_oid_is_per_object_error", func(t *testing.T) {
		svc := newTestService(new(mockBlobStore), new(mockStaging))

		resp, err := svc.Batch(context.Background(), testRepo(), &BatchRequest{
			Operation: "upload",
			Objects:   []BatchObject{{OID: "nope", Size: 1}},
		}, "http://hub")

		require.NoError(t, err)
		require.NotNil(t, resp.Objects[0].Error)
		assert.Equal(t, 422, resp.Objects[0].Error.Code)
	})
}

func TestService_Batch_Download(t *testing.T) {
	t.Run("existing_object_presigned", func(t *testing.T) {
		blobs := new(mockBlobStore)
		svc := newTestService(blobs, new(mockStaging))

		key := storage.LFSKey(testOID)
		blobs.On("Head", mock.Anything, key).Return(&storage.ObjectInfo{Key: key, Size: 100}, nil)
		blobs.On("PresignGet", mock.Anything, key, time.Hour).
			Return(&storage.PresignedURL{URL: "https://s3/get"}, nil)

		resp, err := svc.Batch(context.Background(), testRepo(), &BatchRequest{
			Operation: "download",
			Objects:   []BatchObject{{OID: testOID, Size: 100}},
		}, "http://hub")

		require.NoError(t, err)
		assert.Equal(t, "https://s3/get", resp.Objects[0].Actions["download"].HREF)
	})

	t.Run("missing_object_404", func(t *testing.T) {
		blobs := new(mockBlobStore)
		svc := newTestService(blobs, new(mockStaging))

		blobs.On("Head", mock.Anything, mock.Anything).Return(nil, storage.ErrObjectNotFound)

		resp, err := svc.Batch(context.Background(), testRepo(), &BatchRequest{
			Operation: "download",
			Objects:   []BatchObject{{OID: testOID, Size: 100}},
		}, "http://hub")

		require.NoError(t, err)
		require.NotNil(t, resp.Objects[0].Error)
		assert.Equal(t, 404, resp.Objects[0].Error.Code)
	})

	t.Run("size_mismatch_422", func(t *testing.T) {
		blobs := new(mockBlobStore)
		svc := newTestService(blobs, new(mockStaging))

		blobs.On("Head", mock.Anything, mock.Anything).
			Return(&storage.ObjectInfo{Size: 999}, nil)

		resp, err := svc.Batch(context.Background(), testRepo(), &BatchRequest{
			Operation: "download",
			Objects:   []BatchObject{{OID: testOID, Size: 100}},
		}, "http://hub")

		require.NoError(t, err)
		require.NotNil(t, resp.Objects[0].Error)
		assert.Equal(t, 422, resp.Objects[0].Error.Code)
	})
}

func TestService_Batch_Validation(t *testing.T) {
	svc := newTestService(new(mockBlobStore), new(mockStaging))
	ctx := context.Background()

	_, err := svc.Batch(ctx, testRepo(), &BatchRequest{Operation: "delete"}, "")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.Batch(ctx, testRepo(), &BatchRequest{Operation: "upload"}, "")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.Batch(ctx, testRepo(), &BatchRequest{Operation: "upload", HashAlgo: "md5",
		Objects: []BatchObject{{OID: testOID, Size: 1}}}, "")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	big := make([]BatchObject, maxBatchObjects+1)
	for i := range big {
		big[i] = BatchObject{OID: testOID, Size: 1}
	}
	_, err = svc.Batch(ctx, testRepo(), &BatchRequest{Operation: "upload", Objects: big}, "")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestService_Verify(t *testing.T) {
	t.Run("matching_size_clears_staging", func(t *testing.T) {
		blobs := new(mockBlobStore)
		staging := new(mockStaging)
		svc := newTestService(blobs, staging)

		blobs.On("Head", mock.Anything, storage.LFSKey(testOID)).
			Return(&storage.ObjectInfo{Size: 100}, nil)
		staging.On("ClearByOID", mock.Anything, testOID).Return(nil)

		err := svc.Verify(context.Background(), &VerifyRequest{OID: testOID, Size: 100})
		require.NoError(t, err)
		staging.AssertCalled(t, "ClearByOID", mock.Anything, testOID)
	})

	t.Run("missing_blob_not_found", func(t *testing.T) {
		blobs := new(mockBlobStore)
		svc := newTestService(blobs, new(mockStaging))

		blobs.On("Head", mock.Anything, mock.Anything).Return(nil, storage.ErrObjectNotFound)

		err := svc.Verify(context.Background(), &VerifyRequest{OID: testOID, Size: 100})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("size_mismatch_rejected", func(t *testing.T) {
		blobs := new(mockBlobStore)
		svc := newTestService(blobs, new(mockStaging))

		blobs.On("Head", mock.Anything, mock.Anything).
			Return(&storage.ObjectInfo{Size: 5}, nil)

		err := svc.Verify(context.Background(), &VerifyRequest{OID: testOID, Size: 100})
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	})
}

func TestGroupNewestDistinct(t *testing.T) {
	rows := []model.LFSObjectHistory{
		{PathInRepo: "model.bin", SHA256: "c"},
		{PathInRepo: "model.bin", SHA256: "b"},
		{PathInRepo: "model.bin", SHA256: "c"}, // older duplicate of c
		{PathInRepo: "model.bin", SHA256: "a"},
		{PathInRepo: "other.bin", SHA256: "x"},
	}

	groups := groupNewestDistinct(rows)
	assert.Equal(t, []string{"c", "b", "a"}, groups["model.bin"])
	assert.Equal(t, []string{"x"}, groups["other.bin"])
}
