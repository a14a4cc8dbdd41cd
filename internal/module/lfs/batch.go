package lfs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/storage"
	"github.com/kohakuhub/server/internal/shared/config"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/logger"
	"github.com/kohakuhub/server/internal/shared/metrics"
)

// blobStore is the slice of the storage gateway the LFS subsystem needs.
type blobStore interface {
	Head(ctx context.Context, key string) (*storage.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	PresignPut(ctx context.Context, key string, size int64, expiry time.Duration) (*storage.PresignedURL, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (*storage.PresignedURL, error)
}

// Service implements the git-lfs batch protocol over content-addressed
// storage. Blobs are global: the same oid uploaded to any repository is
// stored once.
type Service struct {
	staging stagingRepo
	blobs   blobStore
	cfg     *config.LFSConfig
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewService creates the LFS service.
func NewService(staging stagingRepo, blobs blobStore, cfg *config.LFSConfig, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{staging: staging, blobs: blobs, cfg: cfg, metrics: m, log: log}
}

// BatchRequest is the git-lfs batch API request.
type BatchRequest struct {
	Operation string        `json:"operation"`
	Transfers []string      `json:"transfers,omitempty"`
	Objects   []BatchObject `json:"objects"`
	HashAlgo  string        `json:"hash_algo,omitempty"`
}

// BatchObject identifies one blob.
type BatchObject struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

// BatchResponse is the git-lfs batch API response.
type BatchResponse struct {
	Transfer string           `json:"transfer"`
	Objects  []ObjectResponse `json:"objects"`
	HashAlgo string           `json:"hash_algo"`
}

// ObjectResponse is the per-object slice of the batch response.
type ObjectResponse struct {
	OID           string             `json:"oid"`
	Size          int64              `json:"size"`
	Authenticated bool               `json:"authenticated"`
	Actions       map[string]*Action `json:"actions,omitempty"`
	Error         *ObjectError       `json:"error,omitempty"`
}

// Action is one presigned transfer step.
type Action struct {
	HREF      string            `json:"href"`
	Header    map[string]string `json:"header,omitempty"`
	ExpiresIn int               `json:"expires_in"`
}

// ObjectError is a per-object failure that does not fail the whole batch.
type ObjectError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const maxBatchObjects = 100

// Batch answers one batch request. verifyBase is the absolute URL prefix for
// the verify callback of this repository.
func (s *Service) Batch(ctx context.Context, repo *model.Repository, req *BatchRequest, verifyBase string) (*BatchResponse, error) {
	if req.Operation != "upload" && req.Operation != "download" {
		return nil, apperrors.BadRequest(fmt.Sprintf("unsupported operation %q", req.Operation))
	}
	if req.HashAlgo != "" && req.HashAlgo != "sha256" {
		return nil, apperrors.BadRequest(fmt.Sprintf("unsupported hash algorithm %q", req.HashAlgo))
	}
	if len(req.Objects) == 0 {
		return nil, apperrors.BadRequest("batch request has no objects")
	}
	if len(req.Objects) > maxBatchObjects {
		return nil, apperrors.BadRequest(fmt.Sprintf("batch exceeds %d objects", maxBatchObjects))
	}

	resp := &BatchResponse{Transfer: "basic", HashAlgo: "sha256"}
	for _, obj := range req.Objects {
		resp.Objects = append(resp.Objects, s.one(ctx, repo, req.Operation, obj, verifyBase))
	}
	return resp, nil
}

func (s *Service) one(ctx context.Context, repo *model.Repository, operation string, obj BatchObject, verifyBase string) ObjectResponse {
	out := ObjectResponse{OID: obj.OID, Size: obj.Size, Authenticated: true}

	if !validOID(obj.OID) || obj.Size < 0 {
		out.Error = &ObjectError{Code: 422, Message: "invalid object descriptor"}
		return out
	}

	key := storage.LFSKey(obj.OID)

	switch operation {
	case "download":
		info, err := s.blobs.Head(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				out.Error = &ObjectError{Code: 404, Message: "object does not exist"}
			} else {
				out.Error = &ObjectError{Code: 500, Message: "storage unavailable"}
			}
			return out
		}
		if info.Size != obj.Size {
			out.Error = &ObjectError{Code: 422, Message: "size mismatch"}
			return out
		}
		url, err := s.blobs.PresignGet(ctx, key, s.cfg.DownloadExpiry)
		if err != nil {
			out.Error = &ObjectError{Code: 500, Message: "presign failed"}
			return out
		}
		out.Actions = map[string]*Action{
			"download": {HREF: url.URL, ExpiresIn: int(s.cfg.DownloadExpiry.Seconds())},
		}

	case "upload":
		info, err := s.blobs.Head(ctx, key)
		if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			out.Error = &ObjectError{Code: 500, Message: "storage unavailable"}
			return out
		}
		if err == nil && info.Size == obj.Size {
			// Already stored with the declared size: no actions means the
			// client skips the upload. A size mismatch re-uploads, replacing
			// a corrupt earlier attempt.
			s.metrics.LFSDedupHits.Inc()
			return out
		}

		url, err := s.blobs.PresignPut(ctx, key, obj.Size, s.cfg.UploadExpiry)
		if err != nil {
			out.Error = &ObjectError{Code: 500, Message: "presign failed"}
			return out
		}
		s.metrics.LFSUploads.Inc()
		s.trackUpload(ctx, repo, obj, key)

		out.Actions = map[string]*Action{
			"upload": {
				HREF:      url.URL,
				ExpiresIn: int(s.cfg.UploadExpiry.Seconds()),
			},
			"verify": {
				HREF:      verifyBase + "/verify",
				ExpiresIn: int(s.cfg.UploadExpiry.Seconds()),
			},
		}
	}

	return out
}

// trackUpload records an in-flight upload so the sweeper can expire presigned
// uploads that never verified.
func (s *Service) trackUpload(ctx context.Context, repo *model.Repository, obj BatchObject, key string) {
	row := &model.StagingUpload{
		RepoFullID: repo.FullID,
		SHA256:     obj.OID,
		Size:       obj.Size,
		StorageKey: key,
		LFS:        true,
	}
	if err := s.staging.Track(ctx, row); err != nil {
		s.log.Warn("staging upload tracking failed", "oid", obj.OID, "error", err)
	}
}

// VerifyRequest is the git-lfs verify callback body.
type VerifyRequest struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

// Verify confirms an uploaded blob exists with the declared size, and clears
// its staging rows.
func (s *Service) Verify(ctx context.Context, req *VerifyRequest) error {
	if !validOID(req.OID) {
		return apperrors.BadRequest("invalid oid")
	}

	info, err := s.blobs.Head(ctx, storage.LFSKey(req.OID))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return apperrors.EntryNotFound(req.OID)
		}
		return fmt.Errorf("verify head: %w", err)
	}
	if info.Size != req.Size {
		return apperrors.BadRequest(fmt.Sprintf(
			"size mismatch for %s: stored %d, declared %d", req.OID, info.Size, req.Size))
	}

	if err := s.staging.ClearByOID(ctx, req.OID); err != nil {
		s.log.Warn("staging cleanup failed", "oid", req.OID, "error", err)
	}
	return nil
}

// SweepStaging removes staging rows older than twice the upload expiry.
// Blobs that were uploaded but never verified stay in storage until repo GC;
// only the bookkeeping rows expire here.
func (s *Service) SweepStaging(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-2 * s.cfg.UploadExpiry)
	return s.staging.DeleteOlderThan(ctx, cutoff)
}

func validOID(oid string) bool {
	if len(oid) != 64 {
		return false
	}
	for _, c := range oid {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
