package repo

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kohakuhub/server/internal/module/lakefs"
	"github.com/kohakuhub/server/internal/module/storage"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/response"
)

// resolveRef resolves a branch, tag or commit sha to a commit pointer.
func (h *Handler) resolveRef(ctx context.Context, lakeRepo, rev string) (*lakefs.Ref, error) {
	ref, err := h.service.lake.GetBranch(ctx, lakeRepo, rev)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, lakefs.ErrNotFound) && !errors.Is(err, lakefs.ErrRefNotFound) {
		return nil, err
	}

	commit, cerr := h.service.lake.GetCommit(ctx, lakeRepo, rev)
	if cerr != nil {
		return nil, apperrors.RevisionNotFound(rev)
	}
	return &lakefs.Ref{ID: rev, CommitID: commit.ID}, nil
}

// Resolve handles GET and HEAD /:type/:namespace/:name/resolve/:revision/*path.
// GET redirects to a presigned storage URL; HEAD answers the metadata probes
// the hub client makes before downloading.
func (h *Handler) Resolve(c *gin.Context) {
	r, ok := h.resolve(c)
	if !ok {
		return
	}

	rev := revision(c)
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" {
		response.Error(c, apperrors.BadRequest("file path required"))
		return
	}

	lakeRepo := h.service.LakeRepoName(r.repo)
	ref, err := h.resolveRef(c.Request.Context(), lakeRepo, rev)
	if err != nil {
		response.Error(c, err)
		return
	}

	obj, err := h.service.lake.StatObject(c.Request.Context(), lakeRepo, ref.CommitID, path)
	if err != nil {
		if errors.Is(err, lakefs.ErrNotFound) {
			response.Error(c, apperrors.EntryNotFound(path))
			return
		}
		if errors.Is(err, lakefs.ErrRefNotFound) {
			response.Error(c, apperrors.RevisionNotFound(rev))
			return
		}
		response.Error(c, err)
		return
	}

	oid := storage.OIDFromKey(obj.PhysicalAddress)

	c.Header("X-Repo-Commit", ref.CommitID)
	c.Header("Accept-Ranges", "bytes")
	if oid != "" {
		c.Header("X-Linked-ETag", linkedETag(oid))
		c.Header("X-Linked-Size", strconv.FormatInt(obj.SizeBytes, 10))
		c.Header("ETag", `"`+oid+`"`)
	} else {
		c.Header("ETag", `"`+obj.Checksum+`"`)
	}

	if c.Request.Method == http.MethodHead {
		c.Header("Content-Length", strconv.FormatInt(obj.SizeBytes, 10))
		c.Status(http.StatusOK)
		return
	}

	key, inBucket := bucketKey(h.blobs.Bucket(), obj.PhysicalAddress)
	if inBucket {
		signed, err := h.blobs.PresignGet(c.Request.Context(), key, h.cfg.LFS.DownloadExpiry)
		if err != nil {
			response.Error(c, apperrors.Internal("presign download", err))
			return
		}
		c.Redirect(http.StatusFound, signed.URL)
		return
	}

	// Addresses outside our bucket stream through the version store.
	rc, err := h.service.lake.GetObject(c.Request.Context(), lakeRepo, ref.CommitID, path)
	if err != nil {
		response.Error(c, apperrors.Internal("open object", err))
		return
	}
	defer rc.Close()

	c.Header("Content-Length", strconv.FormatInt(obj.SizeBytes, 10))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.log.Warn("download stream interrupted", "repo", r.repo.FullID, "path", path, "error", err)
	}
}

// linkedETag carries the LFS oid with its hash algorithm, matching the
// pointer file's oid line.
func linkedETag(oid string) string {
	return `"sha256:` + oid + `"`
}

// bucketKey converts a physical address into a key in the given bucket.
func bucketKey(bucket, physicalAddress string) (string, bool) {
	prefix := "s3://" + bucket + "/"
	if !strings.HasPrefix(physicalAddress, prefix) {
		return "", false
	}
	return strings.TrimPrefix(physicalAddress, prefix), true
}
