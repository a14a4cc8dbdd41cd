package gitbridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// storeHasher streams object content out of the version store to compute its
// sha256. Used for files large enough to become pointers but not tracked as
// LFS, so their oid is not already known.
type storeHasher struct {
	store versionStore
}

// NewStoreHasher creates a hasher backed by the version store.
func NewStoreHasher(store versionStore) blobHasher {
	return &storeHasher{store: store}
}

func (h *storeHasher) SHA256At(ctx context.Context, repo, ref, path string) (string, error) {
	rc, err := h.store.GetObject(ctx, repo, ref, path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer rc.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, rc); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
