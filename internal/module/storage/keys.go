package storage

import (
	"fmt"
	"strings"
)

// LFSKey returns the content-addressed key for an LFS blob.
// Sharded two levels deep: lfs/{oid[0:2]}/{oid[2:4]}/{oid}.
func LFSKey(oid string) string {
	if len(oid) < 4 {
		return "lfs/" + oid
	}
	return fmt.Sprintf("lfs/%s/%s/%s", oid[0:2], oid[2:4], oid)
}

// IsLFSKey reports whether a storage key (or a physical address ending in
// one) addresses the global LFS area.
func IsLFSKey(key string) bool {
	return strings.HasPrefix(key, "lfs/") || strings.Contains(key, "/lfs/")
}

// OIDFromKey extracts the sha256 oid from an LFS key or physical address.
// Returns "" if the key is not LFS-shaped.
func OIDFromKey(key string) string {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return ""
	}
	oid := key[idx+1:]
	if len(oid) != 64 || !IsLFSKey(key) {
		return ""
	}
	return oid
}

// RepoPrefix returns the version-store-owned prefix for a repository.
// Only LakeFS writes under it; the gateway touches it for lifecycle cleanup.
func RepoPrefix(repoType, namespace, name string) string {
	return fmt.Sprintf("hf-%s-%s-%s", repoType, namespace, name)
}
