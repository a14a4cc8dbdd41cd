package repo

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/lakefs"
	"github.com/kohakuhub/server/internal/module/namespace"
)

func TestLakeRepoName(t *testing.T) {
	s := &Service{}
	repo := &model.Repository{
		RepoType:      model.RepoTypeModel,
		NamespaceNorm: "alice",
		NameNorm:      "bert-base",
	}
	assert.Equal(t, "hf-model-alice-bert-base", s.LakeRepoName(repo))
}

func TestSameOwner(t *testing.T) {
	u1 := &model.User{ID: 1}
	u2 := &model.User{ID: 2}
	o1 := &model.Organization{ID: 1}

	t.Run("same_user", func(t *testing.T) {
		assert.True(t, sameOwner(&namespace.Owner{User: u1}, &namespace.Owner{User: u1}))
	})
	t.Run("different_users", func(t *testing.T) {
		assert.False(t, sameOwner(&namespace.Owner{User: u1}, &namespace.Owner{User: u2}))
	})
	t.Run("user_vs_org_with_same_id", func(t *testing.T) {
		assert.False(t, sameOwner(&namespace.Owner{User: u1}, &namespace.Owner{Org: o1}))
	})
	t.Run("same_org", func(t *testing.T) {
		assert.True(t, sameOwner(&namespace.Owner{Org: o1}, &namespace.Owner{Org: o1}))
	})
}

func TestRedirectFor(t *testing.T) {
	redirect := redirectFor(&model.Repository{
		ID:            42,
		RepoType:      model.RepoTypeDataset,
		NamespaceNorm: "alice",
		NameNorm:      "old-corpus",
	})
	assert.Equal(t, model.RepoTypeDataset, redirect.RepoType)
	assert.Equal(t, "alice", redirect.NamespaceNorm)
	assert.Equal(t, "old-corpus", redirect.NameNorm)
	assert.Equal(t, int64(42), redirect.RepoID)
}

func TestRepoScopedByFullID(t *testing.T) {
	models := repoScopedByFullID()
	var hasHistory, hasStaging bool
	for _, m := range models {
		switch m.(type) {
		case *model.LFSObjectHistory:
			hasHistory = true
		case *model.StagingUpload:
			hasStaging = true
		}
	}
	assert.True(t, hasHistory, "LFS history rows must follow a rename")
	assert.True(t, hasStaging, "in-flight staging rows must follow a rename")
}

func TestLinkedETag(t *testing.T) {
	oid := strings.Repeat("ab", 32)
	assert.Equal(t, `"sha256:`+oid+`"`, linkedETag(oid))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(errors.New(`pq: duplicate key value violates unique constraint "idx_repo_type_ns_name"`)))
	assert.True(t, isUniqueViolation(errors.New("ERROR: duplicate key value (SQLSTATE 23505)")))
	assert.False(t, isUniqueViolation(errors.New("connection refused")))
}

func TestGitattributesSeed(t *testing.T) {
	for _, line := range strings.Split(strings.TrimSpace(gitattributesSeed), "\n") {
		assert.Contains(t, line, "filter=lfs", "every seeded pattern routes through LFS: %s", line)
	}
	assert.Contains(t, gitattributesSeed, "*.safetensors")
}

func TestEntryFromObject(t *testing.T) {
	t.Run("plain_file", func(t *testing.T) {
		entry := entryFromObject(&lakefs.ObjectStats{
			Path:            "README.md",
			PathType:        "object",
			PhysicalAddress: "s3://bucket/data/gabc123",
			Checksum:        "deadbeef",
			SizeBytes:       42,
		})
		assert.Equal(t, "file", entry.Type)
		assert.Equal(t, "README.md", entry.Path)
		assert.Equal(t, int64(42), entry.Size)
		assert.Equal(t, "deadbeef", entry.OID)
		assert.Nil(t, entry.LFS)
	})

	t.Run("lfs_file", func(t *testing.T) {
		oid := strings.Repeat("ab", 32)
		entry := entryFromObject(&lakefs.ObjectStats{
			Path:            "model.safetensors",
			PathType:        "object",
			PhysicalAddress: "s3://bucket/lfs/ab/ab/" + oid,
			SizeBytes:       5000,
		})
		if assert.NotNil(t, entry.LFS) {
			assert.Equal(t, oid, entry.LFS.OID)
			assert.Equal(t, int64(5000), entry.LFS.Size)
			// Exact byte length of the pointer file for this oid and size.
			pointer := "version https://git-lfs.github.com/spec/v1\n" +
				"oid sha256:" + oid + "\n" +
				"size 5000\n"
			assert.Equal(t, len(pointer), entry.LFS.PointerSize)
		}
	})

	t.Run("directory", func(t *testing.T) {
		entry := entryFromObject(&lakefs.ObjectStats{
			Path:     "weights/",
			PathType: "common_prefix",
		})
		assert.Equal(t, "directory", entry.Type)
		assert.Equal(t, "weights", entry.Path)
	})
}

func TestBucketKey(t *testing.T) {
	key, ok := bucketKey("hub", "s3://hub/lfs/ab/cd/some-oid")
	assert.True(t, ok)
	assert.Equal(t, "lfs/ab/cd/some-oid", key)

	_, ok = bucketKey("hub", "s3://other-bucket/lfs/ab/cd/some-oid")
	assert.False(t, ok)

	_, ok = bucketKey("hub", "local://hub/key")
	assert.False(t, ok)
}

func TestFrontMatter(t *testing.T) {
	t.Run("fenced", func(t *testing.T) {
		content := "---\nlicense: mit\ntags:\n  - nlp\n---\n# Model card\n"
		doc := frontMatter(content)
		assert.Contains(t, doc, "license: mit")
		assert.NotContains(t, doc, "Model card")
	})

	t.Run("unfenced_passes_through", func(t *testing.T) {
		assert.Equal(t, "license: mit\n", frontMatter("license: mit\n"))
	})

	t.Run("unterminated_fence", func(t *testing.T) {
		doc := frontMatter("---\nlicense: mit\n")
		assert.Contains(t, doc, "license: mit")
	})
}
