package gitbridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kohakuhub/server/internal/module/lakefs"
	"github.com/kohakuhub/server/internal/shared/logger"
	"github.com/kohakuhub/server/internal/shared/metrics"
)

var lfsOID = strings.Repeat("cd", 32)

// fakeVersionStore serves one branch with a two-commit history; the tip holds
// a small file, an LFS-linked file and an oversized plain file.
type fakeVersionStore struct{}

func (fakeVersionStore) GetBranch(ctx context.Context, repo, name string) (*lakefs.Ref, error) {
	return &lakefs.Ref{ID: name, CommitID: "c1"}, nil
}

func (fakeVersionStore) ListBranches(ctx context.Context, repo string) ([]lakefs.Ref, error) {
	return []lakefs.Ref{{ID: "main", CommitID: "c1"}}, nil
}

func (fakeVersionStore) ListTags(ctx context.Context, repo string) ([]lakefs.Ref, error) {
	return []lakefs.Ref{{ID: "v1.0", CommitID: "c1"}}, nil
}

func (fakeVersionStore) LogCommits(ctx context.Context, repo, ref string, amount int) ([]lakefs.CommitRecord, error) {
	return []lakefs.CommitRecord{
		{ID: "c1", Parents: []string{"c0"}, Committer: "alice", Message: "add weights", CreationDate: 1700000100},
		{ID: "c0", Committer: "alice", Message: "initial", CreationDate: 1700000000},
	}, nil
}

func (fakeVersionStore) ListAllObjects(ctx context.Context, repo, ref, prefix string) ([]lakefs.ObjectStats, error) {
	if ref == "c0" {
		return []lakefs.ObjectStats{
			{Path: "README.md", PathType: "object", PhysicalAddress: "s3://bucket/data/xyz", SizeBytes: 6},
		}, nil
	}
	return []lakefs.ObjectStats{
		{Path: "README.md", PathType: "object", PhysicalAddress: "s3://bucket/data/xyz", SizeBytes: 6},
		{Path: "model.bin", PathType: "object", PhysicalAddress: "s3://bucket/lfs/cd/cd/" + lfsOID, SizeBytes: 5000},
		{Path: "big.bin", PathType: "object", PhysicalAddress: "s3://bucket/data/abc", SizeBytes: 2 << 20},
	}, nil
}

func (fakeVersionStore) GetObject(ctx context.Context, repo, ref, path string) (io.ReadCloser, error) {
	if path != "README.md" {
		return nil, fmt.Errorf("unexpected content read for %s", path)
	}
	return io.NopCloser(strings.NewReader("hello\n")), nil
}

type fakeHasher struct{}

func (fakeHasher) SHA256At(ctx context.Context, repo, ref, path string) (string, error) {
	return strings.Repeat("ef", 32), nil
}

func newTestBridge() *Bridge {
	return New(fakeVersionStore{}, fakeHasher{}, 1<<20, "main",
		metrics.New(prometheus.NewRegistry()), logger.New(nil))
}

func TestBuildSnapshot_PointerSubstitution(t *testing.T) {
	b := newTestBridge()

	snap, err := b.buildSnapshot(context.Background(), "hf-model-alice-bert", lakefs.Ref{ID: "main", CommitID: "c1"})
	require.NoError(t, err)

	var sawReadme, sawLFSPointer, sawBigPointer bool
	for _, obj := range snap.set.objects {
		if obj.typ != typeBlob {
			continue
		}
		text := string(obj.data)
		switch {
		case text == "hello\n":
			sawReadme = true
		case strings.Contains(text, "oid sha256:"+lfsOID):
			sawLFSPointer = true
			assert.Contains(t, text, "size 5000\n")
		case strings.Contains(text, "oid sha256:"+strings.Repeat("ef", 32)):
			sawBigPointer = true
			assert.Contains(t, text, fmt.Sprintf("size %d\n", 2<<20))
		}
	}

	assert.True(t, sawReadme, "small file carried inline")
	assert.True(t, sawLFSPointer, "LFS-backed path becomes a pointer")
	assert.True(t, sawBigPointer, "oversized plain file becomes a pointer")
}

func TestBuildSnapshot_History(t *testing.T) {
	b := newTestBridge()

	snap, err := b.buildSnapshot(context.Background(), "repo", lakefs.Ref{ID: "main", CommitID: "c1"})
	require.NoError(t, err)

	var commits []*object
	for _, obj := range snap.set.objects {
		if obj.typ == typeCommit {
			commits = append(commits, obj)
		}
	}
	require.Len(t, commits, 2, "one git commit per version store commit")

	// Oldest first in the set; the root commit has no parent.
	root, tip := commits[0], commits[1]
	assert.NotContains(t, string(root.data), "parent ")
	assert.Contains(t, string(root.data), "\n\ninitial\n")

	assert.Contains(t, string(tip.data), "parent "+root.id.String()+"\n")
	assert.Contains(t, string(tip.data), "author alice ")
	assert.Contains(t, string(tip.data), "\n\nadd weights\n")
	assert.Equal(t, tip.id, snap.commitID, "ref points at the newest commit")
}

func TestBuildSnapshot_Deterministic(t *testing.T) {
	b := newTestBridge()
	ref := lakefs.Ref{ID: "main", CommitID: "c1"}

	s1, err := b.buildSnapshot(context.Background(), "repo", ref)
	require.NoError(t, err)
	s2, err := b.buildSnapshot(context.Background(), "repo", ref)
	require.NoError(t, err)

	assert.Equal(t, s1.commitID, s2.commitID)
}

func TestAdvertiseRefs(t *testing.T) {
	b := newTestBridge()

	var buf bytes.Buffer
	require.NoError(t, b.AdvertiseRefs(context.Background(), "repo", &buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "001e# service=git-upload-pack\n0000"))
	assert.Contains(t, out, " HEAD\x00")
	assert.Contains(t, out, "symref=HEAD:refs/heads/main")
	assert.Contains(t, out, "side-band-64k")
	assert.Contains(t, out, "refs/heads/main\n")
	assert.Contains(t, out, "refs/tags/v1.0\n")
	assert.True(t, strings.HasSuffix(out, "0000"))
}

func TestUploadPack_FullFetch(t *testing.T) {
	b := newTestBridge()

	// Learn the advertised head first.
	var adv bytes.Buffer
	require.NoError(t, b.AdvertiseRefs(context.Background(), "repo", &adv))
	idx := strings.Index(adv.String(), " refs/heads/main")
	require.Greater(t, idx, 40)
	head := adv.String()[idx-40 : idx]

	var reqBuf bytes.Buffer
	enc := pktline.NewEncoder(&reqBuf)
	require.NoError(t, enc.EncodeString("want "+head+"\x00multi_ack_detailed side-band-64k agent=git/2.40.0\n"))
	require.NoError(t, enc.Flush())
	require.NoError(t, enc.EncodeString("done\n"))

	var out bytes.Buffer
	require.NoError(t, b.UploadPack(context.Background(), "repo", &reqBuf, &out))

	// NAK then side-band pack frames.
	text := out.String()
	assert.Contains(t, text, "NAK\n")

	var pack []byte
	scanner := pktline.NewScanner(bytes.NewReader(out.Bytes()))
	for scanner.Scan() {
		payload := scanner.Bytes()
		if len(payload) > 1 && payload[0] == 1 {
			pack = append(pack, payload[1:]...)
		}
	}
	require.NotEmpty(t, pack)
	assert.Equal(t, "PACK", string(pack[:4]))
}

func TestUploadPack_UnknownWantRejected(t *testing.T) {
	b := newTestBridge()

	var reqBuf bytes.Buffer
	enc := pktline.NewEncoder(&reqBuf)
	require.NoError(t, enc.EncodeString("want "+strings.Repeat("0", 40)+"\n"))
	require.NoError(t, enc.Flush())
	require.NoError(t, enc.EncodeString("done\n"))

	var out bytes.Buffer
	err := b.UploadPack(context.Background(), "repo", &reqBuf, &out)
	assert.Error(t, err)
}

func TestParseWants(t *testing.T) {
	sha := strings.Repeat("a", 40)

	t.Run("nul_separated_capability_list", func(t *testing.T) {
		// Real clients append capabilities to the first want after a NUL.
		var buf bytes.Buffer
		enc := pktline.NewEncoder(&buf)
		require.NoError(t, enc.EncodeString("want "+sha+"\x00multi_ack_detailed side-band-64k agent=git/2.40.0\n"))
		require.NoError(t, enc.EncodeString("want "+strings.Repeat("b", 40)+"\n"))
		require.NoError(t, enc.Flush())
		require.NoError(t, enc.EncodeString("have "+strings.Repeat("c", 40)+"\n"))
		require.NoError(t, enc.EncodeString("done\n"))

		wants, sideband, err := parseWants(&buf)
		require.NoError(t, err)
		assert.Equal(t, []string{sha, strings.Repeat("b", 40)}, wants)
		assert.True(t, sideband)
	})

	t.Run("space_separated_capability_list", func(t *testing.T) {
		var buf bytes.Buffer
		enc := pktline.NewEncoder(&buf)
		require.NoError(t, enc.EncodeString("want "+sha+" side-band-64k thin-pack\n"))
		require.NoError(t, enc.Flush())
		require.NoError(t, enc.EncodeString("done\n"))

		wants, sideband, err := parseWants(&buf)
		require.NoError(t, err)
		assert.Equal(t, []string{sha}, wants)
		assert.True(t, sideband)
	})

	t.Run("no_capabilities", func(t *testing.T) {
		var buf bytes.Buffer
		enc := pktline.NewEncoder(&buf)
		require.NoError(t, enc.EncodeString("want "+sha+"\n"))
		require.NoError(t, enc.Flush())
		require.NoError(t, enc.EncodeString("done\n"))

		wants, sideband, err := parseWants(&buf)
		require.NoError(t, err)
		assert.Equal(t, []string{sha}, wants)
		assert.False(t, sideband)
	})

	t.Run("truncated_object_id_rejected", func(t *testing.T) {
		var buf bytes.Buffer
		enc := pktline.NewEncoder(&buf)
		require.NoError(t, enc.EncodeString("want "+sha[:12]+"\x00side-band-64k\n"))
		require.NoError(t, enc.Flush())

		_, _, err := parseWants(&buf)
		assert.Error(t, err)
	})
}
