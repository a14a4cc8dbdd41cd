package commitpipe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/lakefs"
	"github.com/kohakuhub/server/internal/shared/logger"
	"github.com/kohakuhub/server/internal/shared/metrics"
)

// fakeStore records staging calls and can fail selected paths.
type fakeStore struct {
	mu       sync.Mutex
	uploads  []string
	links    []string
	deletes  []string
	resets   int
	failPath string
}

func (f *fakeStore) GetBranch(ctx context.Context, repo, name string) (*lakefs.Ref, error) {
	return &lakefs.Ref{ID: name, CommitID: "head"}, nil
}

func (f *fakeStore) UploadObject(ctx context.Context, repo, branch, path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if path == f.failPath {
		return errors.New("upload failed")
	}
	f.uploads = append(f.uploads, path)
	return nil
}

func (f *fakeStore) LinkPhysicalAddress(ctx context.Context, repo, branch, path, addr, checksum string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, path+"<-"+addr)
	return nil
}

func (f *fakeStore) DeleteObject(ctx context.Context, repo, branch, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, path)
	return nil
}

func (f *fakeStore) ListAllObjects(ctx context.Context, repo, ref, prefix string) ([]lakefs.ObjectStats, error) {
	return nil, nil
}

func (f *fakeStore) StatObject(ctx context.Context, repo, ref, path string) (*lakefs.ObjectStats, error) {
	return &lakefs.ObjectStats{Path: path, PhysicalAddress: "s3://bucket/data/" + path, Checksum: "cs", SizeBytes: 10}, nil
}

func (f *fakeStore) Commit(ctx context.Context, repo, branch, message string, metadata map[string]string) (*lakefs.CommitRecord, error) {
	return &lakefs.CommitRecord{ID: "commit-1", Message: message}, nil
}

func (f *fakeStore) ResetStaging(ctx context.Context, repo, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

type fakeBlobs struct{}

func (fakeBlobs) Exists(ctx context.Context, key string) (bool, error) { return true, nil }
func (fakeBlobs) S3URI(key string) string                              { return "s3://test/" + key }

func newTestPipeline(store *fakeStore) *Pipeline {
	return &Pipeline{
		store:           store,
		blobs:           fakeBlobs{},
		metrics:         metrics.New(prometheus.NewRegistry()),
		inlineThreshold: 1024,
		baseURL:         "http://hub.local",
		log:             logger.New(nil),
	}
}

func testRequest(ops []Operation) *Request {
	return &Request{
		Repo: &model.Repository{
			RepoType: model.RepoTypeModel,
			FullID:   "alice/bert",
		},
		Branch:   DefaultBranch,
		Header:   &Header{Summary: "test"},
		Ops:      ops,
		LakeRepo: "hf-model-alice-bert",
	}
}

func TestStage_AppliesAllOperations(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(store)

	oid := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	ops := []Operation{
		&FileOp{Dest: "README.md", Content: []byte("hi")},
		&LFSFileOp{Dest: "model.bin", OID: oid, Size: 5},
		&DeleteFileOp{Dest: "old.txt"},
		&CopyFileOp{Dest: "copy.bin", SrcPath: "model.bin", SrcRevision: "main"},
	}
	req := testRequest(ops)
	pl := &plan{folderOps: map[string][]string{}}

	err := p.stage(context.Background(), req, pl)
	require.NoError(t, err)

	assert.Equal(t, []string{"README.md"}, store.uploads)
	assert.Contains(t, store.links, "model.bin<-s3://test/lfs/aa/aa/"+oid)
	assert.Contains(t, store.links, "copy.bin<-s3://bucket/data/model.bin")
	assert.Equal(t, []string{"old.txt"}, store.deletes)
}

func TestStage_FolderDeleteUsesResolvedPaths(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(store)

	req := testRequest([]Operation{&DeleteFolderOp{Dest: "ckpt"}})
	pl := &plan{folderOps: map[string][]string{
		"ckpt": {"ckpt/a.bin", "ckpt/b.bin"},
	}}

	err := p.stage(context.Background(), req, pl)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ckpt/a.bin", "ckpt/b.bin"}, store.deletes)
}

func TestStage_PropagatesFirstError(t *testing.T) {
	store := &fakeStore{failPath: "bad.txt"}
	p := newTestPipeline(store)

	ops := []Operation{
		&FileOp{Dest: "ok.txt", Content: []byte("x")},
		&FileOp{Dest: "bad.txt", Content: []byte("y")},
	}
	err := p.stage(context.Background(), testRequest(ops), &plan{folderOps: map[string][]string{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.txt")
}

func emptyTip() *tipState {
	return &tipState{
		sizes: map[string]int64{},
		lfs:   map[string]bool{},
		shas:  map[string]string{},
	}
}

func TestResolveOps_SkipsUnchangedInlineFile(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(store)

	content := []byte("same bytes")
	sum := sha256.Sum256(content)
	tip := emptyTip()
	tip.sizes["README.md"] = int64(len(content))
	tip.shas["README.md"] = hex.EncodeToString(sum[:])

	req := testRequest([]Operation{&FileOp{Dest: "README.md", Content: content}})
	pl, err := p.resolveOps(context.Background(), req, tip)
	require.NoError(t, err)

	assert.True(t, pl.unchanged["README.md"])
	assert.Empty(t, pl.upserts)
	assert.Zero(t, pl.delta)

	require.NoError(t, p.stage(context.Background(), req, pl))
	assert.Empty(t, store.uploads, "identical content is not re-staged")
}

func TestResolveOps_ChangedInlineFileIsStaged(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(store)

	tip := emptyTip()
	tip.sizes["README.md"] = 3
	tip.shas["README.md"] = "other"

	req := testRequest([]Operation{&FileOp{Dest: "README.md", Content: []byte("new text")}})
	pl, err := p.resolveOps(context.Background(), req, tip)
	require.NoError(t, err)

	assert.False(t, pl.unchanged["README.md"])
	require.Len(t, pl.upserts, 1)
	assert.Equal(t, int64(len("new text"))-3, pl.delta)

	require.NoError(t, p.stage(context.Background(), req, pl))
	assert.Equal(t, []string{"README.md"}, store.uploads)
}

func TestResolveOps_MissingFolderDeleteIsNoop(t *testing.T) {
	p := newTestPipeline(&fakeStore{})

	req := testRequest([]Operation{&DeleteFolderOp{Dest: "gone"}})
	pl, err := p.resolveOps(context.Background(), req, emptyTip())
	require.NoError(t, err)
	assert.Empty(t, pl.deletePaths)
	assert.Zero(t, pl.delta)
}

func TestCommit_RejectsEmptyOps(t *testing.T) {
	p := newTestPipeline(&fakeStore{})
	_, err := p.Commit(context.Background(), testRequest(nil))
	assert.Error(t, err)
}
