package gitbridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"

	"github.com/kohakuhub/server/internal/module/lakefs"
	"github.com/kohakuhub/server/internal/module/storage"
	"github.com/kohakuhub/server/internal/shared/logger"
	"github.com/kohakuhub/server/internal/shared/metrics"
)

// versionStore is the slice of the version store client the bridge reads.
type versionStore interface {
	GetBranch(ctx context.Context, repo, name string) (*lakefs.Ref, error)
	ListBranches(ctx context.Context, repo string) ([]lakefs.Ref, error)
	ListTags(ctx context.Context, repo string) ([]lakefs.Ref, error)
	LogCommits(ctx context.Context, repo, ref string, amount int) ([]lakefs.CommitRecord, error)
	ListAllObjects(ctx context.Context, repo, ref, prefix string) ([]lakefs.ObjectStats, error)
	GetObject(ctx context.Context, repo, ref, path string) (io.ReadCloser, error)
}

// blobHasher computes the content hash of an oversized non-LFS object so the
// bridge can emit a pointer for it without buffering it in the pack.
type blobHasher interface {
	SHA256At(ctx context.Context, repo, ref, path string) (string, error)
}

// Bridge serves read-only git clones of version store repositories. Every
// version store commit reachable from a ref becomes one git commit with the
// same parent links; LFS-backed paths and files above the pointer threshold
// become git-lfs pointers in the pack.
type Bridge struct {
	store            versionStore
	hasher           blobHasher
	pointerThreshold int64
	defaultBranch    string
	metrics          *metrics.Metrics
	log              *logger.Logger
}

// New creates the bridge.
func New(store versionStore, hasher blobHasher, pointerThreshold int64,
	defaultBranch string, m *metrics.Metrics, log *logger.Logger) *Bridge {
	return &Bridge{
		store:            store,
		hasher:           hasher,
		pointerThreshold: pointerThreshold,
		defaultBranch:    defaultBranch,
		metrics:          m,
		log:              log,
	}
}

const capabilities = "multi_ack_detailed no-done side-band-64k thin-pack ofs-delta agent=kohakuhub/1"

// advertisedRef is one line of the refs advertisement.
type advertisedRef struct {
	name string
	id   objectID
}

// snapshot is one ref's fully synthesized object graph.
type snapshot struct {
	set      *objectSet
	commitID objectID
}

// buildSnapshot synthesizes the full commit history of one ref: every version
// store commit becomes a git commit carrying the original author, message,
// timestamp and parent links, with its tree materialized from the listing at
// that commit.
func (b *Bridge) buildSnapshot(ctx context.Context, lakeRepo string, ref lakefs.Ref) (*snapshot, error) {
	history, err := b.store.LogCommits(ctx, lakeRepo, ref.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("log %s: %w", ref.ID, err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("ref %s has no commits", ref.ID)
	}

	set := newObjectSet()
	gitIDs := make(map[string]objectID, len(history))

	// Oldest first so parent ids exist before children reference them.
	for i := len(history) - 1; i >= 0; i-- {
		rec := history[i]
		root, err := b.treeAt(ctx, lakeRepo, rec.ID, set)
		if err != nil {
			return nil, err
		}

		info := commitInfo{
			tree:      root,
			author:    rec.Committer,
			message:   rec.Message,
			timestamp: rec.When(),
		}
		if author, ok := rec.Metadata["author"]; ok && author != "" {
			info.author = author
		}
		for _, parent := range rec.Parents {
			if id, ok := gitIDs[parent]; ok {
				info.parents = append(info.parents, id)
			}
		}
		gitIDs[rec.ID] = set.add(typeCommit, encodeCommit(info))
	}

	return &snapshot{set: set, commitID: gitIDs[history[0].ID]}, nil
}

// treeAt materializes the blobs and trees of one commit into set and returns
// the root tree id.
func (b *Bridge) treeAt(ctx context.Context, lakeRepo, commitID string, set *objectSet) (objectID, error) {
	objects, err := b.store.ListAllObjects(ctx, lakeRepo, commitID, "")
	if err != nil {
		return objectID{}, fmt.Errorf("list %s: %w", commitID, err)
	}

	files := make([]fileBlob, 0, len(objects))
	for _, obj := range objects {
		if obj.IsCommonPrefix() {
			continue
		}
		data, err := b.blobContent(ctx, lakeRepo, commitID, obj)
		if err != nil {
			return objectID{}, err
		}
		files = append(files, fileBlob{path: obj.Path, id: set.add(typeBlob, data)})
	}
	return buildTrees(set, files), nil
}

// blobContent decides between real content and an LFS pointer for one path.
func (b *Bridge) blobContent(ctx context.Context, lakeRepo, ref string, obj lakefs.ObjectStats) ([]byte, error) {
	if oid := storage.OIDFromKey(obj.PhysicalAddress); oid != "" {
		return lfsPointer(oid, obj.SizeBytes), nil
	}

	if obj.SizeBytes >= b.pointerThreshold {
		oid, err := b.hasher.SHA256At(ctx, lakeRepo, ref, obj.Path)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", obj.Path, err)
		}
		return lfsPointer(oid, obj.SizeBytes), nil
	}

	rc, err := b.store.GetObject(ctx, lakeRepo, ref, obj.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", obj.Path, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// refSnapshots synthesizes every branch and tag. Returns the advertisement
// order (HEAD target first) alongside the per-ref snapshots.
func (b *Bridge) refSnapshots(ctx context.Context, lakeRepo string) ([]advertisedRef, map[objectID]*snapshot, error) {
	branches, err := b.store.ListBranches(ctx, lakeRepo)
	if err != nil {
		return nil, nil, err
	}
	tags, err := b.store.ListTags(ctx, lakeRepo)
	if err != nil {
		return nil, nil, err
	}

	var refs []advertisedRef
	snapshots := make(map[objectID]*snapshot)

	addRef := func(name string, ref lakefs.Ref) error {
		snap, err := b.buildSnapshot(ctx, lakeRepo, ref)
		if err != nil {
			return err
		}
		refs = append(refs, advertisedRef{name: name, id: snap.commitID})
		snapshots[snap.commitID] = snap
		return nil
	}

	for _, branch := range branches {
		if err := addRef("refs/heads/"+branch.ID, branch); err != nil {
			return nil, nil, err
		}
	}
	for _, tag := range tags {
		if err := addRef("refs/tags/"+tag.ID, tag); err != nil {
			return nil, nil, err
		}
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].name < refs[j].name })
	return refs, snapshots, nil
}

// AdvertiseRefs writes the smart HTTP info/refs body for git-upload-pack.
func (b *Bridge) AdvertiseRefs(ctx context.Context, lakeRepo string, w io.Writer) error {
	refs, _, err := b.refSnapshots(ctx, lakeRepo)
	if err != nil {
		return err
	}

	enc := pktline.NewEncoder(w)
	if err := enc.EncodeString("# service=git-upload-pack\n"); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}

	if len(refs) == 0 {
		caps := capabilities
		if err := enc.EncodeString(fmt.Sprintf("%040d capabilities^{}\x00%s\n", 0, caps)); err != nil {
			return err
		}
		return enc.Flush()
	}

	head := b.headRef(refs)
	caps := capabilities + " symref=HEAD:refs/heads/" + b.defaultBranch
	if err := enc.EncodeString(fmt.Sprintf("%s HEAD\x00%s\n", head, caps)); err != nil {
		return err
	}
	for _, ref := range refs {
		if err := enc.EncodeString(fmt.Sprintf("%s %s\n", ref.id, ref.name)); err != nil {
			return err
		}
	}
	return enc.Flush()
}

// headRef picks the commit HEAD points at.
func (b *Bridge) headRef(refs []advertisedRef) objectID {
	want := "refs/heads/" + b.defaultBranch
	for _, ref := range refs {
		if ref.name == want {
			return ref.id
		}
	}
	return refs[0].id
}

// UploadPack answers one upload-pack request: parse wants, reply NAK, stream
// a full pack of every wanted ref on side band 1.
func (b *Bridge) UploadPack(ctx context.Context, lakeRepo string, r io.Reader, w io.Writer) error {
	wants, useSideband, err := parseWants(r)
	if err != nil {
		return err
	}
	if len(wants) == 0 {
		enc := pktline.NewEncoder(w)
		_ = enc.EncodeString("NAK\n")
		return enc.Flush()
	}

	refs, snapshots, err := b.refSnapshots(ctx, lakeRepo)
	if err != nil {
		return err
	}

	known := make(map[string]objectID, len(refs))
	for _, ref := range refs {
		known[ref.id.String()] = ref.id
	}

	union := newObjectSet()
	for _, want := range wants {
		id, ok := known[want]
		if !ok {
			return fmt.Errorf("unknown want %s", want)
		}
		for _, obj := range snapshots[id].set.objects {
			union.add(obj.typ, obj.data)
		}
	}

	enc := pktline.NewEncoder(w)
	if err := enc.EncodeString("NAK\n"); err != nil {
		return err
	}

	var packBuf bytes.Buffer
	n, err := writePack(&packBuf, union)
	if err != nil {
		return err
	}
	b.metrics.GitPackBytes.Add(float64(n))

	if !useSideband {
		_, err = w.Write(packBuf.Bytes())
		return err
	}

	const chunk = 65515
	data := packBuf.Bytes()
	for len(data) > 0 {
		size := len(data)
		if size > chunk {
			size = chunk
		}
		if err := enc.Encode(append([]byte{1}, data[:size]...)); err != nil {
			return err
		}
		data = data[size:]
	}
	return enc.Flush()
}

// parseWants reads want/have/done pkt-lines from the client. The first want
// line carries the capability list after a NUL byte.
func parseWants(r io.Reader) (wants []string, sideband bool, err error) {
	scanner := pktline.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSuffix(string(scanner.Bytes()), "\n")
		switch {
		case line == "" || line == "done":
			// flush-pkt or done
		case strings.HasPrefix(line, "want "):
			rest := strings.TrimPrefix(line, "want ")
			rest, caps, _ := strings.Cut(rest, "\x00")
			fields := strings.Fields(rest)
			if len(fields) == 0 || len(fields[0]) != 40 {
				return nil, false, fmt.Errorf("malformed want line %q", line)
			}
			wants = append(wants, fields[0])
			if strings.Contains(caps, "side-band-64k") ||
				(len(fields) > 1 && strings.Contains(strings.Join(fields[1:], " "), "side-band-64k")) {
				sideband = true
			}
		case strings.HasPrefix(line, "have "):
			// No common-base negotiation: the pack is always complete.
		case strings.HasPrefix(line, "deepen"):
			// Shallow clones collapse to full clones.
		default:
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, false, err
	}
	return wants, sideband, nil
}
