package gitbridge

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Git object synthesis. The bridge never stores git objects; every clone
// materializes blobs, trees and commits from the version store on the fly.

const (
	typeBlob   = "blob"
	typeTree   = "tree"
	typeCommit = "commit"

	modeFile = "100644"
	modeDir  = "40000"
)

// objectID is a git sha1.
type objectID [20]byte

func (id objectID) String() string {
	return hex.EncodeToString(id[:])
}

// object is one synthesized git object.
type object struct {
	typ  string
	data []byte
	id   objectID
}

// hashObject computes the git object id: sha1 over "type size\0" + data.
func hashObject(typ string, data []byte) objectID {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", typ, len(data))
	h.Write(data)
	var id objectID
	copy(id[:], h.Sum(nil))
	return id
}

// objectSet collects synthesized objects, deduplicated by id.
type objectSet struct {
	objects []*object
	index   map[objectID]int
}

func newObjectSet() *objectSet {
	return &objectSet{index: make(map[objectID]int)}
}

func (s *objectSet) add(typ string, data []byte) objectID {
	id := hashObject(typ, data)
	if _, ok := s.index[id]; ok {
		return id
	}
	s.index[id] = len(s.objects)
	s.objects = append(s.objects, &object{typ: typ, data: data, id: id})
	return id
}

// treeEntry is one row of a tree object.
type treeEntry struct {
	mode string
	name string
	id   objectID
}

// sortKey orders tree entries the way git does: directories sort as if their
// name ended in "/".
func sortKey(e treeEntry) string {
	if e.mode == modeDir {
		return e.name + "/"
	}
	return e.name
}

// encodeTree serializes sorted entries into tree object bytes.
func encodeTree(entries []treeEntry) []byte {
	sort.Slice(entries, func(i, j int) bool {
		return sortKey(entries[i]) < sortKey(entries[j])
	})

	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%s %s\x00", e.mode, e.name)
		buf.Write(e.id[:])
	}
	return buf.Bytes()
}

// fileBlob pairs a repo path with its blob id.
type fileBlob struct {
	path string
	id   objectID
}

// buildTrees constructs the nested tree objects for a flat file list and
// returns the root tree id. Files are grouped by directory bottom-up.
func buildTrees(set *objectSet, files []fileBlob) objectID {
	type dir struct {
		files map[string]objectID
		dirs  map[string]bool
	}
	dirs := map[string]*dir{"": {files: map[string]objectID{}, dirs: map[string]bool{}}}

	ensure := func(path string) *dir {
		if d, ok := dirs[path]; ok {
			return d
		}
		d := &dir{files: map[string]objectID{}, dirs: map[string]bool{}}
		dirs[path] = d
		return d
	}

	for _, f := range files {
		parent := ""
		segments := strings.Split(f.path, "/")
		for i := 0; i < len(segments)-1; i++ {
			child := segments[i]
			childPath := child
			if parent != "" {
				childPath = parent + "/" + child
			}
			ensure(parent).dirs[child] = true
			ensure(childPath)
			parent = childPath
		}
		ensure(parent).files[segments[len(segments)-1]] = f.id
	}

	// Deepest directories first so child tree ids exist before parents.
	paths := make([]string, 0, len(dirs))
	for p := range dirs {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		if d1, d2 := depth(paths[i]), depth(paths[j]); d1 != d2 {
			return d1 > d2
		}
		return paths[i] < paths[j]
	})

	treeIDs := make(map[string]objectID)
	for _, p := range paths {
		d := dirs[p]
		var entries []treeEntry
		for name, id := range d.files {
			entries = append(entries, treeEntry{mode: modeFile, name: name, id: id})
		}
		for name := range d.dirs {
			childPath := name
			if p != "" {
				childPath = p + "/" + name
			}
			entries = append(entries, treeEntry{mode: modeDir, name: name, id: treeIDs[childPath]})
		}
		treeIDs[p] = set.add(typeTree, encodeTree(entries))
	}

	return treeIDs[""]
}

func depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// commitInfo carries the synthesized commit's metadata.
type commitInfo struct {
	tree      objectID
	parents   []objectID
	author    string
	email     string
	message   string
	timestamp time.Time
}

// encodeCommit serializes a commit object. Parent ids mirror the version
// store's commit graph; a root commit has none.
func encodeCommit(info commitInfo) []byte {
	author := info.author
	if author == "" {
		author = "kohakuhub"
	}
	email := info.email
	if email == "" {
		email = author + "@kohakuhub"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", info.tree)
	for _, parent := range info.parents {
		fmt.Fprintf(&buf, "parent %s\n", parent)
	}
	fmt.Fprintf(&buf, "author %s <%s> %d +0000\n", author, email, info.timestamp.Unix())
	fmt.Fprintf(&buf, "committer %s <%s> %d +0000\n", author, email, info.timestamp.Unix())
	buf.WriteString("\n")
	buf.WriteString(info.message)
	if !strings.HasSuffix(info.message, "\n") {
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

// lfsPointer renders the canonical git-lfs pointer file.
func lfsPointer(oid string, size int64) []byte {
	return []byte(fmt.Sprintf(
		"version https://git-lfs.github.com/spec/v1\noid sha256:%s\nsize %d\n", oid, size))
}
