package gitbridge

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashObject_KnownVectors(t *testing.T) {
	// Values verifiable with `git hash-object` and `git mktree`.
	t.Run("blob_hello", func(t *testing.T) {
		id := hashObject(typeBlob, []byte("hello\n"))
		assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", id.String())
	})

	t.Run("empty_tree", func(t *testing.T) {
		id := hashObject(typeTree, nil)
		assert.Equal(t, "4b825dc642cb6eb9a060e54bf8d69288fbee4904", id.String())
	})
}

func TestEncodeTree_GitOrdering(t *testing.T) {
	var blob objectID

	// "zebra" the file must sort before "zebra-cache" but after "zeb";
	// directories compare as if suffixed with "/".
	entries := []treeEntry{
		{mode: modeFile, name: "zebra.txt", id: blob},
		{mode: modeDir, name: "zebra", id: blob},
		{mode: modeFile, name: "zebra-file", id: blob},
	}
	data := encodeTree(entries)

	first := bytes.Index(data, []byte("zebra-file"))
	second := bytes.Index(data, []byte("zebra.txt"))
	third := bytes.Index(data, []byte("40000 zebra\x00"))
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	require.NotEqual(t, -1, third)
	assert.Less(t, first, second)
	assert.Less(t, second, third, "directory zebra sorts as zebra/ after zebra.txt")
}

func TestBuildTrees_Nested(t *testing.T) {
	set := newObjectSet()
	a := set.add(typeBlob, []byte("a"))
	b := set.add(typeBlob, []byte("b"))
	c := set.add(typeBlob, []byte("c"))

	root := buildTrees(set, []fileBlob{
		{path: "README.md", id: a},
		{path: "weights/model.bin", id: b},
		{path: "weights/shards/part-0", id: c},
	})

	// 3 blobs + trees for "", "weights", "weights/shards".
	assert.Len(t, set.objects, 6)

	rootObj := set.objects[set.index[root]]
	assert.Equal(t, typeTree, rootObj.typ)
	assert.Contains(t, string(rootObj.data), "README.md")
	assert.Contains(t, string(rootObj.data), "40000 weights\x00")

	// Deterministic: building the same layout again yields the same root id.
	set2 := newObjectSet()
	a2 := set2.add(typeBlob, []byte("a"))
	b2 := set2.add(typeBlob, []byte("b"))
	c2 := set2.add(typeBlob, []byte("c"))
	root2 := buildTrees(set2, []fileBlob{
		{path: "weights/shards/part-0", id: c2},
		{path: "README.md", id: a2},
		{path: "weights/model.bin", id: b2},
	})
	assert.Equal(t, root, root2)
}

func TestEncodeCommit(t *testing.T) {
	tree := hashObject(typeTree, nil)

	t.Run("root_commit", func(t *testing.T) {
		data := encodeCommit(commitInfo{
			tree:      tree,
			author:    "alice",
			message:   "add weights",
			timestamp: time.Unix(1700000000, 0),
		})

		text := string(data)
		assert.True(t, strings.HasPrefix(text, "tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\n"))
		assert.Contains(t, text, "author alice <alice@kohakuhub> 1700000000 +0000\n")
		assert.Contains(t, text, "committer alice <alice@kohakuhub> 1700000000 +0000\n")
		assert.True(t, strings.HasSuffix(text, "\n\nadd weights\n"))
		assert.NotContains(t, text, "parent ", "a root commit has no parent line")
	})

	t.Run("parent_links", func(t *testing.T) {
		p1 := hashObject(typeCommit, []byte("one"))
		p2 := hashObject(typeCommit, []byte("two"))
		data := encodeCommit(commitInfo{
			tree:      tree,
			parents:   []objectID{p1, p2},
			author:    "alice",
			message:   "merge",
			timestamp: time.Unix(1700000000, 0),
		})

		text := string(data)
		treeLine := "tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\n"
		parentLines := "parent " + p1.String() + "\nparent " + p2.String() + "\n"
		assert.True(t, strings.HasPrefix(text, treeLine+parentLines), "parents follow the tree line in order")
	})
}

func TestLFSPointer(t *testing.T) {
	oid := strings.Repeat("ab", 32)
	pointer := lfsPointer(oid, 123456)

	expected := "version https://git-lfs.github.com/spec/v1\n" +
		"oid sha256:" + oid + "\n" +
		"size 123456\n"
	assert.Equal(t, expected, string(pointer))
}

func TestWritePack_RoundTrip(t *testing.T) {
	set := newObjectSet()
	content := []byte("pack me\n")
	set.add(typeBlob, content)

	var buf bytes.Buffer
	n, err := writePack(&buf, set)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	data := buf.Bytes()
	require.Greater(t, len(data), 12+sha1.Size)

	// Header.
	assert.Equal(t, "PACK", string(data[:4]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(data[8:12]))

	// Trailer is the sha1 of everything before it.
	sum := sha1.Sum(data[:len(data)-sha1.Size])
	assert.Equal(t, sum[:], data[len(data)-sha1.Size:])

	// Object header: type blob (3), size 8, single byte since size < 16.
	head := data[12]
	assert.Equal(t, byte(0), head&0x80, "small object needs no continuation")
	assert.Equal(t, byte(3), head>>4&0x07)
	assert.Equal(t, byte(len(content)), head&0x0f)

	// Body inflates back to the original content.
	zr, err := zlib.NewReader(bytes.NewReader(data[13 : len(data)-sha1.Size]))
	require.NoError(t, err)
	inflated, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, content, inflated)
}

func TestWritePack_VarintHeaderForLargeObject(t *testing.T) {
	set := newObjectSet()
	set.add(typeBlob, bytes.Repeat([]byte("x"), 300))

	var buf bytes.Buffer
	_, err := writePack(&buf, set)
	require.NoError(t, err)

	data := buf.Bytes()
	// 300 = 0b100101100: low nibble 1100, then continuation byte 0b10010.
	assert.Equal(t, byte(0x80|3<<4|0x0c), data[12])
	assert.Equal(t, byte(300>>4), data[13])
}
