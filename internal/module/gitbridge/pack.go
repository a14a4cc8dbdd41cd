package gitbridge

import (
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
)

// Pack format v2, non-delta. Every object is written whole; clones of
// artifact repos gain little from deltas and the writer stays simple.

const packVersion = 2

var packTypeCodes = map[string]byte{
	typeCommit: 1,
	typeTree:   2,
	typeBlob:   3,
}

// writePack streams a v2 pack of the set's objects to w and returns the byte
// count written.
func writePack(w io.Writer, set *objectSet) (int64, error) {
	h := sha1.New()
	counted := &countingWriter{w: io.MultiWriter(w, h)}

	header := make([]byte, 12)
	copy(header, "PACK")
	binary.BigEndian.PutUint32(header[4:], packVersion)
	binary.BigEndian.PutUint32(header[8:], uint32(len(set.objects)))
	if _, err := counted.Write(header); err != nil {
		return counted.n, err
	}

	for _, obj := range set.objects {
		if err := writePackObject(counted, obj); err != nil {
			return counted.n, fmt.Errorf("pack object %s: %w", obj.id, err)
		}
	}

	// Trailer: sha1 of everything before it.
	if _, err := w.Write(h.Sum(nil)); err != nil {
		return counted.n, err
	}
	return counted.n + sha1.Size, nil
}

// writePackObject emits the varint type/size header then the zlib body.
func writePackObject(w io.Writer, obj *object) error {
	code, ok := packTypeCodes[obj.typ]
	if !ok {
		return fmt.Errorf("unsupported object type %q", obj.typ)
	}

	size := uint64(len(obj.data))
	head := []byte{code<<4 | byte(size&0x0f)}
	size >>= 4
	for size > 0 {
		head[len(head)-1] |= 0x80
		head = append(head, byte(size&0x7f))
		size >>= 7
	}
	if _, err := w.Write(head); err != nil {
		return err
	}

	zw := zlib.NewWriter(w)
	if _, err := zw.Write(obj.data); err != nil {
		return err
	}
	return zw.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
