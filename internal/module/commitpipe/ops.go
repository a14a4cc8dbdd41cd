package commitpipe

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/kohakuhub/server/internal/shared/errors"
)

// The commit payload is newline-delimited JSON. The first record must be the
// header; every following record is one operation. Operations within a single
// commit are applied atomically.

const (
	keyHeader        = "header"
	keyFile          = "file"
	keyLFSFile       = "lfsFile"
	keyDeletedFile   = "deletedFile"
	keyDeletedFolder = "deletedFolder"
	keyCopyFile      = "copyFile"
)

// maxLineBytes bounds one NDJSON record. Inline file content is base64 inside
// the record, so this must comfortably exceed the inline threshold.
const maxLineBytes = 64 * 1024 * 1024

// Header carries the commit message.
type Header struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

// Operation is one commit mutation.
type Operation interface {
	// Path returns the destination path of the operation.
	Path() string
}

// FileOp writes inline content at a path.
type FileOp struct {
	Dest    string
	Content []byte
}

func (o *FileOp) Path() string { return o.Dest }

// LFSFileOp links an already-uploaded LFS blob at a path.
type LFSFileOp struct {
	Dest string
	OID  string
	Size int64
	Algo string
}

func (o *LFSFileOp) Path() string { return o.Dest }

// DeleteFileOp removes one path.
type DeleteFileOp struct {
	Dest string
}

func (o *DeleteFileOp) Path() string { return o.Dest }

// DeleteFolderOp removes every path under a prefix.
type DeleteFolderOp struct {
	Dest string
}

func (o *DeleteFolderOp) Path() string { return o.Dest }

// CopyFileOp copies a path from a source revision without moving bytes.
type CopyFileOp struct {
	Dest        string
	SrcPath     string
	SrcRevision string
}

func (o *CopyFileOp) Path() string { return o.Dest }

type rawRecord struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type rawHeader struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

type rawFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type rawLFSFile struct {
	Path string `json:"path"`
	Algo string `json:"algo"`
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

type rawPathOnly struct {
	Path string `json:"path"`
}

type rawCopyFile struct {
	Path        string `json:"path"`
	SrcPath     string `json:"srcPath"`
	SrcRevision string `json:"srcRevision"`
}

// ParseOperations reads the NDJSON commit payload. The header record must
// come first; duplicate destination paths within one commit are rejected.
func ParseOperations(r io.Reader) (*Header, []Operation, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var header *Header
	var ops []Operation
	seen := make(map[string]bool)
	line := 0

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		line++

		var record rawRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, nil, apperrors.BadRequest(fmt.Sprintf("malformed commit record on line %d", line))
		}

		if line == 1 {
			if record.Key != keyHeader {
				return nil, nil, apperrors.BadRequest("commit payload must start with a header record")
			}
			var h rawHeader
			if err := json.Unmarshal(record.Value, &h); err != nil {
				return nil, nil, apperrors.BadRequest("malformed commit header")
			}
			if strings.TrimSpace(h.Summary) == "" {
				return nil, nil, apperrors.BadRequest("commit summary is required")
			}
			header = &Header{Summary: h.Summary, Description: h.Description}
			continue
		}

		op, err := parseOp(&record, line)
		if err != nil {
			return nil, nil, err
		}

		if dest := op.Path(); dest != "" {
			if seen[dest] {
				return nil, nil, apperrors.BadRequest(fmt.Sprintf("duplicate path in commit: %s", dest))
			}
			seen[dest] = true
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return nil, nil, apperrors.BadRequest("commit record exceeds maximum size; use the LFS flow for large files")
		}
		return nil, nil, fmt.Errorf("read commit payload: %w", err)
	}

	if header == nil {
		return nil, nil, apperrors.BadRequest("empty commit payload")
	}
	return header, ops, nil
}

func parseOp(record *rawRecord, line int) (Operation, error) {
	switch record.Key {
	case keyHeader:
		return nil, apperrors.BadRequest("duplicate header record")

	case keyFile:
		var f rawFile
		if err := json.Unmarshal(record.Value, &f); err != nil {
			return nil, apperrors.BadRequest(fmt.Sprintf("malformed file record on line %d", line))
		}
		if err := validatePath(f.Path); err != nil {
			return nil, err
		}
		if f.Encoding != "" && f.Encoding != "base64" {
			return nil, apperrors.BadRequest(fmt.Sprintf("unsupported content encoding %q", f.Encoding))
		}
		content, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return nil, apperrors.BadRequest(fmt.Sprintf("invalid base64 content for %s", f.Path))
		}
		return &FileOp{Dest: f.Path, Content: content}, nil

	case keyLFSFile:
		var f rawLFSFile
		if err := json.Unmarshal(record.Value, &f); err != nil {
			return nil, apperrors.BadRequest(fmt.Sprintf("malformed lfsFile record on line %d", line))
		}
		if err := validatePath(f.Path); err != nil {
			return nil, err
		}
		if f.Algo != "" && f.Algo != "sha256" {
			return nil, apperrors.BadRequest(fmt.Sprintf("unsupported hash algorithm %q", f.Algo))
		}
		if !validOID(f.OID) {
			return nil, apperrors.BadRequest(fmt.Sprintf("invalid oid for %s", f.Path))
		}
		if f.Size < 0 {
			return nil, apperrors.BadRequest(fmt.Sprintf("negative size for %s", f.Path))
		}
		return &LFSFileOp{Dest: f.Path, OID: f.OID, Size: f.Size, Algo: "sha256"}, nil

	case keyDeletedFile:
		var f rawPathOnly
		if err := json.Unmarshal(record.Value, &f); err != nil {
			return nil, apperrors.BadRequest(fmt.Sprintf("malformed deletedFile record on line %d", line))
		}
		if err := validatePath(f.Path); err != nil {
			return nil, err
		}
		return &DeleteFileOp{Dest: f.Path}, nil

	case keyDeletedFolder:
		var f rawPathOnly
		if err := json.Unmarshal(record.Value, &f); err != nil {
			return nil, apperrors.BadRequest(fmt.Sprintf("malformed deletedFolder record on line %d", line))
		}
		if err := validatePath(strings.TrimSuffix(f.Path, "/")); err != nil {
			return nil, err
		}
		return &DeleteFolderOp{Dest: strings.TrimSuffix(f.Path, "/")}, nil

	case keyCopyFile:
		var f rawCopyFile
		if err := json.Unmarshal(record.Value, &f); err != nil {
			return nil, apperrors.BadRequest(fmt.Sprintf("malformed copyFile record on line %d", line))
		}
		if err := validatePath(f.Path); err != nil {
			return nil, err
		}
		if err := validatePath(f.SrcPath); err != nil {
			return nil, err
		}
		return &CopyFileOp{Dest: f.Path, SrcPath: f.SrcPath, SrcRevision: f.SrcRevision}, nil

	default:
		return nil, apperrors.BadRequest(fmt.Sprintf("unknown operation %q on line %d", record.Key, line))
	}
}

// validatePath rejects escapes and absolute paths. Paths are always relative
// to the repository root with forward slashes.
func validatePath(p string) error {
	if p == "" {
		return apperrors.BadRequest("operation path is required")
	}
	if strings.HasPrefix(p, "/") {
		return apperrors.BadRequest(fmt.Sprintf("absolute path not allowed: %s", p))
	}
	if strings.Contains(p, "\\") {
		return apperrors.BadRequest(fmt.Sprintf("backslash not allowed in path: %s", p))
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			return apperrors.BadRequest(fmt.Sprintf("empty path segment in %s", p))
		}
		if seg == "." || seg == ".." {
			return apperrors.BadRequest(fmt.Sprintf("path traversal not allowed: %s", p))
		}
	}
	return nil
}

func validOID(oid string) bool {
	if len(oid) != 64 {
		return false
	}
	for _, c := range oid {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
