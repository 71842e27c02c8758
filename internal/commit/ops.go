// Package commit implements the multi-operation commit pipeline: NDJSON
// parsing, per-operation staging, the Version Store commit call, and the
// single DB transaction that follows it. The bounded fan-out is a
// per-request bounded goroutine pool with hash-partitioned path
// serialization, rather than a long-lived queue-backed worker pool.
package commit

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kohakuhub/kohakuhub/internal/huberr"
)

// OpKind is the discriminant of the NDJSON commit-op sum type.
type OpKind string

const (
	OpFile          OpKind = "file"
	OpLFSFile       OpKind = "lfsFile"
	OpDeletedFile   OpKind = "deletedFile"
	OpDeletedFolder OpKind = "deletedFolder"
	OpCopyFile      OpKind = "copyFile"
)

// Header is the mandatory first NDJSON line's value.
type Header struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
}

// FileOp is an inline base64-encoded file write.
type FileOp struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Decode base64-decodes Content, validating Encoding is "base64".
func (f FileOp) Decode() ([]byte, error) {
	if f.Encoding != "" && f.Encoding != "base64" {
		return nil, huberr.BadRequest(fmt.Sprintf("unsupported file encoding %q", f.Encoding))
	}
	data, err := base64.StdEncoding.DecodeString(f.Content)
	if err != nil {
		return nil, huberr.BadRequest("invalid base64 file content")
	}
	return data, nil
}

// LFSFileOp references a previously uploaded LFS blob by digest.
type LFSFileOp struct {
	Path string `json:"path"`
	Algo string `json:"algo"`
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

// DeletedFileOp deletes a single path.
type DeletedFileOp struct {
	Path string `json:"path"`
}

// DeletedFolderOp deletes every object under a path prefix.
type DeletedFolderOp struct {
	Path string `json:"path"`
}

// CopyFileOp copies an existing object to a new path by reference.
type CopyFileOp struct {
	Path         string `json:"path"`
	SrcPath      string `json:"srcPath"`
	SrcRevision  string `json:"srcRevision,omitempty"`
}

// Op is one parsed NDJSON line after the header, carrying exactly one of
// the typed payloads per Kind — Go's sum-type idiom (tagged struct, not a
// sealed interface) so callers can switch on Kind without a type assertion
// chain.
type Op struct {
	Kind          OpKind
	File          *FileOp
	LFSFile       *LFSFileOp
	DeletedFile   *DeletedFileOp
	DeletedFolder *DeletedFolderOp
	CopyFile      *CopyFileOp
}

type wireOp struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ParseNDJSON reads the commit body, returning the header and the ordered
// list of operations. Line 1 must be the header; a header-only body
// (no ops) is rejected as BadRequest.
func ParseNDJSON(r io.Reader) (Header, []Op, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var header Header
	var ops []Op
	lineNum := 0

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lineNum++

		var w wireOp
		if err := json.Unmarshal(line, &w); err != nil {
			return Header{}, nil, huberr.BadRequest(fmt.Sprintf("malformed NDJSON on line %d", lineNum))
		}

		if lineNum == 1 {
			if w.Key != "header" {
				return Header{}, nil, huberr.BadRequest("first NDJSON line must be the header")
			}
			if err := json.Unmarshal(w.Value, &header); err != nil {
				return Header{}, nil, huberr.BadRequest("invalid commit header")
			}
			continue
		}

		op, err := decodeOp(OpKind(w.Key), w.Value)
		if err != nil {
			return Header{}, nil, err
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return Header{}, nil, fmt.Errorf("commit: reading NDJSON body: %w", err)
	}
	if lineNum == 0 {
		return Header{}, nil, huberr.BadRequest("empty commit body")
	}
	if len(ops) == 0 {
		return Header{}, nil, huberr.BadRequest("commit must contain at least one operation")
	}
	return header, ops, nil
}

func decodeOp(kind OpKind, value json.RawMessage) (Op, error) {
	switch kind {
	case OpFile:
		var v FileOp
		if err := json.Unmarshal(value, &v); err != nil {
			return Op{}, huberr.BadRequest("invalid file op")
		}
		return Op{Kind: kind, File: &v}, nil
	case OpLFSFile:
		var v LFSFileOp
		if err := json.Unmarshal(value, &v); err != nil {
			return Op{}, huberr.BadRequest("invalid lfsFile op")
		}
		if v.Algo != "" && v.Algo != "sha256" {
			return Op{}, huberr.BadRequest(fmt.Sprintf("unsupported lfs algo %q", v.Algo))
		}
		return Op{Kind: kind, LFSFile: &v}, nil
	case OpDeletedFile:
		var v DeletedFileOp
		if err := json.Unmarshal(value, &v); err != nil {
			return Op{}, huberr.BadRequest("invalid deletedFile op")
		}
		return Op{Kind: kind, DeletedFile: &v}, nil
	case OpDeletedFolder:
		var v DeletedFolderOp
		if err := json.Unmarshal(value, &v); err != nil {
			return Op{}, huberr.BadRequest("invalid deletedFolder op")
		}
		return Op{Kind: kind, DeletedFolder: &v}, nil
	case OpCopyFile:
		var v CopyFileOp
		if err := json.Unmarshal(value, &v); err != nil {
			return Op{}, huberr.BadRequest("invalid copyFile op")
		}
		return Op{Kind: kind, CopyFile: &v}, nil
	default:
		return Op{}, huberr.BadRequest(fmt.Sprintf("unknown commit op kind %q", kind))
	}
}

// Path returns the destination path an op writes to or removes, used for
// hash-partitioned fan-out and net-delta computation.
func (o Op) Path() string {
	switch o.Kind {
	case OpFile:
		return o.File.Path
	case OpLFSFile:
		return o.LFSFile.Path
	case OpDeletedFile:
		return o.DeletedFile.Path
	case OpDeletedFolder:
		return o.DeletedFolder.Path
	case OpCopyFile:
		return o.CopyFile.Path
	}
	return ""
}
