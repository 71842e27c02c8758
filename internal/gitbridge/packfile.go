package gitbridge

import (
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
)

// packObjType maps an ObjectType onto the packfile's 3-bit type code
// (1=commit, 2=tree, 3=blob — the only types this bridge emits; every
// object is stored whole, with no delta compression).
func packObjType(t ObjectType) (byte, error) {
	switch t {
	case ObjCommit:
		return 1, nil
	case ObjTree:
		return 2, nil
	case ObjBlob:
		return 3, nil
	default:
		return 0, fmt.Errorf("gitbridge: unknown object type %q", t)
	}
}

// sha1Writer wraps an io.Writer, accumulating a running SHA-1 digest of
// everything written through it — used to compute the packfile trailer
// without buffering the whole pack in memory.
type sha1Writer struct {
	w io.Writer
	h hash.Hash
}

func newSHA1Writer(w io.Writer) *sha1Writer {
	return &sha1Writer{w: w, h: sha1.New()}
}

func (s *sha1Writer) Write(p []byte) (int, error) {
	s.h.Write(p)
	return s.w.Write(p)
}

func (s *sha1Writer) Sum() []byte {
	return s.h.Sum(nil)
}

// WritePackfile encodes objects as a version-2 Git packfile: a 12-byte
// header ("PACK", version 2, object count), each object as a
// type/size varint header followed by zlib-compressed content, and a
// trailing 20-byte SHA-1 over everything written before it.
func WritePackfile(w io.Writer, objects []Object) error {
	sw := newSHA1Writer(w)

	var header [12]byte
	copy(header[0:4], "PACK")
	binary.BigEndian.PutUint32(header[4:8], 2)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(objects)))
	if _, err := sw.Write(header[:]); err != nil {
		return fmt.Errorf("gitbridge: writing pack header: %w", err)
	}

	for _, obj := range objects {
		if err := writePackObject(sw, obj); err != nil {
			return err
		}
	}

	if _, err := w.Write(sw.Sum()); err != nil {
		return fmt.Errorf("gitbridge: writing pack trailer: %w", err)
	}
	return nil
}

func writePackObject(sw *sha1Writer, obj Object) error {
	typeCode, err := packObjType(obj.Type)
	if err != nil {
		return err
	}

	size := len(obj.Content)
	// First byte: MSB continuation flag, bits 6-4 type, bits 3-0 size.
	first := (typeCode << 4) | byte(size&0x0f)
	size >>= 4
	if size > 0 {
		first |= 0x80
	}
	if err := writeByte(sw, first); err != nil {
		return err
	}
	for size > 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		if err := writeByte(sw, b); err != nil {
			return err
		}
	}

	zw := zlib.NewWriter(sw)
	if _, err := zw.Write(obj.Content); err != nil {
		return fmt.Errorf("gitbridge: compressing object %s: %w", obj.SHAHex(), err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("gitbridge: closing zlib stream for %s: %w", obj.SHAHex(), err)
	}
	return nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}
