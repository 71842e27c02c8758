package gitbridge

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePackfile_HeaderAndTrailer(t *testing.T) {
	blob := NewObject(ObjBlob, []byte("hello\n"))
	var buf bytes.Buffer
	require.NoError(t, WritePackfile(&buf, []Object{blob}))

	data := buf.Bytes()
	require.True(t, len(data) > 12+20)
	assert.Equal(t, "PACK", string(data[0:4]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(data[8:12]))

	trailer := data[len(data)-20:]
	sum := sha1.Sum(data[:len(data)-20])
	assert.Equal(t, sum[:], trailer)
}

func TestWritePackfile_ObjectContentRoundTrips(t *testing.T) {
	blob := NewObject(ObjBlob, []byte("kohakuhub"))
	var buf bytes.Buffer
	require.NoError(t, WritePackfile(&buf, []Object{blob}))

	data := buf.Bytes()
	body := data[12 : len(data)-20]

	// Decode the type/size varint header: first byte has cont bit + 3-bit
	// type + low 4 size bits.
	first := body[0]
	typeCode := (first >> 4) & 0x7
	assert.Equal(t, byte(3), typeCode) // blob
	assert.Equal(t, byte(0), first&0x80)

	zr, err := zlib.NewReader(bytes.NewReader(body[1:]))
	require.NoError(t, err)
	content, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "kohakuhub", string(content))
}

func TestPackObjType(t *testing.T) {
	code, err := packObjType(ObjCommit)
	require.NoError(t, err)
	assert.Equal(t, byte(1), code)

	code, err = packObjType(ObjTree)
	require.NoError(t, err)
	assert.Equal(t, byte(2), code)

	code, err = packObjType(ObjBlob)
	require.NoError(t, err)
	assert.Equal(t, byte(3), code)

	_, err = packObjType(ObjectType("tag"))
	assert.Error(t, err)
}
