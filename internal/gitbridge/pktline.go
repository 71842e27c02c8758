// Package gitbridge implements the Git Smart HTTP upload-pack service: a
// from-scratch pkt-line/side-band/packfile encoder that translates the
// Version Store's LakeFS-style commit graph into a Git object graph on
// the fly, with no native git library involved.
package gitbridge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// FlushPkt and DelimPkt are the two zero-length pkt-line sentinels.
var (
	FlushPkt = []byte("0000")
	DelimPkt = []byte("0001")
)

const maxPktDataLen = 65516 // 65520 - 4 byte length prefix, per git-protocol-common

// ErrPktTooLong is returned when a caller tries to write more than one
// pkt-line's worth of data in a single call.
var ErrPktTooLong = errors.New("gitbridge: pkt-line payload exceeds 65516 bytes")

// WritePktLine writes data as a single pkt-line (length-prefixed, no
// trailing newline added — callers that want one include it in data).
func WritePktLine(w io.Writer, data []byte) error {
	if len(data) > maxPktDataLen {
		return ErrPktTooLong
	}
	if _, err := fmt.Fprintf(w, "%04x", len(data)+4); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// WriteFlushPkt writes the flush-pkt ("0000").
func WriteFlushPkt(w io.Writer) error {
	_, err := w.Write(FlushPkt)
	return err
}

// WriteDelimPkt writes the delim-pkt ("0001").
func WriteDelimPkt(w io.Writer) error {
	_, err := w.Write(DelimPkt)
	return err
}

// WritePktLineString is a convenience wrapper for text lines.
func WritePktLineString(w io.Writer, s string) error {
	return WritePktLine(w, []byte(s))
}

// PktReader reads a stream of pkt-lines, stopping transparently at
// flush-pkt boundaries (ReadPkt returns io.EOF-free nil, true on flush).
type PktReader struct {
	r *bufio.Reader
}

// NewPktReader wraps r for pkt-line decoding.
func NewPktReader(r io.Reader) *PktReader {
	return &PktReader{r: bufio.NewReader(r)}
}

// ReadPkt reads one pkt-line. isFlush is true for a flush-pkt (data is
// nil); io.EOF is returned once the underlying stream is exhausted.
func (p *PktReader) ReadPkt() (data []byte, isFlush bool, err error) {
	var lenHex [4]byte
	if _, err := io.ReadFull(p.r, lenHex[:]); err != nil {
		return nil, false, err
	}
	var n int
	if _, err := fmt.Sscanf(string(lenHex[:]), "%04x", &n); err != nil {
		return nil, false, fmt.Errorf("gitbridge: invalid pkt-line length %q: %w", lenHex, err)
	}
	if n == 0 {
		return nil, true, nil
	}
	if n == 1 {
		return nil, false, nil // delim-pkt: treat as an empty, non-flush line
	}
	if n < 4 {
		return nil, false, fmt.Errorf("gitbridge: invalid pkt-line length %d", n)
	}
	buf := make([]byte, n-4)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, false, err
	}
	return buf, false, nil
}

// SideBand is the side-band-64k multiplexing channel byte.
type SideBand byte

const (
	SideBandPack     SideBand = 1
	SideBandProgress SideBand = 2
	SideBandError    SideBand = 3
)

// SideBandWriter wraps an io.Writer, framing every write as a side-band-64k
// pkt-line on the given band. The max pkt payload is 65516 bytes
// (1 band byte + up to 65515 data bytes, total pkt-line length ≤ 65520).
type SideBandWriter struct {
	w    io.Writer
	band SideBand
}

// NewSideBandWriter returns a writer that frames every Write call as one or
// more side-band pkt-lines on band.
func NewSideBandWriter(w io.Writer, band SideBand) *SideBandWriter {
	return &SideBandWriter{w: w, band: band}
}

const maxSideBandChunk = maxPktDataLen - 1

func (s *SideBandWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxSideBandChunk {
			chunk = chunk[:maxSideBandChunk]
		}
		payload := append([]byte{byte(s.band)}, chunk...)
		if err := WritePktLine(s.w, payload); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}
