package fit

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/tormoder/fit/dyncrc16"
)

// source wraps the underlying stream with running CRC-16 accumulation
// and a byte offset counter, the way tormoder/gofit's decoder ties a
// dyncrc16.Hash16 to every byte it consumes so the trailing stored CRC
// can be checked against the same hash.
//
// The hash is fed explicitly from readByte/readFull rather than through
// an io.TeeReader wrapped around the raw reader: bufio.Reader fills its
// internal buffer in one shot whenever it can, which would otherwise run
// the tee ahead of whatever byte position sum16 is meant to snapshot
// (true for any FIT file smaller than the buffer size, i.e. almost all
// of them). Feeding the hash only the bytes actually handed back to the
// caller keeps it exactly in step with tell().
type source struct {
	r   *bufio.Reader
	crc dyncrc16.Hash16
	pos int64
}

func newSource(r io.Reader) *source {
	return &source{r: bufio.NewReader(r), crc: dyncrc16.New()}
}

// sum16 snapshots the running CRC at the current read position. Because
// the FIT CRC-16 is a simple incremental polynomial division, a
// snapshot taken after N bytes equals dyncrc16.Checksum(data[:N]) —
// this is how both the header CRC (taken after 12 bytes) and the file
// CRC (taken just before the trailing stored CRC field) are obtained
// from one continuous streaming pass instead of two separate
// whole-buffer checksums.
func (s *source) sum16() uint16 {
	return s.crc.Sum16()
}

func (s *source) tell() int64 {
	return s.pos
}

// resetCRC restarts the running checksum at the start of each chained
// FIT file: every segment is its own independently-encoded file with
// its own header and file CRC, each computed from a zero state.
func (s *source) resetCRC() {
	s.crc.Reset()
}

func (s *source) readByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, &EofError{Reason: "reading record header byte", Err: err}
	}
	s.crc.Write([]byte{b})
	s.pos++
	return b, nil
}

func (s *source) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, &EofError{Reason: "reading fixed-size field", Err: err}
	}
	s.crc.Write(buf)
	s.pos += int64(n)
	return buf, nil
}

func (s *source) readUint16LE() (uint16, error) {
	buf, err := s.readFull(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// peekByte looks at the next byte without consuming it or advancing
// the CRC. Used by the stream driver to decide whether another chained
// FIT file follows the current one's trailing CRC.
func (s *source) peekByte() (byte, error) {
	b, err := s.r.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *source) atEOF() bool {
	_, err := s.r.Peek(1)
	return err != nil
}
