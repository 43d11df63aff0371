// Package frame reassembles length-prefixed telemetry frames from a byte
// stream and checks their CRC trailer.
//
// Wire format:
//
//	[length:u8][type:u8][type-specific payload][crc:u16-le]
//
// length counts the length byte itself plus everything through the CRC.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MinLength is the smallest frame that carries a type byte.
	MinLength = 4
	// MaxLength is bounded by the u8 length prefix.
	MaxLength = 255

	trailerLen = 2
)

var (
	// ErrChecksum is wrapped by every *ChecksumError.
	ErrChecksum = errors.New("frame: checksum mismatch")
	// ErrTooShort reports a frame too small to hold a type byte and CRC.
	ErrTooShort = errors.New("frame: too short")
)

// ChecksumError reports a frame whose trailer does not match its contents.
type ChecksumError struct {
	Got  uint16 // transmitted
	Want uint16 // computed
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("frame: bad CRC: computed %#04x, transmitted %#04x", e.Want, e.Got)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksum }

// RawFrame is one frame as received: Payload starts with the packet type
// byte and excludes the CRC trailer.
type RawFrame struct {
	Length  uint8
	Payload []byte
	CRC     uint16
}

// Parse splits a full frame into its parts without validating the CRC.
func Parse(full []byte) (RawFrame, error) {
	if len(full) < MinLength {
		return RawFrame{}, fmt.Errorf("%w: %d bytes", ErrTooShort, len(full))
	}
	n := len(full)
	return RawFrame{
		Length:  full[0],
		Payload: full[1 : n-trailerLen],
		CRC:     binary.LittleEndian.Uint16(full[n-trailerLen:]),
	}, nil
}

// Type returns the packet type discriminant.
func (f RawFrame) Type() byte {
	if len(f.Payload) == 0 {
		return 0
	}
	return f.Payload[0]
}

// Body returns the payload after the type byte.
func (f RawFrame) Body() []byte {
	if len(f.Payload) == 0 {
		return nil
	}
	return f.Payload[1:]
}

// Bytes reassembles the full frame.
func (f RawFrame) Bytes() []byte {
	out := make([]byte, 0, len(f.Payload)+1+trailerLen)
	out = append(out, f.Length)
	out = append(out, f.Payload...)
	return binary.LittleEndian.AppendUint16(out, f.CRC)
}

// Validate parses full and compares the transmitted CRC with the one
// computed over every preceding byte.
func Validate(full []byte) (RawFrame, error) {
	f, err := Parse(full)
	if err != nil {
		return RawFrame{}, err
	}
	want := Checksum(full[:len(full)-trailerLen])
	if want != f.CRC {
		return RawFrame{}, &ChecksumError{Got: f.CRC, Want: want}
	}
	return f, nil
}

// Build assembles a full frame for packetType and body with a valid trailer.
func Build(packetType byte, body []byte) ([]byte, error) {
	n := 1 + 1 + len(body) + trailerLen
	if n > MaxLength {
		return nil, fmt.Errorf("frame: %d bytes exceeds maximum %d", n, MaxLength)
	}
	out := make([]byte, 0, n)
	out = append(out, byte(n), packetType)
	out = append(out, body...)
	return binary.LittleEndian.AppendUint16(out, Checksum(out)), nil
}

// Reader reads frames from a byte source (live port or log body).
type Reader struct {
	r         *bufio.Reader
	bytesRead uint64
	skipped   uint64
}

func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{r: br}
	}
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next full frame, CRC trailer included. Zero and one byte
// length prefixes are placeholders and are skipped without error. io.EOF is
// returned when the source is exhausted; a frame cut short by the end of the
// source is reported as io.ErrUnexpectedEOF.
func (fr *Reader) Next() ([]byte, error) {
	for {
		length, err := fr.r.ReadByte()
		if err != nil {
			return nil, err
		}
		fr.bytesRead++
		if length <= 1 {
			fr.skipped++
			continue
		}
		return fr.readRest(length)
	}
}

// NextAfter reads the remainder of a frame whose length byte the caller has
// already consumed. A zero or one length yields a nil frame and no error.
func (fr *Reader) NextAfter(length byte) ([]byte, error) {
	if length <= 1 {
		fr.skipped++
		return nil, nil
	}
	return fr.readRest(length)
}

func (fr *Reader) readRest(length byte) ([]byte, error) {
	full := make([]byte, int(length))
	full[0] = length
	n, err := io.ReadFull(fr.r, full[1:])
	fr.bytesRead += uint64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("frame: reading %d byte frame: %w", length, err)
	}
	return full, nil
}

// ReadByte exposes the underlying buffered reader for record-oriented
// callers that interleave their own fields with frames.
func (fr *Reader) ReadByte() (byte, error) {
	b, err := fr.r.ReadByte()
	if err == nil {
		fr.bytesRead++
	}
	return b, err
}

// ReadFull reads exactly len(p) bytes.
func (fr *Reader) ReadFull(p []byte) (int, error) {
	n, err := io.ReadFull(fr.r, p)
	fr.bytesRead += uint64(n)
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (fr *Reader) BytesRead() uint64 { return fr.bytesRead }

// Skipped returns the number of placeholder length bytes skipped.
func (fr *Reader) Skipped() uint64 { return fr.skipped }
