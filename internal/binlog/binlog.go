package binlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/relabs-tech/gait_computer/internal/frame"
)

// Log format: a plain concatenation of records, no header.
//
//	[timestamp:f64-le][frame]
//
// timestamp is milliseconds since the recording session started; frame is a
// full wire frame including its length byte and CRC trailer.

const timestampLen = 8

// Record is one logged frame.
type Record struct {
	TimestampMs float64
	Frame       []byte
}

// Reader reads records and zero-bases their timestamps on the first record.
type Reader struct {
	fr     *frame.Reader
	zero   float64
	zeroed bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{fr: frame.NewReader(r)}
}

// Next returns the next record. io.EOF marks a clean end of log; a record
// cut short yields io.ErrUnexpectedEOF.
func (rr *Reader) Next() (Record, error) {
	var tsBuf [timestampLen]byte
	for {
		n, err := rr.fr.ReadFull(tsBuf[:])
		if err != nil {
			if n == 0 && errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, fmt.Errorf("binlog: reading timestamp: %w", io.ErrUnexpectedEOF)
		}
		ts := math.Float64frombits(binary.LittleEndian.Uint64(tsBuf[:]))
		if !rr.zeroed {
			rr.zero = ts
			rr.zeroed = true
		}
		ts -= rr.zero

		length, err := rr.fr.ReadByte()
		if err != nil {
			return Record{}, fmt.Errorf("binlog: reading frame length: %w", io.ErrUnexpectedEOF)
		}
		full, err := rr.fr.NextAfter(length)
		if err != nil {
			return Record{}, fmt.Errorf("binlog: %w", err)
		}
		if full == nil {
			continue
		}
		return Record{TimestampMs: ts, Frame: full}, nil
	}
}

// ReadAll reads every record of the log.
func (rr *Reader) ReadAll() ([]Record, error) {
	recs := make([]Record, 0, 1024)
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}

// BytesRead returns the number of log bytes consumed.
func (rr *Reader) BytesRead() uint64 { return rr.fr.BytesRead() }

// AppendRecord encodes one record onto dst.
func AppendRecord(dst []byte, tsMs float64, full []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(tsMs))
	return append(dst, full...)
}

// Append opens path in append mode, writes one record and closes the file.
// Reopening per record keeps an abrupt termination from losing buffered
// frames.
func Append(path string, tsMs float64, full []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("binlog: open %s: %w", path, err)
	}
	if _, err := f.Write(AppendRecord(make([]byte, 0, timestampLen+len(full)), tsMs, full)); err != nil {
		_ = f.Close()
		return fmt.Errorf("binlog: write %s: %w", path, err)
	}
	return f.Close()
}

// Writer writes a whole log in one go (synthetic recordings, tests).
type Writer struct {
	f      *os.File
	w      *bufio.Writer
	n      uint64
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, w: bufio.NewWriterSize(f, 64*1024)}, nil
}

func (ww *Writer) WriteRecord(tsMs float64, full []byte) error {
	if ww.closed {
		return errors.New("binlog writer is closed")
	}
	if len(full) == 0 {
		return errors.New("frame is empty")
	}
	var ts [timestampLen]byte
	binary.LittleEndian.PutUint64(ts[:], math.Float64bits(tsMs))
	if _, err := ww.w.Write(ts[:]); err != nil {
		return err
	}
	if _, err := ww.w.Write(full); err != nil {
		return err
	}
	ww.n += uint64(timestampLen + len(full))
	return nil
}

// Written returns the number of bytes written so far.
func (ww *Writer) Written() uint64 { return ww.n }

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}
