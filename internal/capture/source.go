package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/relabs-tech/gait_computer/internal/binlog"
	"github.com/relabs-tech/gait_computer/internal/frame"
)

// Record is one raw frame as produced by a Source.
type Record struct {
	Frame []byte

	// Recorded is set when TimestampMs comes from a log and the session
	// must pace delivery against it. Live records are stamped on receipt.
	Recorded    bool
	TimestampMs float64
}

// Stream yields raw frames until io.EOF. Close must unblock a pending Next.
type Stream interface {
	Next() (Record, error)
	Close() error
}

// Source is a capture input: a live port or a recorded log.
type Source interface {
	Name() string
	// Open acquires the underlying device or file. An error here is fatal
	// for Session.Start.
	Open() (Stream, error)
}

// liveStream reads frames from a byte stream as they arrive.
type liveStream struct {
	rc io.ReadCloser
	fr *frame.Reader

	closeOnce sync.Once
	closeErr  error
}

func newLiveStream(rc io.ReadCloser) *liveStream {
	return &liveStream{rc: rc, fr: frame.NewReader(rc)}
}

func (ls *liveStream) Next() (Record, error) {
	full, err := ls.fr.Next()
	if err != nil {
		return Record{}, err
	}
	return Record{Frame: full}, nil
}

func (ls *liveStream) Close() error {
	ls.closeOnce.Do(func() { ls.closeErr = ls.rc.Close() })
	return ls.closeErr
}

type readerSource struct {
	name string
	open func() (io.ReadCloser, error)
}

// NewReaderSource wraps any byte stream (pipe, socket, test fixture) as a
// live source.
func NewReaderSource(name string, open func() (io.ReadCloser, error)) Source {
	return &readerSource{name: name, open: open}
}

func (s *readerSource) Name() string { return s.name }

func (s *readerSource) Open() (Stream, error) {
	rc, err := s.open()
	if err != nil {
		return nil, err
	}
	return newLiveStream(rc), nil
}

// ReplaySource replays a binary log written by a previous session.
type ReplaySource struct {
	Path string
}

func NewReplaySource(path string) *ReplaySource {
	return &ReplaySource{Path: path}
}

func (s *ReplaySource) Name() string { return "replay " + s.Path }

func (s *ReplaySource) Open() (Stream, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open replay log: %w", err)
	}
	return &replayStream{f: f, r: binlog.NewReader(f)}, nil
}

type replayStream struct {
	f *os.File
	r *binlog.Reader

	mu     sync.Mutex
	closed bool
}

func (rs *replayStream) Next() (Record, error) {
	rec, err := rs.r.Next()
	if err != nil {
		rs.mu.Lock()
		closed := rs.closed
		rs.mu.Unlock()
		if closed && !errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, err
	}
	return Record{Frame: rec.Frame, Recorded: true, TimestampMs: rec.TimestampMs}, nil
}

func (rs *replayStream) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return nil
	}
	rs.closed = true
	return rs.f.Close()
}
