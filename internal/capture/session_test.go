package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/gait_computer/internal/binlog"
	"github.com/relabs-tech/gait_computer/internal/frame"
	"github.com/relabs-tech/gait_computer/internal/orientation"
	"github.com/relabs-tech/gait_computer/internal/packet"
	"github.com/relabs-tech/gait_computer/internal/queue"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

// fakeClock advances only when slept on.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func imuFrame(t *testing.T, node sample.NodeID) []byte {
	t.Helper()
	full, err := packet.EncodeImu(sample.ImuSample{
		Node:     node,
		Accel:    sample.Axis3D{Z: 9.81},
		Position: sample.PositionSample{QuatOrientation: orientation.Identity},
	})
	if err != nil {
		t.Fatalf("EncodeImu() error: %v", err)
	}
	return full
}

func flexFrame(t *testing.T, node sample.NodeID, ohms float64) []byte {
	t.Helper()
	full, err := packet.EncodeFlex(sample.FlexSample{Node: node, Flex: sample.VoltageDividerSample{CalculatedResistance: ohms}})
	if err != nil {
		t.Fatalf("EncodeFlex() error: %v", err)
	}
	return full
}

func corrupt(full []byte) []byte {
	out := append([]byte(nil), full...)
	out[len(out)/2] ^= 0x40
	return out
}

func bytesSource(data []byte) Source {
	return NewReaderSource("bytes", func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (e *errorSink) handle(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
}

func TestReplayDeliversValidFramesAndCountsCorruption(t *testing.T) {
	var log []byte
	log = binlog.AppendRecord(log, 5000, imuFrame(t, 1))
	log = binlog.AppendRecord(log, 5010, imuFrame(t, 1))
	log = binlog.AppendRecord(log, 5020, corrupt(flexFrame(t, 1, 12000)))
	log = binlog.AppendRecord(log, 5030, imuFrame(t, 1))
	// Pad with empty placeholder records to roughly a kilobyte.
	for len(log)+9 <= 1000 {
		log = binlog.AppendRecord(log, 5040, []byte{0})
	}

	path := filepath.Join(t.TempDir(), "session.bin")
	if err := os.WriteFile(path, log, 0o644); err != nil {
		t.Fatal(err)
	}

	q := queue.New(16)
	clock := newFakeClock()
	errs := &errorSink{}
	s := NewSession(q, Options{Clock: clock, OnError: errs.handle})

	if err := s.Start(context.Background(), NewReplaySource(path)); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, s)
	s.Stop()

	got := q.Drain(0)
	if len(got) != 3 {
		t.Fatalf("delivered %d samples, want 3", len(got))
	}
	for i, smp := range got {
		if smp.Kind != sample.KindImu || smp.Node() != 1 {
			t.Fatalf("sample %d = %v node %d, want Imu from node 1", i, smp.Kind, smp.Node())
		}
	}
	wantTs := []float64{0, 10, 30}
	for i, smp := range got {
		if smp.TimestampMs() != wantTs[i] {
			t.Fatalf("sample %d timestamp = %v, want %v", i, smp.TimestampMs(), wantTs[i])
		}
	}

	st := s.Stats()
	if st.ChecksumErrors != 1 || st.Samples != 3 || st.Frames != 4 {
		t.Fatalf("Stats() = %+v, want 4 frames, 3 samples, 1 checksum error", st)
	}
	if len(errs.errs) != 1 || !errors.Is(errs.errs[0], frame.ErrChecksum) {
		t.Fatalf("errors reported = %v, want one checksum error", errs.errs)
	}
	var ce *frame.ChecksumError
	if !errors.As(errs.errs[0], &ce) {
		t.Fatalf("reported error %T is not *frame.ChecksumError", errs.errs[0])
	}
}

func TestReplayIsPacedAgainstSessionStart(t *testing.T) {
	var log []byte
	log = binlog.AppendRecord(log, 100, imuFrame(t, 1))
	log = binlog.AppendRecord(log, 350, imuFrame(t, 2))
	path := filepath.Join(t.TempDir(), "paced.bin")
	if err := os.WriteFile(path, log, 0o644); err != nil {
		t.Fatal(err)
	}

	clock := newFakeClock()
	start := clock.Now()
	s := NewSession(queue.New(4), Options{Clock: clock, PollInterval: time.Millisecond})
	if err := s.Start(context.Background(), NewReplaySource(path)); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, s)

	if elapsed := clock.Now().Sub(start); elapsed < 250*time.Millisecond {
		t.Fatalf("replay finished after %v of clock time, want at least 250ms", elapsed)
	}
}

func TestStartFailsWhenSourceCannotOpen(t *testing.T) {
	s := NewSession(queue.New(1), Options{})
	err := s.Start(context.Background(), NewReplaySource(filepath.Join(t.TempDir(), "missing.bin")))
	if err == nil {
		t.Fatalf("Start() succeeded on a missing log")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Start() error = %v, want os.ErrNotExist", err)
	}
	if s.Running() {
		t.Fatalf("session reports running after failed start")
	}
}

func TestStartWithoutQueue(t *testing.T) {
	s := NewSession(nil, Options{})
	if err := s.Start(context.Background(), bytesSource(nil)); !errors.Is(err, ErrNoQueue) {
		t.Fatalf("Start() error = %v, want ErrNoQueue", err)
	}
}

func TestStopUnblocksLiveRead(t *testing.T) {
	pr, pw := io.Pipe()
	src := NewReaderSource("pipe", func() (io.ReadCloser, error) { return pr, nil })

	q := queue.New(4)
	s := NewSession(q, Options{})
	if err := s.Start(context.Background(), src); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !s.Running() || s.StartTime().IsZero() || s.ID() == "" {
		t.Fatalf("session not running after Start")
	}

	go pw.Write(imuFrame(t, 4))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	smp, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop() error: %v", err)
	}
	if smp.Node() != 4 {
		t.Fatalf("node = %d, want 4", smp.Node())
	}

	// The reader is now blocked waiting for more bytes.
	s.Stop()
	if s.Running() {
		t.Fatalf("session still running after Stop")
	}
	if !s.StartTime().IsZero() {
		t.Fatalf("start time not cleared by Stop")
	}
	s.Stop()
}

func TestRestartReplacesSession(t *testing.T) {
	pr, _ := io.Pipe()
	s := NewSession(queue.New(4), Options{})
	if err := s.Start(context.Background(), NewReaderSource("pipe", func() (io.ReadCloser, error) { return pr, nil })); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	first := s.ID()

	if err := s.Start(context.Background(), bytesSource(imuFrame(t, 1))); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	waitDone(t, s)
	if s.ID() == first {
		t.Fatalf("restart kept session id %s", first)
	}
	if st := s.Stats(); st.Samples != 1 {
		t.Fatalf("Stats() after restart = %+v, want 1 sample", st)
	}
	s.Stop()
}

func TestBinaryLoggingKeepsOnlyValidFrames(t *testing.T) {
	var stream []byte
	stream = append(stream, imuFrame(t, 1)...)
	stream = append(stream, corrupt(imuFrame(t, 1))...)
	stream = append(stream, 0, 1) // placeholders
	stream = append(stream, flexFrame(t, 2, 8000)...)

	path := filepath.Join(t.TempDir(), "out.bin")
	s := NewSession(queue.New(8), Options{Clock: newFakeClock()})
	s.EnableLogging(path)
	if s.LoggingPath() != path {
		t.Fatalf("LoggingPath() = %q", s.LoggingPath())
	}
	if err := s.Start(context.Background(), bytesSource(stream)); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, s)
	s.Stop()
	s.DisableLogging()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := binlog.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("logged %d records, want 2", len(recs))
	}
	if !bytes.Equal(recs[1].Frame, flexFrame(t, 2, 8000)) {
		t.Fatalf("second logged frame differs from the flex frame")
	}
	if st := s.Stats(); st.BytesLogged != uint64(len(imuFrame(t, 1))+len(flexFrame(t, 2, 8000))+16) {
		t.Fatalf("BytesLogged = %d", st.BytesLogged)
	}
}

func TestUnknownTypeAndBadSizeAreCounted(t *testing.T) {
	unknown, err := frame.Build(9, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	short, err := frame.Build(packet.TypeFlex, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}

	errs := &errorSink{}
	s := NewSession(queue.New(4), Options{OnError: errs.handle})
	if err := s.Start(context.Background(), bytesSource(append(unknown, short...))); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, s)

	st := s.Stats()
	if st.UnknownTypes != 1 || st.DecodeErrors != 1 || st.Samples != 0 {
		t.Fatalf("Stats() = %+v, want 1 unknown type and 1 decode error", st)
	}
	if len(errs.errs) != 2 || !errors.Is(errs.errs[0], packet.ErrUnknownType) || !errors.Is(errs.errs[1], packet.ErrPayloadSize) {
		t.Fatalf("errors reported = %v", errs.errs)
	}
}

func TestFullQueueDropsNewSamples(t *testing.T) {
	var stream []byte
	for i := 0; i < 3; i++ {
		stream = append(stream, imuFrame(t, sample.NodeID(i+1))...)
	}
	q := queue.New(1)
	s := NewSession(q, Options{})
	if err := s.Start(context.Background(), bytesSource(stream)); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, s)

	st := s.Stats()
	if st.Samples != 1 || st.QueueDrops != 2 {
		t.Fatalf("Stats() = %+v, want 1 sample and 2 drops", st)
	}
	if smp, _ := q.TryPop(); smp.Node() != 1 {
		t.Fatalf("kept node %d, want the oldest (1)", smp.Node())
	}
}

func TestFlexIsProcessedBeforeQueueing(t *testing.T) {
	q := queue.New(1)
	s := NewSession(q, Options{})
	if err := s.Start(context.Background(), bytesSource(flexFrame(t, 1, 25000))); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, s)

	smp, ok := q.TryPop()
	if !ok || smp.Kind != sample.KindFlex {
		t.Fatalf("expected a flex sample, got %+v", smp)
	}
	if smp.Flex.BendAngleDegrees != 25000 {
		t.Fatalf("BendAngleDegrees = %v, want 25000", smp.Flex.BendAngleDegrees)
	}
}
