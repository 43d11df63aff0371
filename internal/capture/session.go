// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package capture runs the ingestion loop: it pulls frames from a serial
// port or a replay log, validates, decodes and processes them, and hands
// the resulting samples to a queue without ever blocking on consumers.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/relabs-tech/gait_computer/internal/binlog"
	"github.com/relabs-tech/gait_computer/internal/frame"
	"github.com/relabs-tech/gait_computer/internal/packet"
	"github.com/relabs-tech/gait_computer/internal/processing"
	"github.com/relabs-tech/gait_computer/internal/queue"
)

var ErrNoQueue = errors.New("capture: session has no queue")

// DefaultPollInterval is the pacing granularity during replay.
const DefaultPollInterval = 500 * time.Microsecond

// Sleeper lets tests drive replay pacing without real time.
type Sleeper interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type wallClock struct{}

func (wallClock) Now() time.Time        { return time.Now() }
func (wallClock) Sleep(d time.Duration) { time.Sleep(d) }

// ErrorHandler receives per-frame errors. It runs on the capture goroutine.
type ErrorHandler func(err error)

// Options configure a Session. Zero values select defaults.
type Options struct {
	Processor    *processing.Processor
	OnError      ErrorHandler
	Clock        Sleeper
	PollInterval time.Duration
}

// Stats counts what happened to every frame seen by the current session.
type Stats struct {
	Frames         uint64 `json:"frames"`
	Samples        uint64 `json:"samples"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	UnknownTypes   uint64 `json:"unknown_types"`
	DecodeErrors   uint64 `json:"decode_errors"`
	Malformed      uint64 `json:"malformed"`
	QueueDrops     uint64 `json:"queue_drops"`
	LogErrors      uint64 `json:"log_errors"`
	BytesLogged    uint64 `json:"bytes_logged"`
}

type counters struct {
	frames, samples, checksum, unknown, decode, malformed, drops, logErrors, logged atomic.Uint64
}

func (c *counters) reset() {
	for _, v := range []*atomic.Uint64{&c.frames, &c.samples, &c.checksum, &c.unknown, &c.decode, &c.malformed, &c.drops, &c.logErrors, &c.logged} {
		v.Store(0)
	}
}

// Session owns one capture at a time. Start and Stop are meant to be called
// from a single controlling goroutine; everything else is safe to call from
// anywhere.
type Session struct {
	q     *queue.SampleQueue
	proc  *processing.Processor
	onErr ErrorHandler
	clock Sleeper
	poll  time.Duration

	// ctl serialises Start and Stop; mu guards the fields below it and is
	// never held while waiting on the capture goroutine.
	ctl     sync.Mutex
	mu      sync.Mutex
	id      string
	source  string
	stream  Stream
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	logMu   sync.RWMutex
	logPath string

	stats counters
}

func NewSession(q *queue.SampleQueue, opts Options) *Session {
	s := &Session{
		q:     q,
		proc:  opts.Processor,
		onErr: opts.OnError,
		clock: opts.Clock,
		poll:  opts.PollInterval,
	}
	if s.proc == nil {
		s.proc = processing.NewProcessor(processing.DefaultLeftFootNode)
	}
	if s.clock == nil {
		s.clock = wallClock{}
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	return s
}

// Start stops any running capture, opens src and begins reading from it on
// a new goroutine. Failing to open src is reported here and leaves the
// session idle.
func (s *Session) Start(ctx context.Context, src Source) error {
	return s.StartWithID(ctx, src, "")
}

// StartWithID is Start with a caller chosen session id, for consumers that
// must be opened under that id before the first sample arrives. An empty id
// gets a fresh one.
func (s *Session) StartWithID(ctx context.Context, src Source, id string) error {
	if s.q == nil {
		return ErrNoQueue
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.stop()

	stream, err := src.Open()
	if err != nil {
		return fmt.Errorf("capture: %s: %w", src.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.id = id
	s.source = src.Name()
	s.stream = stream
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = s.clock.Now()
	s.stats.reset()

	log.Printf("capture: session %s started on %s", s.id, s.source)
	go s.run(runCtx, s.source, stream, s.started, s.done)
	return nil
}

// Stop cancels the running capture, closes its source and waits for the
// capture goroutine to exit. It is a no-op when idle. Stop must not be
// called from an ErrorHandler.
func (s *Session) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.stop()
}

func (s *Session) stop() {
	s.mu.Lock()
	stream, cancel, done := s.stream, s.cancel, s.done
	id, source, started := s.id, s.source, s.started
	s.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	if err := stream.Close(); err != nil {
		log.Printf("capture: closing %s: %v", source, err)
	}
	<-done

	st := s.Stats()
	log.Printf("capture: session %s stopped after %s: %s frames, %s samples, %d checksum errors, %d dropped, %s logged",
		id, s.clock.Now().Sub(started).Round(time.Millisecond),
		humanize.Comma(int64(st.Frames)), humanize.Comma(int64(st.Samples)),
		st.ChecksumErrors, st.QueueDrops, humanize.Bytes(st.BytesLogged))

	s.mu.Lock()
	s.stream = nil
	s.cancel = nil
	s.done = nil
	s.started = time.Time{}
	s.mu.Unlock()
}

// Wait blocks until the current source is exhausted or the session stops.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the capture goroutine is still reading.
func (s *Session) Running() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// ID identifies the current or last session.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// StartTime is zero while idle.
func (s *Session) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// EnableLogging appends every valid frame seen from now on to path. It may
// be toggled while a capture is running.
func (s *Session) EnableLogging(path string) {
	s.logMu.Lock()
	s.logPath = path
	s.logMu.Unlock()
	log.Printf("capture: binary logging to %s", path)
}

func (s *Session) DisableLogging() {
	s.logMu.Lock()
	s.logPath = ""
	s.logMu.Unlock()
}

func (s *Session) LoggingPath() string {
	s.logMu.RLock()
	defer s.logMu.RUnlock()
	return s.logPath
}

func (s *Session) Stats() Stats {
	return Stats{
		Frames:         s.stats.frames.Load(),
		Samples:        s.stats.samples.Load(),
		ChecksumErrors: s.stats.checksum.Load(),
		UnknownTypes:   s.stats.unknown.Load(),
		DecodeErrors:   s.stats.decode.Load(),
		Malformed:      s.stats.malformed.Load(),
		QueueDrops:     s.stats.drops.Load(),
		LogErrors:      s.stats.logErrors.Load(),
		BytesLogged:    s.stats.logged.Load(),
	}
}

func (s *Session) run(ctx context.Context, source string, stream Stream, started time.Time, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}
		rec, err := stream.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, io.EOF):
				log.Printf("capture: %s: end of input", source)
			default:
				log.Printf("capture: %s: read error: %v", source, err)
				s.report(err)
			}
			return
		}
		s.handle(ctx, rec, started)
	}
}

func (s *Session) handle(ctx context.Context, rec Record, started time.Time) {
	s.stats.frames.Add(1)

	f, err := frame.Validate(rec.Frame)
	if err != nil {
		if errors.Is(err, frame.ErrChecksum) {
			s.stats.checksum.Add(1)
		} else {
			s.stats.malformed.Add(1)
		}
		s.report(err)
		return
	}

	ts := rec.TimestampMs
	if !rec.Recorded {
		ts = float64(s.clock.Now().Sub(started)) / float64(time.Millisecond)
	}
	s.logFrame(ts, rec.Frame)

	smp, err := packet.DecodeFrame(f)
	if err != nil {
		if errors.Is(err, packet.ErrUnknownType) {
			s.stats.unknown.Add(1)
		} else {
			s.stats.decode.Add(1)
		}
		s.report(err)
		return
	}
	smp = s.proc.Process(smp.WithTimestamp(ts))

	if rec.Recorded && !s.pace(ctx, started, ts) {
		return
	}
	if !s.q.Push(smp) {
		s.stats.drops.Add(1)
		return
	}
	s.stats.samples.Add(1)
}

// pace waits until ts milliseconds have elapsed since started. It returns
// false when ctx is cancelled first.
func (s *Session) pace(ctx context.Context, started time.Time, ts float64) bool {
	target := time.Duration(ts * float64(time.Millisecond))
	for s.clock.Now().Sub(started) < target {
		if ctx.Err() != nil {
			return false
		}
		s.clock.Sleep(s.poll)
	}
	return true
}

func (s *Session) logFrame(ts float64, full []byte) {
	path := s.LoggingPath()
	if path == "" {
		return
	}
	if err := binlog.Append(path, ts, full); err != nil {
		s.stats.logErrors.Add(1)
		log.Printf("capture: binary log %s: %v", path, err)
		return
	}
	s.stats.logged.Add(uint64(8 + len(full)))
}

func (s *Session) report(err error) {
	if s.onErr != nil {
		s.onErr(err)
	}
}
