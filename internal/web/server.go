// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package web serves plotting history and a live sample stream to browser
// dashboards.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/gait_computer/internal/bus"
	"github.com/relabs-tech/gait_computer/internal/processing"
	"github.com/relabs-tech/gait_computer/internal/ringbuf"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

const (
	writeWait       = 2 * time.Second
	shutdownTimeout = 5 * time.Second

	// DefaultStreamBuffer is the per-client backlog before samples are dropped.
	DefaultStreamBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other local ports
	},
}

// StatusFunc reports pipeline counters for /api/status.
type StatusFunc func() any

// Options configure a Server. Nil fields disable the matching endpoint.
type Options struct {
	History      *ringbuf.History
	Joints       *processing.JointTracker
	Bus          *bus.Bus
	Status       StatusFunc
	StaticDir    string
	StreamBuffer int
}

// Server exposes:
//
//	GET /api/history  ring buffer snapshot
//	GET /api/joints   latest knee angles
//	GET /api/status   capture, queue and bus counters
//	GET /ws           live samples, one JSON message each
type Server struct {
	opts    Options
	mux     *http.ServeMux
	clients atomic.Uint64
	active  atomic.Int64
}

// StreamMessage is what /ws clients receive.
type StreamMessage struct {
	Type   string         `json:"type"`
	Sample *sample.Sample `json:"sample,omitempty"`
}

func NewServer(opts Options) *Server {
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = DefaultStreamBuffer
	}
	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/joints", s.handleJoints)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /ws", s.handleStream)
	if opts.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(opts.StaticDir)))
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Clients returns the number of connected stream clients.
func (s *Server) Clients() int64 { return s.active.Load() }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("web: shutdown: %v", err)
		}
	}()

	log.Printf("web: listening on %s", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		http.Error(w, "history disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.opts.History.Snapshot())
}

func (s *Server) handleJoints(w http.ResponseWriter, r *http.Request) {
	if s.opts.Joints == nil {
		http.Error(w, "joint tracking disabled", http.StatusServiceUnavailable)
		return
	}
	angles := s.opts.Joints.Angles()
	if len(angles) == 0 {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, angles)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Status == nil {
		http.Error(w, "status disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.opts.Status())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Bus == nil {
		http.Error(w, "live stream disabled", http.StatusServiceUnavailable)
		return
	}

	// Subscribe before upgrading so no sample published after the handshake
	// is missed.
	id := fmt.Sprintf("ws-%d", s.clients.Add(1))
	ch, err := s.opts.Bus.SubscribeChan(id, s.opts.StreamBuffer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = s.opts.Bus.Unsubscribe(id)
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()
	defer s.opts.Bus.Unsubscribe(id)

	s.active.Add(1)
	defer s.active.Add(-1)

	// The read loop only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("web: websocket error: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case smp, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "pipeline stopped"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(StreamMessage{Type: "sample", Sample: &smp}); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}
}
