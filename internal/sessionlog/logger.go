// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sessionlog flattens the latest state of every node into one wide
// row per update and appends it to a tabular sink (CSV or SQLite).
package sessionlog

import (
	"fmt"
	"log"
	"sync"

	"github.com/relabs-tech/gait_computer/internal/orientation"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

// Sink receives the header once and then one row per update. Row values are
// in header order.
type Sink interface {
	WriteHeader(columns []string) error
	WriteRow(values []float64) error
	Close() error
}

// Logger keeps the last known sample of every role. Nodes that have not
// reported yet are written with zero readings and an identity orientation.
type Logger struct {
	roles   []Role
	columns []string
	sink    Sink

	mu      sync.Mutex
	started bool
	imu     map[sample.NodeID]sample.ImuSample
	flex    map[sample.NodeID]sample.ProcessedFlexSample
	insole  map[sample.NodeID]sample.ProcessedInsoleSample
	row     []float64
	rows    uint64
	errs    uint64
}

func New(sink Sink, roles []Role) *Logger {
	if len(roles) == 0 {
		roles = DefaultRoles
	}
	return &Logger{
		roles:   roles,
		columns: Columns(roles),
		sink:    sink,
		imu:     make(map[sample.NodeID]sample.ImuSample),
		flex:    make(map[sample.NodeID]sample.ProcessedFlexSample),
		insole:  make(map[sample.NodeID]sample.ProcessedInsoleSample),
	}
}

func (l *Logger) Columns() []string { return append([]string(nil), l.columns...) }

func (l *Logger) tracks(s sample.Sample) bool {
	for _, r := range l.roles {
		if r.Node != s.Node() {
			continue
		}
		if s.Kind == sample.KindImu || s.Kind == r.Leg {
			return true
		}
	}
	return false
}

// Update caches s and appends a row with the state of every role. Samples
// from nodes or sensors outside the configured roles are ignored.
func (l *Logger) Update(s sample.Sample) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.tracks(s) {
		return nil
	}

	if !l.started {
		if err := l.sink.WriteHeader(l.columns); err != nil {
			return fmt.Errorf("sessionlog: header: %w", err)
		}
		l.started = true
	}

	switch s.Kind {
	case sample.KindImu:
		l.imu[s.Imu.Node] = *s.Imu
	case sample.KindFlex:
		l.flex[s.Flex.Raw.Node] = *s.Flex
	case sample.KindInsole:
		l.insole[s.Insole.Raw.Node] = *s.Insole
	}

	l.row = l.flatten(l.row[:0], s.TimestampMs())
	if err := l.sink.WriteRow(l.row); err != nil {
		return fmt.Errorf("sessionlog: row: %w", err)
	}
	l.rows++
	return nil
}

// Handle is Update as a bus.Handler. Errors are logged and counted.
func (l *Logger) Handle(s sample.Sample) {
	if err := l.Update(s); err != nil {
		l.mu.Lock()
		l.errs++
		n := l.errs
		l.mu.Unlock()
		if n == 1 || n%1000 == 0 {
			log.Printf("sessionlog: %v (%d failures)", err, n)
		}
	}
}

// Rows returns the number of rows written.
func (l *Logger) Rows() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sink.Close()
}

func (l *Logger) flatten(dst []float64, ts float64) []float64 {
	dst = append(dst, ts)
	for _, r := range l.roles {
		imu, ok := l.imu[r.Node]
		if !ok {
			imu = sample.ImuSample{Node: r.Node}
			imu.Position.QuatOrientation = orientation.Identity
		}
		dst = appendImu(dst, imu)

		switch r.Leg {
		case sample.KindFlex:
			dst = appendFlex(dst, l.flex[r.Node])
		case sample.KindInsole:
			dst = appendInsole(dst, l.insole[r.Node])
		}
	}
	return dst
}
