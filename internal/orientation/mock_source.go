// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
	"time"
)

type mockSource struct {
	start time.Time
	phase float64
	now   func() time.Time
}

// NewMockSource creates a mock orientation source that swings a segment
// back and forth around the X axis, like a leg during gait. phase offsets
// the swing so several mock segments do not move in lockstep.
func NewMockSource(phase float64) Source {
	return &mockSource{start: time.Now(), phase: phase, now: time.Now}
}

// NewMockSourceAt is NewMockSource driven by an external clock.
func NewMockSourceAt(phase float64, now func() time.Time) Source {
	return &mockSource{start: now(), phase: phase, now: now}
}

func (m *mockSource) Next() (Quaternion, error) {
	elapsed := m.now().Sub(m.start).Seconds()

	swing := 30 * math.Sin(elapsed*2*math.Pi+m.phase) * math.Pi / 180
	twist := 5 * math.Cos(elapsed*1.3+m.phase) * math.Pi / 180

	q := FromAxisAngle(1, 0, 0, swing).Mul(FromAxisAngle(0, 0, 1, twist))
	return q.Normalize(), nil
}
