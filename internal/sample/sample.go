// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sample

import (
	"fmt"

	"github.com/relabs-tech/gait_computer/internal/orientation"
)

// NodeID identifies a physical sensor location (1-4). Unknown IDs are kept
// and routed by value.
type NodeID uint8

// InsoleSensors is the fixed number of pressure sensors in an insole.
const InsoleSensors = 8

// Axis3D is a plain x/y/z vector.
type Axis3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PositionSample is the fused pose block of an IMU packet.
type PositionSample struct {
	Position         Axis3D                  `json:"position"`
	QuatOrientation  orientation.Quaternion  `json:"quat"`
	EulerOrientation orientation.EulerAngles `json:"euler"`
}

// Calibration holds the four fusion calibration status bytes (0-3 each).
type Calibration struct {
	Sys   uint8 `json:"sys"`
	Accel uint8 `json:"accel"`
	Gyro  uint8 `json:"gyro"`
	Mag   uint8 `json:"mag"`
}

// ImuSample represents a single IMU packet from one node.
type ImuSample struct {
	Node NodeID `json:"node"`

	Accel        Axis3D `json:"accel"`         // raw
	LinearAccel  Axis3D `json:"linear_accel"`  // gravity removed
	GravityAccel Axis3D `json:"gravity_accel"` // gravity vector
	Gyro         Axis3D `json:"gyro"`
	Mag          Axis3D `json:"mag"`

	Position    PositionSample `json:"position"`
	Calibration Calibration    `json:"calibration"`

	TimestampMs float64 `json:"timestamp_ms"` // since capture start
}

// VoltageDividerSample is a resistive sensor reading (bend or pressure).
type VoltageDividerSample struct {
	AdcRawCount          uint32  `json:"adc"`
	OutputVoltage        float64 `json:"voltage"`
	CalculatedResistance float64 `json:"resistance"` // ohms
}

// FlexSample is a single bend sensor reading.
type FlexSample struct {
	Node        NodeID               `json:"node"`
	Flex        VoltageDividerSample `json:"flex"`
	TimestampMs float64              `json:"timestamp_ms"`
}

// InsoleSample is one reading of every pressure sensor of an insole.
type InsoleSample struct {
	Node        NodeID                              `json:"node"`
	Sensors     [InsoleSensors]VoltageDividerSample `json:"sensors"`
	TimestampMs float64                             `json:"timestamp_ms"`
}

// ProcessedFlexSample adds engineering units to a FlexSample.
type ProcessedFlexSample struct {
	Raw FlexSample `json:"raw"`

	// BendAngleDegrees currently carries the calculated resistance unchanged.
	// The firmware does not yet report a calibrated angle and the name is
	// kept for compatibility with existing logs and dashboards.
	BendAngleDegrees float64 `json:"bend_angle_deg"`
}

// ProcessedInsoleSample adds interpolated forces and the center of pressure.
type ProcessedInsoleSample struct {
	Raw          InsoleSample           `json:"raw"`
	Forces       [InsoleSensors]float64 `json:"forces"`
	ForceCenterX float64                `json:"cop_x_cm"`
	ForceCenterY float64                `json:"cop_y_cm"`
}

// Kind discriminates the payload carried by a Sample.
type Kind uint8

const (
	KindImu Kind = iota
	KindFlex
	KindInsole
)

func (k Kind) String() string {
	switch k {
	case KindImu:
		return "imu"
	case KindFlex:
		return "flex"
	case KindInsole:
		return "insole"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Sample is the unit handed from capture to consumers. Exactly the field
// matching Kind is set. Before processing Flex and Insole carry only Raw.
type Sample struct {
	Kind   Kind                   `json:"kind"`
	Imu    *ImuSample             `json:"imu,omitempty"`
	Flex   *ProcessedFlexSample   `json:"flex,omitempty"`
	Insole *ProcessedInsoleSample `json:"insole,omitempty"`
}

// FromImu wraps an IMU sample.
func FromImu(s ImuSample) Sample {
	return Sample{Kind: KindImu, Imu: &s}
}

// FromFlex wraps an unprocessed flex sample.
func FromFlex(s FlexSample) Sample {
	return Sample{Kind: KindFlex, Flex: &ProcessedFlexSample{Raw: s}}
}

// FromInsole wraps an unprocessed insole sample.
func FromInsole(s InsoleSample) Sample {
	return Sample{Kind: KindInsole, Insole: &ProcessedInsoleSample{Raw: s}}
}

// Node returns the originating node of the sample.
func (s Sample) Node() NodeID {
	switch s.Kind {
	case KindImu:
		return s.Imu.Node
	case KindFlex:
		return s.Flex.Raw.Node
	case KindInsole:
		return s.Insole.Raw.Node
	}
	return 0
}

// TimestampMs returns the capture-relative timestamp of the sample.
func (s Sample) TimestampMs() float64 {
	switch s.Kind {
	case KindImu:
		return s.Imu.TimestampMs
	case KindFlex:
		return s.Flex.Raw.TimestampMs
	case KindInsole:
		return s.Insole.Raw.TimestampMs
	}
	return 0
}

// WithTimestamp returns a copy of s stamped with ts.
func (s Sample) WithTimestamp(ts float64) Sample {
	switch s.Kind {
	case KindImu:
		c := *s.Imu
		c.TimestampMs = ts
		s.Imu = &c
	case KindFlex:
		c := *s.Flex
		c.Raw.TimestampMs = ts
		s.Flex = &c
	case KindInsole:
		c := *s.Insole
		c.Raw.TimestampMs = ts
		s.Insole = &c
	}
	return s
}

// Clone returns a deep copy so retaining consumers do not share payloads.
func (s Sample) Clone() Sample {
	switch s.Kind {
	case KindImu:
		c := *s.Imu
		s.Imu = &c
	case KindFlex:
		c := *s.Flex
		s.Flex = &c
	case KindInsole:
		c := *s.Insole
		s.Insole = &c
	}
	return s
}
