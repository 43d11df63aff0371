// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package packet maps a frame's type discriminant to its fixed binary layout.
// All fields are little-endian; floating fields are IEEE-754 doubles.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/relabs-tech/gait_computer/internal/frame"
	"github.com/relabs-tech/gait_computer/internal/orientation"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

// Packet type discriminants (byte 1 of the frame).
const (
	TypeImu    byte = 0
	TypeFlex   byte = 1
	TypeInsole byte = 2
)

var (
	ErrUnknownType = errors.New("packet: unknown type")
	ErrPayloadSize = errors.New("packet: payload size mismatch")
)

// imuWire: node + accel, linearAccel, gravityAccel, gyro, mag, position
// (6x3 doubles) + quaternion wxyz + euler roll/pitch/yaw + calibration
// sys/accel/gyro/mag.
type imuWire struct {
	Node        uint8
	Vectors     [6][3]float64
	Quat        [4]float64
	Euler       [3]float64
	Calibration [4]uint8
}

type voltageDividerWire struct {
	Adc        uint32
	Voltage    float64
	Resistance float64
}

type flexWire struct {
	Node   uint8
	Sensor voltageDividerWire
}

type insoleWire struct {
	Node    uint8
	Sensors [sample.InsoleSensors]voltageDividerWire
}

// Body sizes after the type byte.
var (
	ImuSize    = binary.Size(imuWire{})    // 205
	FlexSize   = binary.Size(flexWire{})   // 21
	InsoleSize = binary.Size(insoleWire{}) // 161
)

// BodySize returns the expected body size for packetType.
func BodySize(packetType byte) (int, error) {
	switch packetType {
	case TypeImu:
		return ImuSize, nil
	case TypeFlex:
		return FlexSize, nil
	case TypeInsole:
		return InsoleSize, nil
	default:
		return 0, fmt.Errorf("%w %d", ErrUnknownType, packetType)
	}
}

// DecodeFrame decodes a CRC-validated frame.
func DecodeFrame(f frame.RawFrame) (sample.Sample, error) {
	return Decode(f.Type(), f.Body())
}

// Decode decodes body (the frame payload after the type byte, CRC removed)
// according to packetType. Timestamps are left at zero for the caller.
func Decode(packetType byte, body []byte) (sample.Sample, error) {
	want, err := BodySize(packetType)
	if err != nil {
		return sample.Sample{}, err
	}
	if len(body) != want {
		return sample.Sample{}, fmt.Errorf("%w: type %d has %d bytes, want %d", ErrPayloadSize, packetType, len(body), want)
	}

	switch packetType {
	case TypeImu:
		var w imuWire
		if _, err := binary.Decode(body, binary.LittleEndian, &w); err != nil {
			return sample.Sample{}, fmt.Errorf("packet: imu: %w", err)
		}
		return sample.FromImu(w.toSample()), nil

	case TypeFlex:
		var w flexWire
		if _, err := binary.Decode(body, binary.LittleEndian, &w); err != nil {
			return sample.Sample{}, fmt.Errorf("packet: flex: %w", err)
		}
		return sample.FromFlex(sample.FlexSample{
			Node: sample.NodeID(w.Node),
			Flex: w.Sensor.toSample(),
		}), nil

	default:
		var w insoleWire
		if _, err := binary.Decode(body, binary.LittleEndian, &w); err != nil {
			return sample.Sample{}, fmt.Errorf("packet: insole: %w", err)
		}
		s := sample.InsoleSample{Node: sample.NodeID(w.Node)}
		for i, vd := range w.Sensors {
			s.Sensors[i] = vd.toSample()
		}
		return sample.FromInsole(s), nil
	}
}

func axis(v [3]float64) sample.Axis3D {
	return sample.Axis3D{X: v[0], Y: v[1], Z: v[2]}
}

func (w imuWire) toSample() sample.ImuSample {
	return sample.ImuSample{
		Node:         sample.NodeID(w.Node),
		Accel:        axis(w.Vectors[0]),
		LinearAccel:  axis(w.Vectors[1]),
		GravityAccel: axis(w.Vectors[2]),
		Gyro:         axis(w.Vectors[3]),
		Mag:          axis(w.Vectors[4]),
		Position: sample.PositionSample{
			Position:         axis(w.Vectors[5]),
			QuatOrientation:  orientation.Quaternion{W: w.Quat[0], X: w.Quat[1], Y: w.Quat[2], Z: w.Quat[3]},
			EulerOrientation: orientation.EulerAngles{Roll: w.Euler[0], Pitch: w.Euler[1], Yaw: w.Euler[2]},
		},
		Calibration: sample.Calibration{
			Sys:   w.Calibration[0],
			Accel: w.Calibration[1],
			Gyro:  w.Calibration[2],
			Mag:   w.Calibration[3],
		},
	}
}

func (w voltageDividerWire) toSample() sample.VoltageDividerSample {
	return sample.VoltageDividerSample{
		AdcRawCount:          w.Adc,
		OutputVoltage:        w.Voltage,
		CalculatedResistance: w.Resistance,
	}
}
