package packet

import (
	"encoding/binary"

	"github.com/relabs-tech/gait_computer/internal/frame"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

// The encoders mirror the node firmware. They are used by the synthesizer
// and by tests; the capture path only decodes.

func vec(a sample.Axis3D) [3]float64 {
	return [3]float64{a.X, a.Y, a.Z}
}

func dividerWire(s sample.VoltageDividerSample) voltageDividerWire {
	return voltageDividerWire{Adc: s.AdcRawCount, Voltage: s.OutputVoltage, Resistance: s.CalculatedResistance}
}

// EncodeImu returns a full frame (length, type, body, CRC) for s.
func EncodeImu(s sample.ImuSample) ([]byte, error) {
	q := s.Position.QuatOrientation
	e := s.Position.EulerOrientation
	w := imuWire{
		Node: uint8(s.Node),
		Vectors: [6][3]float64{
			vec(s.Accel), vec(s.LinearAccel), vec(s.GravityAccel),
			vec(s.Gyro), vec(s.Mag), vec(s.Position.Position),
		},
		Quat:        [4]float64{q.W, q.X, q.Y, q.Z},
		Euler:       [3]float64{e.Roll, e.Pitch, e.Yaw},
		Calibration: [4]uint8{s.Calibration.Sys, s.Calibration.Accel, s.Calibration.Gyro, s.Calibration.Mag},
	}
	return encode(TypeImu, w)
}

// EncodeFlex returns a full frame for s.
func EncodeFlex(s sample.FlexSample) ([]byte, error) {
	return encode(TypeFlex, flexWire{Node: uint8(s.Node), Sensor: dividerWire(s.Flex)})
}

// EncodeInsole returns a full frame for s.
func EncodeInsole(s sample.InsoleSample) ([]byte, error) {
	w := insoleWire{Node: uint8(s.Node)}
	for i, vd := range s.Sensors {
		w.Sensors[i] = dividerWire(vd)
	}
	return encode(TypeInsole, w)
}

func encode(packetType byte, w any) ([]byte, error) {
	body, err := binary.Append(nil, binary.LittleEndian, w)
	if err != nil {
		return nil, err
	}
	return frame.Build(packetType, body)
}
