package sessionlog

import (
	"fmt"

	"github.com/relabs-tech/gait_computer/internal/sample"
)

// Role binds a node to the leg sensor it carries next to its IMU.
type Role struct {
	Node sample.NodeID
	Leg  sample.Kind // KindFlex or KindInsole
}

// DefaultRoles is the standard four-node layout: knees on 1 and 2, feet on
// 3 and 4.
var DefaultRoles = []Role{
	{Node: 1, Leg: sample.KindFlex},
	{Node: 2, Leg: sample.KindFlex},
	{Node: 3, Leg: sample.KindInsole},
	{Node: 4, Leg: sample.KindInsole},
}

var (
	xyz   = []string{"x", "y", "z"}
	wxyz  = []string{"w", "x", "y", "z"}
	euler = []string{"roll", "pitch", "yaw"}
	calib = []string{"sys", "accel", "gyro", "mag"}
)

func imuColumns(node sample.NodeID) []string {
	prefix := fmt.Sprintf("node_%d_imu", node)
	var cols []string
	add := func(group string, parts []string) {
		for _, p := range parts {
			cols = append(cols, prefix+"_"+group+"_"+p)
		}
	}
	add("accel", xyz)
	add("linear_accel", xyz)
	add("gravity_accel", xyz)
	add("gyro", xyz)
	add("mag", xyz)
	add("position", xyz)
	add("quat", wxyz)
	add("euler", euler)
	add("calibration", calib)
	return cols
}

func dividerColumns(base string) []string {
	return []string{base + "_adc", base + "_voltage", base + "_resistance"}
}

func flexColumns(node sample.NodeID) []string {
	prefix := fmt.Sprintf("node_%d_flex", node)
	return append(dividerColumns(prefix), prefix+"_bend_angle_deg")
}

func insoleColumns(node sample.NodeID) []string {
	prefix := fmt.Sprintf("node_%d_insole", node)
	var cols []string
	for i := 0; i < sample.InsoleSensors; i++ {
		cols = append(cols, dividerColumns(fmt.Sprintf("%s_sensor_%d", prefix, i))...)
	}
	for i := 0; i < sample.InsoleSensors; i++ {
		cols = append(cols, fmt.Sprintf("%s_force_%d", prefix, i))
	}
	return append(cols, prefix+"_cop_x_cm", prefix+"_cop_y_cm")
}

// Columns returns the header for roles: timestamp_ms, then per role its IMU
// block followed by its leg sensor block.
func Columns(roles []Role) []string {
	cols := []string{"timestamp_ms"}
	for _, r := range roles {
		cols = append(cols, imuColumns(r.Node)...)
		switch r.Leg {
		case sample.KindFlex:
			cols = append(cols, flexColumns(r.Node)...)
		case sample.KindInsole:
			cols = append(cols, insoleColumns(r.Node)...)
		}
	}
	return cols
}

func appendAxis(dst []float64, a sample.Axis3D) []float64 {
	return append(dst, a.X, a.Y, a.Z)
}

func appendImu(dst []float64, s sample.ImuSample) []float64 {
	dst = appendAxis(dst, s.Accel)
	dst = appendAxis(dst, s.LinearAccel)
	dst = appendAxis(dst, s.GravityAccel)
	dst = appendAxis(dst, s.Gyro)
	dst = appendAxis(dst, s.Mag)
	dst = appendAxis(dst, s.Position.Position)
	q, e := s.Position.QuatOrientation, s.Position.EulerOrientation
	dst = append(dst, q.W, q.X, q.Y, q.Z)
	dst = append(dst, e.Roll, e.Pitch, e.Yaw)
	c := s.Calibration
	return append(dst, float64(c.Sys), float64(c.Accel), float64(c.Gyro), float64(c.Mag))
}

func appendDivider(dst []float64, vd sample.VoltageDividerSample) []float64 {
	return append(dst, float64(vd.AdcRawCount), vd.OutputVoltage, vd.CalculatedResistance)
}

func appendFlex(dst []float64, s sample.ProcessedFlexSample) []float64 {
	dst = appendDivider(dst, s.Raw.Flex)
	return append(dst, s.BendAngleDegrees)
}

func appendInsole(dst []float64, s sample.ProcessedInsoleSample) []float64 {
	for _, vd := range s.Raw.Sensors {
		dst = appendDivider(dst, vd)
	}
	dst = append(dst, s.Forces[:]...)
	return append(dst, s.ForceCenterX, s.ForceCenterY)
}
