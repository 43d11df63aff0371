// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
)

// Quaternion is the orientation reported by a node's fusion firmware.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// EulerAngles is the roll/pitch/yaw triple reported alongside the quaternion.
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Identity is the no-rotation quaternion.
var Identity = Quaternion{W: 1}

// degenerateSin is the threshold below which the rotation axis is undefined.
const degenerateSin = 1e-8

// Source is anything that can provide orientations over time.
type Source interface {
	Next() (Quaternion, error)
}

// Mul returns q * r.
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Conjugate returns (w, -x, -y, -z).
func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize scales q to unit length. A zero quaternion is returned as Identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return Identity
	}
	return Quaternion{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// FromAxisAngle builds a unit quaternion rotating angleRad around axis.
func FromAxisAngle(ax, ay, az, angleRad float64) Quaternion {
	n := math.Sqrt(ax*ax + ay*ay + az*az)
	if n == 0 {
		return Identity
	}
	s := math.Sin(angleRad / 2)
	return Quaternion{
		W: math.Cos(angleRad / 2),
		X: ax / n * s,
		Y: ay / n * s,
		Z: az / n * s,
	}
}

// ToAxisAngle converts q to an axis and an angle in radians.
// When the sine term is near zero the axis is undefined and (1,0,0), 0 is
// returned instead of dividing by it.
func (q Quaternion) ToAxisAngle() (ax, ay, az, angleRad float64) {
	q = q.Normalize()
	w := math.Max(-1, math.Min(1, q.W))
	s := math.Sqrt(1 - w*w)
	if s < degenerateSin {
		return 1, 0, 0, 0
	}
	return q.X / s, q.Y / s, q.Z / s, 2 * math.Acos(w)
}

// Rotate applies q to the vector (x, y, z): q * v * conj(q).
func (q Quaternion) Rotate(x, y, z float64) (float64, float64, float64) {
	q = q.Normalize()
	r := q.Mul(Quaternion{X: x, Y: y, Z: z}).Mul(q.Conjugate())
	return r.X, r.Y, r.Z
}

// RotateBy conjugates q by r (r * q * conj(r)), re-expressing an orientation
// in a frame rotated by r.
func (q Quaternion) RotateBy(r Quaternion) Quaternion {
	r = r.Normalize()
	return r.Mul(q).Mul(r.Conjugate())
}

// Euler converts q to roll/pitch/yaw in degrees (aerospace ZYX sequence).
func (q Quaternion) Euler() EulerAngles {
	q = q.Normalize()

	sinrCosp := 2 * (q.W*q.X + q.Y*q.Z)
	cosrCosp := 1 - 2*(q.X*q.X+q.Y*q.Y)
	roll := math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	sinyCosp := 2 * (q.W*q.Z + q.X*q.Y)
	cosyCosp := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	yaw := math.Atan2(sinyCosp, cosyCosp)

	return EulerAngles{
		Roll:  roll * 180.0 / math.Pi,
		Pitch: pitch * 180.0 / math.Pi,
		Yaw:   yaw * 180.0 / math.Pi,
	}
}

// RelativeAngle returns the rotation angle, in degrees, between two adjacent
// segments: the angle of distal * conj(proximal). This is how a single knee
// angle is derived from independent thigh and shank orientations.
func RelativeAngle(proximal, distal Quaternion) float64 {
	rel := distal.Normalize().Mul(proximal.Normalize().Conjugate())
	_, _, _, angle := rel.ToAxisAngle()
	return angle * 180.0 / math.Pi
}

// MountingCorrection is the -90 degree yaw applied to every segment so the
// sensor's mounting frame lines up with the leg model.
var MountingCorrection = FromAxisAngle(0, 0, 1, -math.Pi/2)
