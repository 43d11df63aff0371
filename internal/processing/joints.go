package processing

import (
	"sort"
	"sync"

	"github.com/relabs-tech/gait_computer/internal/orientation"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

// Joint names a proximal/distal segment pair, e.g. thigh and shank.
type Joint struct {
	Name     string        `json:"name"`
	Proximal sample.NodeID `json:"proximal"`
	Distal   sample.NodeID `json:"distal"`
}

// DefaultJoints are the two knees of the standard deployment.
var DefaultJoints = []Joint{
	{Name: "left_knee", Proximal: 1, Distal: 3},
	{Name: "right_knee", Proximal: 2, Distal: 4},
}

// JointAngle is the relative rotation between a joint's two segments.
type JointAngle struct {
	Joint       string  `json:"joint"`
	Degrees     float64 `json:"degrees"`
	TimestampMs float64 `json:"timestamp_ms"`
}

// JointTracker keeps the latest mounted orientation of every node and
// derives the joint angles from them. It is safe for concurrent use.
type JointTracker struct {
	joints []Joint

	mu       sync.RWMutex
	segments map[sample.NodeID]orientation.Quaternion
	angles   map[string]JointAngle
}

func NewJointTracker(joints []Joint) *JointTracker {
	return &JointTracker{
		joints:   append([]Joint(nil), joints...),
		segments: make(map[sample.NodeID]orientation.Quaternion),
		angles:   make(map[string]JointAngle),
	}
}

// Update records an IMU orientation and returns the angles of every joint
// that node belongs to, once both of the joint's segments have reported.
// Non-IMU samples are ignored.
func (jt *JointTracker) Update(s sample.Sample) []JointAngle {
	if s.Kind != sample.KindImu {
		return nil
	}
	node := s.Imu.Node
	q := s.Imu.Position.QuatOrientation.RotateBy(orientation.MountingCorrection)

	jt.mu.Lock()
	defer jt.mu.Unlock()

	jt.segments[node] = q

	var out []JointAngle
	for _, j := range jt.joints {
		if j.Proximal != node && j.Distal != node {
			continue
		}
		prox, okP := jt.segments[j.Proximal]
		dist, okD := jt.segments[j.Distal]
		if !okP || !okD {
			continue
		}
		a := JointAngle{
			Joint:       j.Name,
			Degrees:     orientation.RelativeAngle(prox, dist),
			TimestampMs: s.Imu.TimestampMs,
		}
		jt.angles[j.Name] = a
		out = append(out, a)
	}
	return out
}

// Angles returns the latest angle of every joint seen so far, by name.
func (jt *JointTracker) Angles() []JointAngle {
	jt.mu.RLock()
	defer jt.mu.RUnlock()

	out := make([]JointAngle, 0, len(jt.angles))
	for _, a := range jt.angles {
		out = append(out, a)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Joint < out[k].Joint })
	return out
}

// HasAngle reports whether a joint that node belongs to has an angle yet.
func (jt *JointTracker) HasAngle(node sample.NodeID) bool {
	jt.mu.RLock()
	defer jt.mu.RUnlock()
	for _, j := range jt.joints {
		if j.Proximal != node && j.Distal != node {
			continue
		}
		if _, ok := jt.angles[j.Name]; ok {
			return true
		}
	}
	return false
}

// Segment returns the latest mounted orientation of node.
func (jt *JointTracker) Segment(node sample.NodeID) (orientation.Quaternion, bool) {
	jt.mu.RLock()
	defer jt.mu.RUnlock()
	q, ok := jt.segments[node]
	return q, ok
}
