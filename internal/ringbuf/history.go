package ringbuf

import (
	"sync"

	"github.com/relabs-tech/gait_computer/internal/processing"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

// History keeps the last N samples of every node and kind, plus the last N
// joint angles, for plots that refresh on their own timer.
type History struct {
	capacity int

	mu     sync.RWMutex
	imu    map[sample.NodeID]*RingBuffer[sample.ImuSample]
	flex   map[sample.NodeID]*RingBuffer[sample.ProcessedFlexSample]
	insole map[sample.NodeID]*RingBuffer[sample.ProcessedInsoleSample]
	joints map[string]*RingBuffer[processing.JointAngle]
}

// Snapshot is a point-in-time copy of a History, oldest first.
type Snapshot struct {
	Imu    map[sample.NodeID][]sample.ImuSample             `json:"imu"`
	Flex   map[sample.NodeID][]sample.ProcessedFlexSample   `json:"flex"`
	Insole map[sample.NodeID][]sample.ProcessedInsoleSample `json:"insole"`
	Joints map[string][]processing.JointAngle               `json:"joints"`
}

func NewHistory(capacity int) *History {
	return &History{
		capacity: capacity,
		imu:      make(map[sample.NodeID]*RingBuffer[sample.ImuSample]),
		flex:     make(map[sample.NodeID]*RingBuffer[sample.ProcessedFlexSample]),
		insole:   make(map[sample.NodeID]*RingBuffer[sample.ProcessedInsoleSample]),
		joints:   make(map[string]*RingBuffer[processing.JointAngle]),
	}
}

func bufferFor[K comparable, T any](m map[K]*RingBuffer[T], key K, capacity int) *RingBuffer[T] {
	rb, ok := m[key]
	if !ok {
		rb = New[T](capacity)
		m[key] = rb
	}
	return rb
}

// Add records a copy of s. It has the bus.Handler signature.
func (h *History) Add(s sample.Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch s.Kind {
	case sample.KindImu:
		bufferFor(h.imu, s.Imu.Node, h.capacity).Append(*s.Imu)
	case sample.KindFlex:
		bufferFor(h.flex, s.Flex.Raw.Node, h.capacity).Append(*s.Flex)
	case sample.KindInsole:
		bufferFor(h.insole, s.Insole.Raw.Node, h.capacity).Append(*s.Insole)
	}
}

// AddJoint records a joint angle.
func (h *History) AddJoint(a processing.JointAngle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bufferFor(h.joints, a.Joint, h.capacity).Append(a)
}

// Snapshot copies the current contents.
func (h *History) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := Snapshot{
		Imu:    make(map[sample.NodeID][]sample.ImuSample, len(h.imu)),
		Flex:   make(map[sample.NodeID][]sample.ProcessedFlexSample, len(h.flex)),
		Insole: make(map[sample.NodeID][]sample.ProcessedInsoleSample, len(h.insole)),
		Joints: make(map[string][]processing.JointAngle, len(h.joints)),
	}
	for k, rb := range h.imu {
		snap.Imu[k] = rb.Slice()
	}
	for k, rb := range h.flex {
		snap.Flex[k] = rb.Slice()
	}
	for k, rb := range h.insole {
		snap.Insole[k] = rb.Slice()
	}
	for k, rb := range h.joints {
		snap.Joints[k] = rb.Slice()
	}
	return snap
}

// Reset forgets everything, e.g. when a new capture starts.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.imu)
	clear(h.flex)
	clear(h.insole)
	clear(h.joints)
}
