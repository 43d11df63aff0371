// Package sim synthesises node traffic for demos and tests: four walking
// segments with knee bend sensors and pressure insoles, encoded exactly as
// the firmware sends them.
package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/relabs-tech/gait_computer/internal/binlog"
	"github.com/relabs-tech/gait_computer/internal/orientation"
	"github.com/relabs-tech/gait_computer/internal/packet"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

const gravity = 9.81

// Options control the generated traffic. Zero values select defaults.
type Options struct {
	Duration     time.Duration // simulated time, default 10s
	RateHz       float64       // ticks per second, default 50
	StepHz       float64       // gait cycles per second, default 1
	CorruptEvery int           // flip a bit in every Nth frame; 0 disables
	Seed         uint64
}

func (o Options) withDefaults() Options {
	if o.Duration <= 0 {
		o.Duration = 10 * time.Second
	}
	if o.RateHz <= 0 {
		o.RateHz = 50
	}
	if o.StepHz <= 0 {
		o.StepHz = 1
	}
	return o
}

// Summary describes a generated log.
type Summary struct {
	Frames    int
	Corrupted int
	Bytes     uint64
}

// Generator produces frames tick by tick. Every tick emits one IMU frame per
// node, a flex frame for nodes 1 and 2 and an insole frame for nodes 3 and 4.
type Generator struct {
	opts    Options
	rng     *rand.Rand
	elapsed time.Duration
	sources map[sample.NodeID]orientation.Source
	frames  int
}

func NewGenerator(opts Options) *Generator {
	opts = opts.withDefaults()
	g := &Generator{
		opts:    opts,
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		sources: make(map[sample.NodeID]orientation.Source),
	}
	// Left and right legs are half a cycle apart; shanks lag thighs.
	phases := map[sample.NodeID]float64{1: 0, 2: math.Pi, 3: 0.6, 4: math.Pi + 0.6}
	for node, phase := range phases {
		g.sources[node] = orientation.NewMockSourceAt(phase, g.now)
	}
	return g
}

// now is the simulated clock seen by the mock orientation sources.
func (g *Generator) now() time.Time {
	return time.Unix(0, 0).Add(g.elapsed)
}

// Tick emits the frames of the next tick to fn with their timestamp in ms.
// It returns false once the configured duration is reached.
func (g *Generator) Tick(fn func(tsMs float64, full []byte) error) (bool, error) {
	if g.elapsed >= g.opts.Duration {
		return false, nil
	}
	ts := float64(g.elapsed) / float64(time.Millisecond)
	cycle := 2 * math.Pi * g.opts.StepHz * g.elapsed.Seconds()

	for node := sample.NodeID(1); node <= 4; node++ {
		imu, err := g.imuFrame(node, cycle)
		if err != nil {
			return false, err
		}
		if err := g.emit(fn, ts, imu); err != nil {
			return false, err
		}

		var leg []byte
		if node <= 2 {
			leg, err = g.flexFrame(node, cycle)
		} else {
			leg, err = g.insoleFrame(node, cycle)
		}
		if err != nil {
			return false, err
		}
		if err := g.emit(fn, ts, leg); err != nil {
			return false, err
		}
	}

	g.elapsed += time.Duration(float64(time.Second) / g.opts.RateHz)
	return true, nil
}

func (g *Generator) emit(fn func(float64, []byte) error, ts float64, full []byte) error {
	g.frames++
	if g.opts.CorruptEvery > 0 && g.frames%g.opts.CorruptEvery == 0 {
		// Never touch the length byte so the stream stays in sync.
		i := 1 + g.rng.IntN(len(full)-1)
		full[i] ^= 1 << g.rng.IntN(8)
	}
	return fn(ts, full)
}

// Corrupted reports whether the nth emitted frame (1-based) was corrupted.
func (g *Generator) Corrupted(n int) bool {
	return g.opts.CorruptEvery > 0 && n%g.opts.CorruptEvery == 0
}

func (g *Generator) noise(scale float64) float64 {
	return (g.rng.Float64()*2 - 1) * scale
}

func (g *Generator) imuFrame(node sample.NodeID, cycle float64) ([]byte, error) {
	q, err := g.sources[node].Next()
	if err != nil {
		return nil, err
	}
	gx, gy, gz := q.Conjugate().Rotate(0, 0, gravity)
	lin := sample.Axis3D{X: g.noise(0.2), Y: 0.8 * math.Sin(cycle), Z: g.noise(0.2)}

	s := sample.ImuSample{
		Node:         node,
		GravityAccel: sample.Axis3D{X: gx, Y: gy, Z: gz},
		LinearAccel:  lin,
		Accel:        sample.Axis3D{X: gx + lin.X, Y: gy + lin.Y, Z: gz + lin.Z},
		Gyro:         sample.Axis3D{X: 3 * math.Cos(cycle), Y: g.noise(0.05), Z: g.noise(0.05)},
		Mag:          sample.Axis3D{X: 22 + g.noise(0.5), Y: -5 + g.noise(0.5), Z: 41 + g.noise(0.5)},
		Position: sample.PositionSample{
			QuatOrientation:  q,
			EulerOrientation: q.Euler(),
		},
		Calibration: sample.Calibration{Sys: 3, Accel: 3, Gyro: 3, Mag: 2},
	}
	return packet.EncodeImu(s)
}

func divider(ohms float64) sample.VoltageDividerSample {
	// 3.3V across the sensor and a 10k reference resistor, 12-bit ADC.
	v := 3.3 * ohms / (ohms + 10000)
	return sample.VoltageDividerSample{
		AdcRawCount:          uint32(v / 3.3 * 4095),
		OutputVoltage:        v,
		CalculatedResistance: ohms,
	}
}

func (g *Generator) flexFrame(node sample.NodeID, cycle float64) ([]byte, error) {
	phase := 0.0
	if node == 2 {
		phase = math.Pi
	}
	ohms := 25000 + 10000*math.Sin(cycle+phase) + g.noise(200)
	return packet.EncodeFlex(sample.FlexSample{Node: node, Flex: divider(ohms)})
}

// Pressure rolls from heel (sensors 6, 7) to toes (sensors 0, 1) during
// stance and lifts off completely during swing.
var rollOrder = [sample.InsoleSensors]float64{1, 0.9, 0.7, 0.6, 0.5, 0.35, 0, 0}

func (g *Generator) insoleFrame(node sample.NodeID, cycle float64) ([]byte, error) {
	phase := 0.0
	if node == 4 {
		phase = math.Pi
	}
	stance := math.Mod(cycle+phase, 2*math.Pi) / (2 * math.Pi) // 0..1
	s := sample.InsoleSample{Node: node}
	for i := range s.Sensors {
		ohms := 1e6 // open circuit during swing
		if stance < 0.6 {
			// Loaded when the roll front passes the sensor.
			d := math.Abs(stance/0.6 - rollOrder[i])
			// Stay on the table; below it the force fit saturates wildly.
			ohms = math.Max(3500, 3500+60000*d*d+g.noise(100))
		}
		s.Sensors[i] = divider(ohms)
	}
	return packet.EncodeInsole(s)
}

// WriteLog writes a replay log of the configured traffic to path.
func WriteLog(path string, opts Options) (Summary, error) {
	w, err := binlog.CreateWriter(path)
	if err != nil {
		return Summary{}, fmt.Errorf("sim: %w", err)
	}

	g := NewGenerator(opts)
	var sum Summary
	write := func(ts float64, full []byte) error {
		sum.Frames++
		if g.Corrupted(sum.Frames) {
			sum.Corrupted++
		}
		return w.WriteRecord(ts, full)
	}
	for {
		more, err := g.Tick(write)
		if err != nil {
			_ = w.Close()
			return sum, fmt.Errorf("sim: %w", err)
		}
		if !more {
			break
		}
	}
	sum.Bytes = w.Written()
	if err := w.Close(); err != nil {
		return sum, fmt.Errorf("sim: %w", err)
	}
	return sum, nil
}
