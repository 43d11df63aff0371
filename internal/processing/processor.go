// Package processing converts decoded samples into engineering units.
package processing

import (
	"github.com/relabs-tech/gait_computer/internal/sample"
)

// DefaultLeftFootNode is the insole node mounted on the left foot.
const DefaultLeftFootNode sample.NodeID = 3

// Processor applies the per-kind signal processing to decoded samples.
type Processor struct {
	// LeftFootNode has its center of pressure mirrored on X so both feet
	// share one sign convention.
	LeftFootNode sample.NodeID
}

func NewProcessor(leftFootNode sample.NodeID) *Processor {
	return &Processor{LeftFootNode: leftFootNode}
}

// Process returns a processed copy of s. IMU samples pass through unchanged.
func (p *Processor) Process(s sample.Sample) sample.Sample {
	switch s.Kind {
	case sample.KindFlex:
		flex := ProcessFlex(s.Flex.Raw)
		return sample.Sample{Kind: sample.KindFlex, Flex: &flex}
	case sample.KindInsole:
		insole := ProcessInsole(s.Insole.Raw, s.Insole.Raw.Node == p.LeftFootNode)
		return sample.Sample{Kind: sample.KindInsole, Insole: &insole}
	default:
		return s.Clone()
	}
}

// ProcessFlex derives the bend reading. The bend "angle" is the calculated
// resistance passed through unchanged until the bend sensors are calibrated.
func ProcessFlex(raw sample.FlexSample) sample.ProcessedFlexSample {
	return sample.ProcessedFlexSample{
		Raw:              raw,
		BendAngleDegrees: raw.Flex.CalculatedResistance,
	}
}

// ProcessInsole interpolates every sensor's force and the center of pressure.
func ProcessInsole(raw sample.InsoleSample, leftFoot bool) sample.ProcessedInsoleSample {
	var ohms [sample.InsoleSensors]float64
	for i, vd := range raw.Sensors {
		ohms[i] = vd.CalculatedResistance
	}
	forces := Forces(ohms)
	cx, cy := CenterOfPressure(forces)
	if leftFoot {
		cx = -cx
	}
	return sample.ProcessedInsoleSample{
		Raw:          raw,
		Forces:       forces,
		ForceCenterX: cx,
		ForceCenterY: cy,
	}
}
