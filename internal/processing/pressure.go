package processing

import "github.com/relabs-tech/gait_computer/internal/sample"

// Insole layout in pixels of the reference foot drawing.
var (
	// pressureLocations are the sensor centers, indexed like InsoleSample.Sensors.
	pressureLocations = [sample.InsoleSensors][2]float64{
		{197, 211},
		{561, 326},
		{120, 705},
		{473, 760},
		{769, 860},
		{670, 1379},
		{253, 2185},
		{552, 2185},
	}
	footWidthPx  = 900.0
	footLengthPx = 2350.0
)

const (
	pixelsPerCm = 100.0
	// forceNoiseFloor excludes a reading from the centroid entirely.
	forceNoiseFloor = 1.0
)

// CenterOfPressure returns the force-weighted centroid, in centimeters from
// the center of the insole layout. Readings below the noise floor do not
// contribute offsets; the weighted sums are divided by the total of all
// readings. If nothing clears the floor the center is (0, 0).
func CenterOfPressure(forces [sample.InsoleSensors]float64) (x, y float64) {
	var total, sumX, sumY float64
	included := 0
	for i, f := range forces {
		total += f
		if f < forceNoiseFloor {
			continue
		}
		included++
		relX := pressureLocations[i][0] - footWidthPx/2
		relY := pressureLocations[i][1] - footLengthPx/2
		sumX += f * (relX / pixelsPerCm)
		sumY += f * (relY / pixelsPerCm)
	}
	if included == 0 {
		return 0, 0
	}
	return sumX / total, sumY / total
}
