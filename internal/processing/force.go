package processing

import "sort"

// forceBreakpoint maps a pressure sensor resistance (kilo-ohms) to force.
type forceBreakpoint struct {
	ResistanceKOhm float64
	Force          float64
}

// forceTable is the sensor's resistance/force curve, ascending resistance.
var forceTable = []forceBreakpoint{
	{3.5, 40000},
	{4.2, 30000},
	{5.1, 20000},
	{6, 18000},
	{7, 14000},
	{8, 12000},
	{9, 11000},
	{10, 10000},
	{11, 9000},
	{13, 8000},
	{15.5, 7000},
	{19, 6000},
	{20, 5500},
	{30, 4500},
	{40, 4000},
	{50, 3500},
	{60, 3300},
	{70, 3200},
	{80, 3100},
	{90, 3000},
	{100, 2900},
	{200, 2100},
	{300, 1900},
	{400, 1800},
	{500, 1700},
	{600, 1600},
	{700, 1500},
}

// Quadratic fit of the saturated region below the first breakpoint.
//
// The coefficients look like they were fit against kilo-ohms, but the fit is
// applied to the measured value in ohms, which makes it explode for any
// realistic input. Existing recordings and dashboards were produced this way
// so the behaviour is kept; treat forces below the first breakpoint as
// saturated rather than calibrated.
const (
	lowFitC0 = 95220
	lowFitC1 = -20661
	lowFitC2 = 1269
)

// lowExtrapolation evaluates the saturation fit on a resistance in ohms.
func lowExtrapolation(ohms float64) float64 {
	return lowFitC0 + lowFitC1*ohms + lowFitC2*ohms*ohms
}

// ForceFromResistance converts a measured resistance in ohms to force.
//
// Below the smallest breakpoint the quadratic fit is used; above the largest
// the sensor is unloaded and 0 is returned. Otherwise the force is linearly
// interpolated between the breakpoints bracketing the input, using the
// first breakpoint strictly greater than it.
func ForceFromResistance(ohms float64) float64 {
	i := sort.Search(len(forceTable), func(i int) bool {
		return forceTable[i].ResistanceKOhm*1000 > ohms
	})
	switch {
	case i == 0:
		return lowExtrapolation(ohms)
	case i == len(forceTable):
		return 0
	}

	x0, y0 := forceTable[i-1].ResistanceKOhm*1000, forceTable[i-1].Force
	x1, y1 := forceTable[i].ResistanceKOhm*1000, forceTable[i].Force
	return y0 + (ohms-x0)*(y1-y0)/(x1-x0)
}

// Forces converts every insole resistance to force.
func Forces(ohms [8]float64) [8]float64 {
	var out [8]float64
	for i, r := range ohms {
		out[i] = ForceFromResistance(r)
	}
	return out
}
