package risk

import "math"

// QuantizeVolume floors a raw volume down to the nearest broker lot step,
// grounded on the teacher's internal/util.FloorToTick (floor, not round, so a
// sized order never exceeds what the sizing formula computed).
func QuantizeVolume(volume, lotStep float64) float64 {
	if lotStep <= 0 || math.IsNaN(volume) || math.IsInf(volume, 0) {
		return volume
	}
	return math.Floor(volume/lotStep) * lotStep
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
