// Package magnitude converts between peak ground acceleration and the
// derived scalars used in a SeismicRecord: Richter proxy, local magnitude,
// energy, peak frequency, and synthetic duration (spec §4.7). Every
// function here is a pure, stateless, clamped closed-form formula — the
// same small-model texture as a per-sample physical model, just applied
// once per event instead of once per sample.
package magnitude

import "math"

// LocalMagnitudeOffset is a per-station calibration constant; spec default
// is 0.
var LocalMagnitudeOffset = 0.0

const gravityMmPerS2 = 9806.65

// Richter converts PGA (g, a>0) to the Richter proxy used for
// classification, clamped to [-2, 10] per spec §4.7.
func Richter(aG float64) float64 {
	if aG <= 0 {
		return -2
	}
	v := math.Log10(aG*gravityMmPerS2) - LocalMagnitudeOffset
	return clamp(v, -2, 10)
}

// LocalMagnitude is the Wood-Anderson-style proxy, clamped to [-3, 8].
func LocalMagnitude(aG float64) float64 {
	if aG <= 0 {
		return -3
	}
	v := math.Log10((aG/(2*math.Pi*5))*1e6) - 2 - LocalMagnitudeOffset
	return clamp(v, -3, 8)
}

// EnergyJoules converts a Richter value to radiated energy, clamped to
// [1, 1e20]. Below -2 the formula is not meaningful and 0 is returned.
func EnergyJoules(richter float64) float64 {
	if richter < -2 {
		return 0
	}
	v := math.Pow(10, 11.8+1.5*richter)
	return clamp(v, 1, 1e20)
}

// PeakFrequencyHz is a coarse empirical fit, documented (per spec §4.7 and
// §9) as field-compatibility only — it is NOT dimensionally defensible and
// must never be reported as a scientific output.
func PeakFrequencyHz(aG float64) float64 {
	return clamp(30-50*aG, 1, 30)
}

// PGAFromRichter inverts Richter, for the simulation path (spec §4.7,
// §9 supplemented simulate() feature). Clamped to [1e-4, 10] g.
func PGAFromRichter(richter float64) float64 {
	v := math.Pow(10, richter+LocalMagnitudeOffset) / gravityMmPerS2
	return clamp(v, 1e-4, 10)
}

// SyntheticDurationMs implements the piecewise table in the GLOSSARY,
// clamped to [100, 300000] ms.
func SyntheticDurationMs(richter float64) float64 {
	var ms float64
	switch {
	case richter < 2:
		ms = 100 + 200*richter
	case richter < 4:
		ms = 1000 + 2000*(richter-2)
	case richter < 6:
		ms = 5000 + 12500*(richter-4)
	case richter < 7:
		ms = 30000 + 90000*(richter-6)
	default:
		ms = 120000 + 180000*(richter-7)
	}
	return clamp(ms, 100, 300000)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
