// Package calibration implements the multi-phase boot-time calibration
// procedure and the periodic drift monitor described in spec §4.3. It
// suspends normal sampling by construction: Run drives its own read loop
// instead of running alongside the sampler (spec §5, §9).
package calibration

import "math"

// Axis bounds, per spec §3 invariant 2 and §4.3.
const (
	maxHorizontalOffset = 0.5
	minZOffset          = 0.8
	maxZOffset          = 1.5

	stabilitySamples   = 50
	stabilityMaxStdDev = 0.01

	acquisitionSamples = 200

	postTestSamples  = 10
	postTestMaxMag   = 0.1

	driftWarnDelta = 0.1

	// DriftWarnRatio and DriftCritRatio are the relative-change thresholds
	// used by the periodic drift monitor (spec §4.3).
	DriftWarnRatio = 0.20
	DriftCritRatio = 0.50
)

// Frame is the minimal sample shape calibration needs — just the three
// raw axes in g, pre-offset.
type Frame struct {
	AX, AY, AZ float64
}

// Reader is injected so Run can be driven by a real sensor.Driver or a fake
// in tests, without calibration depending on the sensor package directly.
type Reader interface {
	Read() Frame
}

// Calibration is immutable once constructed; a new one always replaces the
// old by pointer swap (spec §3).
type Calibration struct {
	OffX, OffY, OffZ float64
	BaselineLTA      float64
	CreatedAtMono    int64
	Valid            bool
}

// Result carries the outcome of one Run, including advisory information
// that does not block acceptance.
type Result struct {
	Calibration  Calibration
	DriftWarning bool   // true if any axis moved > driftWarnDelta vs previous
	RejectReason string // empty on success
}

// Apply returns the calibrated frame: X/Y/Z all offset-subtracted, per the
// explicit "calibrated Z = raw Z - raw-Z-mean" policy decision in spec §9 —
// implementers must not silently restore 1g anywhere downstream.
func (c Calibration) Apply(f Frame) Frame {
	return Frame{
		AX: f.AX - c.OffX,
		AY: f.AY - c.OffY,
		AZ: f.AZ - c.OffZ,
	}
}

func stddev(samples []float64, mean float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		d := s - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// Run performs the full boot-time (or on-demand) calibration procedure.
// nowMono is stamped into CreatedAtMono. previous may
// be nil if no calibration exists yet.
func Run(reader Reader, previous *Calibration, nowMono int64) Result {
	// Phase 1: stability.
	var xs, ys, zs []float64
	for i := 0; i < stabilitySamples; i++ {
		f := reader.Read()
		xs = append(xs, f.AX)
		ys = append(ys, f.AY)
		zs = append(zs, f.AZ)
	}
	mx, my, mz := mean(xs), mean(ys), mean(zs)
	if stddev(xs, mx) > stabilityMaxStdDev || stddev(ys, my) > stabilityMaxStdDev || stddev(zs, mz) > stabilityMaxStdDev {
		return rejected(previous, "stability phase: axis standard deviation exceeds 0.01g")
	}

	// Phase 2: acquisition.
	xs, ys, zs = nil, nil, nil
	for i := 0; i < acquisitionSamples; i++ {
		f := reader.Read()
		xs = append(xs, f.AX)
		ys = append(ys, f.AY)
		zs = append(zs, f.AZ)
	}
	offX, offY := mean(xs), mean(ys)
	rawZMean := mean(zs)
	offZ := rawZMean // the Z offset is the raw mean, per spec §4.3 step 2 and §9

	// Phase 3: validation.
	if math.Abs(offX) > maxHorizontalOffset || math.Abs(offY) > maxHorizontalOffset {
		return rejected(previous, "validation: horizontal axis offset exceeds 0.5g")
	}
	if rawZMean < minZOffset || rawZMean > maxZOffset {
		return rejected(previous, "validation: raw Z mean outside [0.8g, 1.5g]")
	}
	if offZ < minZOffset || offZ > maxZOffset {
		return rejected(previous, "validation: proposed Z offset outside [0.8g, 1.5g]")
	}

	candidate := Calibration{OffX: offX, OffY: offY, OffZ: offZ, CreatedAtMono: nowMono}

	// Phase 4: drift advisory (never a hard failure).
	driftWarning := false
	if previous != nil {
		if math.Abs(candidate.OffX-previous.OffX) > driftWarnDelta ||
			math.Abs(candidate.OffY-previous.OffY) > driftWarnDelta ||
			math.Abs(candidate.OffZ-previous.OffZ) > driftWarnDelta {
			driftWarning = true
		}
	}

	// Phase 5: post-test.
	var mags []float64
	for i := 0; i < postTestSamples; i++ {
		f := candidate.Apply(reader.Read())
		mags = append(mags, magnitude(f))
	}
	baseline := mean(mags)
	if baseline > postTestMaxMag {
		return rejected(previous, "post-test: calibrated rest magnitude exceeds 0.1g")
	}

	candidate.BaselineLTA = baseline
	candidate.Valid = true
	return Result{Calibration: candidate, DriftWarning: driftWarning}
}

func magnitude(f Frame) float64 {
	return math.Sqrt(f.AX*f.AX + f.AY*f.AY + f.AZ*f.AZ)
}

func rejected(previous *Calibration, reason string) Result {
	r := Result{RejectReason: reason}
	if previous != nil {
		r.Calibration = *previous
	}
	return r
}

// DriftStatus classifies a running LTA against a calibration's baseline,
// per the periodic drift monitor in spec §4.3.
type DriftStatus int

const (
	DriftOK DriftStatus = iota
	DriftWarn
	DriftCritical
)

// CheckDrift compares currentLTA (read from the detector) to the
// calibration's stored baseline. It never stops detection by itself; the
// caller decides what DriftCritical means for Calibration.Valid.
func CheckDrift(baseline, currentLTA float64) DriftStatus {
	if baseline <= 0 {
		return DriftOK
	}
	ratio := math.Abs(currentLTA-baseline) / baseline
	switch {
	case ratio > DriftCritRatio:
		return DriftCritical
	case ratio > DriftWarnRatio:
		return DriftWarn
	default:
		return DriftOK
	}
}
