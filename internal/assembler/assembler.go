// Package assembler implements the Event Assembler state machine (spec
// §4.6): it turns a sustained STA/LTA trigger into an enriched SeismicRecord,
// gated on wall-clock trust (spec §3 invariant 1).
package assembler

import (
	"github.com/basincorp/seismograph/internal/magnitude"
	"github.com/basincorp/seismograph/internal/record"
)

// MinEventDurationMs is the minimum duration an event must sustain to be
// emitted (spec §3 invariant 4, §6 config table default).
const MinEventDurationMs = 100

type state int

const (
	idle state = iota
	active
)

// Clock is the minimal collaborator the assembler needs from internal/clock
// — kept as an interface so tests can fake trust/time without constructing
// a real clock.Clock.
type Clock interface {
	NowMono() int64
	NowWall() float64
	Trusted() bool
}

// CalibrationInfo is read-only context stamped into sensor_data at emit
// time; the assembler never touches the Calibration type directly so it
// doesn't need to import internal/calibration.
type CalibrationInfo struct {
	Valid           bool
	AgeHours        float64
}

// AlgorithmInfo carries the detector's current parameters for the
// algorithm{} block of the record (spec §3).
type AlgorithmInfo struct {
	TriggerRatio    float64
	STAWindow       int
	LTAWindow       int
	BackgroundNoise float64
}

// activeEvent mirrors spec §3's ActiveEvent entity.
type activeEvent struct {
	startTsMono, lastTsMono int64
	maxMag, sumMag          float64
	count                   int
	maxAX, maxAY, maxAZ     float64
}

// Assembler owns at most one ActiveEvent at a time (spec §3 invariant 4).
// Not safe for concurrent use — it lives entirely in the sampler domain.
type Assembler struct {
	clock Clock
	st    state
	ev    activeEvent

	sampleRateHz float64

	eventsDetected       uint64
	eventsRejectedNoTime uint64
}

func New(clock Clock, sampleRateHz float64) *Assembler {
	return &Assembler{clock: clock, sampleRateHz: sampleRateHz}
}

// EventsDetected and EventsRejectedNoTime are exported counters for
// telemetry (spec §4.10).
func (a *Assembler) EventsDetected() uint64       { return a.eventsDetected }
func (a *Assembler) EventsRejectedNoTime() uint64 { return a.eventsRejectedNoTime }

// Sample is the per-tick input the assembler needs beyond the trigger
// boolean: the magnitude and tri-axial components for sensor_data.
type Sample struct {
	AX, AY, AZ, Magnitude float64
}

// Step advances the state machine by one admitted sample. calib and algo
// are consulted only at emit time. It returns a non-nil *record.SeismicRecord
// exactly when an event completes and is accepted (spec §4.6 emit rules).
func (a *Assembler) Step(s Sample, triggered bool, calib CalibrationInfo, algo AlgorithmInfo) *record.SeismicRecord {
	now := a.clock.NowMono()

	switch a.st {
	case idle:
		if triggered {
			a.enter(s, now)
		}
		return nil

	case active:
		if triggered {
			a.accumulate(s, now)
			return nil
		}
		// Trigger dropped: emit if long enough, else keep waiting (spec §4.6
		// state diagram — ACTIVE is sticky until MIN_EVENT_DURATION is met).
		// Gated on the same span the record's duration_ms is computed from
		// (lastTsMono-startTsMono, the last *accumulated* sample) rather than
		// now-startTsMono, since the dropping sample itself is never
		// accumulated — gating on now would let a record emit with
		// duration_ms just under MinEventDurationMs (spec §3 invariant 4).
		if a.ev.lastTsMono-a.ev.startTsMono >= MinEventDurationMs {
			rec := a.emit(calib, algo)
			a.st = idle
			a.ev = activeEvent{}
			return rec
		}
		a.accumulate(s, now)
		return nil
	}
	return nil
}

func (a *Assembler) enter(s Sample, now int64) {
	a.st = active
	a.ev = activeEvent{
		startTsMono: now,
		lastTsMono:  now,
		maxMag:      s.Magnitude,
		sumMag:      s.Magnitude,
		count:       1,
		maxAX:       s.AX,
		maxAY:       s.AY,
		maxAZ:       s.AZ,
	}
}

func (a *Assembler) accumulate(s Sample, now int64) {
	a.ev.lastTsMono = now
	if s.Magnitude > a.ev.maxMag {
		a.ev.maxMag = s.Magnitude
	}
	a.ev.sumMag += s.Magnitude
	a.ev.count++
	a.ev.maxAX = maxAbs(a.ev.maxAX, s.AX)
	a.ev.maxAY = maxAbs(a.ev.maxAY, s.AY)
	a.ev.maxAZ = maxAbs(a.ev.maxAZ, s.AZ)
}

func maxAbs(cur, v float64) float64 {
	if abs(v) > abs(cur) {
		return v
	}
	return cur
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// emit builds the SeismicRecord using the magnitude model for derived
// scalars, stamping wall-clock time *at emit time* via the injected Clock
// (spec §4.6). A nil return plus incrementing eventsRejectedNoTime signals
// the untrusted-clock drop path (spec §3 invariant 1, §7).
func (a *Assembler) emit(calib CalibrationInfo, algo AlgorithmInfo) *record.SeismicRecord {
	if !a.clock.Trusted() {
		a.eventsRejectedNoTime++
		return nil
	}

	durationMs := float64(a.ev.lastTsMono - a.ev.startTsMono)
	pga := a.ev.maxMag
	richter := magnitude.Richter(pga)
	eventType, level, richterRange := record.Classify(richter)

	dataQuality := "excellent"
	if !calib.Valid {
		dataQuality = "good"
	}

	tsWall := a.clock.NowWall()
	rec := &record.SeismicRecord{
		EventID: record.NewEventID(),
		Detection: record.Detection{
			TsWall:       tsWall,
			IsoWall:      isoWall(tsWall),
			NTPValidated: true,
			BootTimeMs:   a.ev.startTsMono,
		},
		Classification: record.Classification{
			Type:         eventType,
			IntensityLvl: level,
			RichterRange: richterRange,
			Confidence:   0.95,
		},
		Measurements: record.Measurements{
			PGAg:            pga,
			Richter:         richter,
			LocalMagnitude:  magnitude.LocalMagnitude(pga),
			DurationMs:      durationMs,
			PeakFrequencyHz: magnitude.PeakFrequencyHz(pga),
			EnergyJoules:    magnitude.EnergyJoules(richter),
		},
		SensorData: record.SensorData{
			MaxAX:               a.ev.maxAX,
			MaxAY:               a.ev.maxAY,
			MaxAZ:               a.ev.maxAZ,
			VectorMagnitude:     a.ev.maxMag,
			CalibrationValid:    calib.Valid,
			CalibrationAgeHours: calib.AgeHours,
		},
		Algorithm: record.Algorithm{
			Method:          "STA_LTA",
			TriggerRatio:    algo.TriggerRatio,
			STAWindow:       algo.STAWindow,
			LTAWindow:       algo.LTAWindow,
			BackgroundNoise: algo.BackgroundNoise,
		},
		Metadata: record.Metadata{
			Source:            "detector",
			ProcessingVersion: "1.0.0",
			SampleRateHz:      a.sampleRateHz,
			FilterApplied:     true,
			DataQuality:       dataQuality,
		},
	}
	a.eventsDetected++
	return rec
}

func isoWall(tsWall float64) string {
	return isoFormatter(tsWall)
}

// isoFormatter is a package-level indirection so callers can swap in
// clock.FormatISO without assembler importing internal/clock directly
// (kept decoupled per spec §9's explicit-wiring design note).
var isoFormatter = func(tsWall float64) string { return "" }

// SetISOFormatter wires the real formatter (clock.FormatISO) at startup.
func SetISOFormatter(f func(float64) string) { isoFormatter = f }

// Simulate drives the same emit path as a real trigger but from a target
// Richter value instead of live samples (spec §9 supplemented feature,
// spec §8 scenario S5). confidence is left to the caller because
// simulated events are not detector-produced.
func (a *Assembler) Simulate(richter, confidence float64, calib CalibrationInfo, algo AlgorithmInfo) *record.SeismicRecord {
	if !a.clock.Trusted() {
		a.eventsRejectedNoTime++
		return nil
	}
	pga := magnitude.PGAFromRichter(richter)
	durationMs := magnitude.SyntheticDurationMs(richter)
	eventType, level, richterRange := record.Classify(richter)

	dataQuality := "excellent"
	if !calib.Valid {
		dataQuality = "good"
	}

	tsWall := a.clock.NowWall()
	rec := &record.SeismicRecord{
		EventID: record.NewEventID(),
		Detection: record.Detection{
			TsWall:       tsWall,
			IsoWall:      isoWall(tsWall),
			NTPValidated: true,
			BootTimeMs:   a.clock.NowMono(),
		},
		Classification: record.Classification{
			Type:         eventType,
			IntensityLvl: level,
			RichterRange: richterRange,
			Confidence:   confidence,
		},
		Measurements: record.Measurements{
			PGAg:            pga,
			Richter:         richter,
			LocalMagnitude:  magnitude.LocalMagnitude(pga),
			DurationMs:      durationMs,
			PeakFrequencyHz: magnitude.PeakFrequencyHz(pga),
			EnergyJoules:    magnitude.EnergyJoules(richter),
		},
		SensorData: record.SensorData{
			MaxAX:               0,
			MaxAY:               0,
			MaxAZ:               pga,
			VectorMagnitude:     pga,
			CalibrationValid:    calib.Valid,
			CalibrationAgeHours: calib.AgeHours,
		},
		Algorithm: record.Algorithm{
			Method:          "STA_LTA",
			TriggerRatio:    algo.TriggerRatio,
			STAWindow:       algo.STAWindow,
			LTAWindow:       algo.LTAWindow,
			BackgroundNoise: algo.BackgroundNoise,
		},
		Metadata: record.Metadata{
			Source:            "simulator",
			ProcessingVersion: "1.0.0",
			SampleRateHz:      a.sampleRateHz,
			FilterApplied:     true,
			DataQuality:       dataQuality,
		},
	}
	a.eventsDetected++
	return rec
}
