package assembler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/basincorp/seismograph/internal/record"
)

type fakeClock struct {
	mono    int64
	wall    float64
	trusted bool
}

func (c *fakeClock) NowMono() int64  { return c.mono }
func (c *fakeClock) NowWall() float64 { return c.wall }
func (c *fakeClock) Trusted() bool    { return c.trusted }

func testAlgo() AlgorithmInfo {
	return AlgorithmInfo{TriggerRatio: 2.5, STAWindow: 25, LTAWindow: 2500, BackgroundNoise: 0.002}
}

func testCalib() CalibrationInfo {
	return CalibrationInfo{Valid: true, AgeHours: 1.0}
}

func TestStepStaysIdleWithoutTrigger(t *testing.T) {
	c := &fakeClock{trusted: true}
	a := New(c, 100)
	rec := a.Step(Sample{Magnitude: 0.001}, false, testCalib(), testAlgo())
	require.Nil(t, rec)
	require.Equal(t, idle, a.st)
}

func TestStepEntersActiveOnTrigger(t *testing.T) {
	c := &fakeClock{trusted: true}
	a := New(c, 100)
	rec := a.Step(Sample{Magnitude: 0.05}, true, testCalib(), testAlgo())
	require.Nil(t, rec)
	require.Equal(t, active, a.st)
}

func TestShortSpikeBelowMinDurationIsHeldNotEmitted(t *testing.T) {
	c := &fakeClock{trusted: true}
	a := New(c, 100)
	a.Step(Sample{Magnitude: 0.05}, true, testCalib(), testAlgo())
	c.mono = 5 // well under MinEventDurationMs
	rec := a.Step(Sample{Magnitude: 0.001}, false, testCalib(), testAlgo())
	require.Nil(t, rec)
	require.Equal(t, active, a.st, "must keep waiting rather than emit a too-short event")
}

func TestSustainedTriggerEmitsOnDrop(t *testing.T) {
	c := &fakeClock{trusted: true, wall: 1700000000}
	a := New(c, 100)
	a.Step(Sample{Magnitude: 0.05, AZ: 0.05}, true, testCalib(), testAlgo())
	c.mono = 120
	a.Step(Sample{Magnitude: 0.05, AZ: 0.05}, true, testCalib(), testAlgo()) // last accumulated sample past MinEventDurationMs
	c.mono = 150
	rec := a.Step(Sample{Magnitude: 0.001}, false, testCalib(), testAlgo())
	require.NotNil(t, rec)
	require.Equal(t, idle, a.st)
	require.Equal(t, uint64(1), a.EventsDetected())
	require.InDelta(t, 0.05, rec.Measurements.PGAg, 1e-9)
	require.Equal(t, "detector", rec.Metadata.Source)
	require.GreaterOrEqual(t, rec.Measurements.DurationMs, float64(MinEventDurationMs), "duration_ms must never fall under MinEventDurationMs")
}

func TestDropAtBoundaryWithoutFreshAccumulationStaysActive(t *testing.T) {
	c := &fakeClock{trusted: true}
	a := New(c, 100)
	a.Step(Sample{Magnitude: 0.05}, true, testCalib(), testAlgo())
	c.mono = 100 // now-startTsMono would already clear MinEventDurationMs, but
	// lastTsMono is still 0 since no further sample was accumulated — must
	// not emit a sub-MinEventDurationMs record on this drop.
	rec := a.Step(Sample{Magnitude: 0.001}, false, testCalib(), testAlgo())
	require.Nil(t, rec)
	require.Equal(t, active, a.st)
}

func TestAccumulationTracksMaxAndCount(t *testing.T) {
	c := &fakeClock{trusted: true}
	a := New(c, 100)
	a.Step(Sample{Magnitude: 0.02}, true, testCalib(), testAlgo())
	c.mono = 10
	a.Step(Sample{Magnitude: 0.08}, true, testCalib(), testAlgo())
	c.mono = 20
	a.Step(Sample{Magnitude: 0.03}, true, testCalib(), testAlgo())
	require.InDelta(t, 0.08, a.ev.maxMag, 1e-9)
	require.Equal(t, 3, a.ev.count)
}

func TestEmitRejectedWhenClockUntrusted(t *testing.T) {
	c := &fakeClock{trusted: false}
	a := New(c, 100)
	a.Step(Sample{Magnitude: 0.05}, true, testCalib(), testAlgo())
	c.mono = 120
	a.Step(Sample{Magnitude: 0.05}, true, testCalib(), testAlgo()) // last accumulated sample past MinEventDurationMs
	c.mono = 200
	rec := a.Step(Sample{Magnitude: 0.001}, false, testCalib(), testAlgo())
	require.Nil(t, rec)
	require.Equal(t, uint64(1), a.EventsRejectedNoTime())
	require.Equal(t, idle, a.st, "event slot is still released even when the record is dropped")
}

func TestSimulateProducesMajorEventAtHighRichter(t *testing.T) {
	c := &fakeClock{trusted: true, wall: 1700000000}
	a := New(c, 100)
	rec := a.Simulate(7.5, 1.0, testCalib(), testAlgo())
	require.NotNil(t, rec)
	require.Equal(t, "simulator", rec.Metadata.Source)
	require.Equal(t, record.Major, rec.Classification.Type)
	require.Equal(t, 1.0, rec.Classification.Confidence)
	require.InDelta(t, 7.5, rec.Measurements.Richter, 1e-3)
}

func TestSimulateRejectedWhenClockUntrusted(t *testing.T) {
	c := &fakeClock{trusted: false}
	a := New(c, 100)
	rec := a.Simulate(5.0, 1.0, testCalib(), testAlgo())
	require.Nil(t, rec)
	require.Equal(t, uint64(1), a.EventsRejectedNoTime())
}

func TestSetISOFormatterIsUsedAtEmit(t *testing.T) {
	SetISOFormatter(func(ts float64) string { return "2026-07-31T00:00:00Z" })
	defer SetISOFormatter(func(float64) string { return "" })

	c := &fakeClock{trusted: true, wall: 1700000000}
	a := New(c, 100)
	rec := a.Simulate(4.0, 1.0, testCalib(), testAlgo())
	require.Equal(t, "2026-07-31T00:00:00Z", rec.Detection.IsoWall)
}
