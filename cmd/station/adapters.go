package main

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/basincorp/seismograph/internal/broadcast"
	"github.com/basincorp/seismograph/internal/calibration"
	"github.com/basincorp/seismograph/internal/sensor"
	"github.com/basincorp/seismograph/internal/telemetry"
)

// noiseReader is the default sensor.RawReader when no real accelerometer
// bus is configured: steady 1g on Z plus small Gaussian jitter, so the
// station is runnable end-to-end on a development machine. A production
// deployment replaces this with an I2C/SPI-backed RawReader.
type noiseReader struct {
	rnd *rand.Rand
}

func newNoiseReader() *noiseReader {
	return &noiseReader{rnd: rand.New(rand.NewSource(1))}
}

func (n *noiseReader) ReadRaw() (x, y, z int32, err error) {
	const lsbPerG = 16384
	jitter := func() float64 { return n.rnd.NormFloat64() * 0.002 }
	return int32(jitter() * lsbPerG), int32(jitter() * lsbPerG), int32((1.0 + jitter()) * lsbPerG), nil
}

// calibReader adapts sensor.Driver to calibration.Reader; the two Frame
// types are structurally identical but live in separate packages so
// calibration never imports sensor (spec §9 explicit-wiring discipline).
type calibReader struct {
	driver *sensor.Driver
}

func (r calibReader) Read() calibration.Frame {
	f, _ := r.driver.Read()
	return calibration.Frame{AX: f.AX, AY: f.AY, AZ: f.AZ}
}

func vectorMagnitude(ax, ay, az float64) float64 {
	return math.Sqrt(ax*ax + ay*ay + az*az)
}

// globalIntervalAdapter composes the broadcast hub's own free-memory signal
// with the pipeline's drop-rate backpressure warning (spec §4.8: "reduce
// downstream broadcast frequency"), so sink.Sink sees a single combined
// "slow things down" input without the hub needing to know about pipeline
// drop rates.
type globalIntervalAdapter struct {
	hub          *broadcast.Hub
	backpressure *atomic.Bool
}

func (g *globalIntervalAdapter) ConnectedClients() int { return g.hub.ConnectedClients() }
func (g *globalIntervalAdapter) LowMemory() bool {
	return g.hub.LowMemory() || g.backpressure.Load()
}

// broadcastStatusAdapter satisfies telemetry.StatusBroadcaster over the hub.
type broadcastStatusAdapter struct {
	hub *broadcast.Hub
}

func (a broadcastStatusAdapter) PublishStatus(sample telemetry.HealthSample) {
	a.hub.PublishStatus(sample)
}

// liveCounters tracks the sampler domain's running totals and is read by
// telemetry.StatusSource without telemetry owning any sampler state itself
// (spec §9 explicit-wiring discipline).
type liveCounters struct {
	nowMono func() int64

	totalSamples         atomic.Uint64
	eventsDetected       atomic.Uint64
	spikesFiltered       atomic.Uint64
	eventsRejectedNoTime atomic.Uint64

	lastMagnitudeBits atomic.Uint64
	lastProgressNanos atomic.Int64

	depths     func() (int, int)
	calibValid func() bool
	trusted    func() bool
}

func (c *liveCounters) Counters() telemetry.Counters {
	return telemetry.Counters{
		TotalSamples:         c.totalSamples.Load(),
		EventsDetected:       c.eventsDetected.Load(),
		SpikesFiltered:       c.spikesFiltered.Load(),
		EventsRejectedNoTime: c.eventsRejectedNoTime.Load(),
	}
}

func (c *liveCounters) QueueDepths() (int, int)  { return c.depths() }
func (c *liveCounters) CalibrationValid() bool   { return c.calibValid() }
func (c *liveCounters) WallClockTrusted() bool   { return c.trusted() }
func (c *liveCounters) NowMono() int64           { return c.nowMono() }
func (c *liveCounters) LastMagnitude() float64 {
	return math.Float64frombits(c.lastMagnitudeBits.Load())
}

func (c *liveCounters) setLastMagnitude(v float64) {
	c.lastMagnitudeBits.Store(math.Float64bits(v))
}

func (c *liveCounters) markProgress(t time.Time) {
	c.lastProgressNanos.Store(t.UnixNano())
}

func (c *liveCounters) lastProgressTime() time.Time {
	return time.Unix(0, c.lastProgressNanos.Load())
}
