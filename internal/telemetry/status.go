package telemetry

import (
	"context"
	"encoding/json"
	"time"
)

const (
	// StatusBroadcastInterval matches spec §4.10: "periodic (every 5s)
	// status snapshot ... emitted via broadcast at <=1Hz".
	StatusBroadcastInterval = 5 * time.Second

	// Broker-side cadences, spec §6 config table MQTT_* intervals.
	DataPublishInterval      = 5 * time.Minute
	StatusPublishInterval    = 10 * time.Minute
	HeartbeatPublishInterval = 30 * time.Minute

	// SamplerWatchdog trips if the sampler makes no progress for this long
	// (spec §5 timeouts: "periodic-task watchdog trips at 30s").
	SamplerWatchdog = 30 * time.Second

	queueDepthWarnSamples = 40 // out of sample_q capacity 50
	queueDepthCritSamples = 48
)

// Counters is the spec §4.10 counter set.
type Counters struct {
	TotalSamples         uint64
	EventsDetected       uint64
	SpikesFiltered       uint64
	EventsRejectedNoTime uint64
}

// HealthSample is the periodic status snapshot of spec §3/§4.10.
type HealthSample struct {
	Timestamp        int64    `json:"timestamp"`
	Counters         Counters `json:"counters"`
	SampleQueueDepth int      `json:"sample_queue_depth"`
	EventQueueDepth  int      `json:"event_queue_depth"`
	CalibrationValid bool     `json:"calibration_valid"`
	LastMagnitude    float64  `json:"last_magnitude"`
	WallClockTrusted bool     `json:"wall_clock_trusted"`
}

// StatusSource is queried on each tick; the wiring layer implements it by
// snapshotting the live components (no component is owned by telemetry
// itself — spec §9 explicit-wiring discipline).
type StatusSource interface {
	Counters() Counters
	QueueDepths() (sampleDepth, eventDepth int)
	CalibrationValid() bool
	LastMagnitude() float64
	WallClockTrusted() bool
	NowMono() int64
}

// StatusBroadcaster is the narrow broadcast capability telemetry needs;
// satisfied by a small adapter over broadcast.Hub at wiring time.
type StatusBroadcaster interface {
	PublishStatus(HealthSample)
}

// BrokerPublisher mirrors broker.Broker's Publish method (structural typing
// — telemetry never imports the broker package directly).
type BrokerPublisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Monitor drives the three independent broker tickers plus the 5s broadcast
// snapshot (spec §9 supplemented heartbeat-cadence feature).
type Monitor struct {
	source      StatusSource
	broadcaster StatusBroadcaster
	broker      BrokerPublisher
	clientID    string
}

func NewMonitor(source StatusSource, broadcaster StatusBroadcaster, broker BrokerPublisher, clientID string) *Monitor {
	return &Monitor{source: source, broadcaster: broadcaster, broker: broker, clientID: clientID}
}

func (m *Monitor) snapshot() HealthSample {
	sampleDepth, eventDepth := m.source.QueueDepths()
	return HealthSample{
		Timestamp:        m.source.NowMono(),
		Counters:         m.source.Counters(),
		SampleQueueDepth: sampleDepth,
		EventQueueDepth:  eventDepth,
		CalibrationValid: m.source.CalibrationValid(),
		LastMagnitude:    m.source.LastMagnitude(),
		WallClockTrusted: m.source.WallClockTrusted(),
	}
}

// Run drives all four tickers until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	broadcastTicker := time.NewTicker(StatusBroadcastInterval)
	dataTicker := time.NewTicker(DataPublishInterval)
	statusTicker := time.NewTicker(StatusPublishInterval)
	heartbeatTicker := time.NewTicker(HeartbeatPublishInterval)
	defer broadcastTicker.Stop()
	defer dataTicker.Stop()
	defer statusTicker.Stop()
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-broadcastTicker.C:
			m.broadcaster.PublishStatus(m.snapshot())
		case <-dataTicker.C:
			m.publish("tele/"+m.clientID+"/data", m.snapshot(), false)
		case <-statusTicker.C:
			m.publish("tele/"+m.clientID+"/status", m.snapshot(), true)
		case <-heartbeatTicker.C:
			m.publish("tele/"+m.clientID+"/status", map[string]string{"type": "heartbeat"}, true)
		}
	}
}

func (m *Monitor) publish(topic string, v interface{}, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = m.broker.Publish(topic, payload, retained)
}

// --- Standard probes (spec §4.15) ---

// NewSamplerProgressProbe trips degraded/unhealthy if the sampler hasn't
// advanced its monotonic clock in the last SamplerWatchdog duration.
func NewSamplerProgressProbe(lastProgress func() time.Time) Probe {
	return ProbeFunc(func(ctx context.Context) ProbeResult {
		since := time.Since(lastProgress())
		switch {
		case since > SamplerWatchdog:
			return Unhealthy("sampler_progress", "no sampler progress within watchdog window")
		case since > SamplerWatchdog/2:
			return Degraded("sampler_progress", "sampler progress slowing")
		default:
			return Healthy("sampler_progress")
		}
	})
}

func NewCalibrationProbe(valid func() bool) Probe {
	return ProbeFunc(func(ctx context.Context) ProbeResult {
		if valid() {
			return Healthy("calibration")
		}
		return Degraded("calibration", "running with invalid or stale calibration")
	})
}

func NewQueueDepthProbe(depths func() (int, int)) Probe {
	return ProbeFunc(func(ctx context.Context) ProbeResult {
		sampleDepth, _ := depths()
		switch {
		case sampleDepth >= queueDepthCritSamples:
			return Unhealthy("queue_depth", "sample_q near capacity")
		case sampleDepth >= queueDepthWarnSamples:
			return Degraded("queue_depth", "sample_q filling")
		default:
			return Healthy("queue_depth")
		}
	})
}

func NewBrokerProbe(connected func() bool) Probe {
	return ProbeFunc(func(ctx context.Context) ProbeResult {
		if connected() {
			return Healthy("broker")
		}
		return Degraded("broker", "disconnected, publishes are being dropped")
	})
}

func NewWallClockProbe(trusted func() bool) Probe {
	return ProbeFunc(func(ctx context.Context) ProbeResult {
		if trusted() {
			return Healthy("wall_clock")
		}
		return Degraded("wall_clock", "not yet NTP-synchronized; events will be rejected")
	})
}
