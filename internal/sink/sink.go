// Package sink implements the Event Sink (spec §4.9): the single consumer
// task draining sample_q/event_q and fanning each item out to persistence,
// broker, and broadcast — tolerating partial failure in any one of the
// three, the same way the teacher's engine/output/composite_sink.go fans a
// Write out across multiple sinks without letting one failure block the
// others.
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/basincorp/seismograph/internal/pipeline"
	"github.com/basincorp/seismograph/internal/record"
)

func marshalEvent(rec record.SeismicRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// SampleBroadcast and EventBroadcast are the typed wire messages of spec §6;
// broadcast.Hub is the only place that marshals them to JSON, keeping
// the single-encoding-boundary discipline spec §9 asks for.
type SampleBroadcast struct {
	Type            string  `json:"type"`
	Timestamp       int64   `json:"timestamp"`
	AccelX          float64 `json:"accel_x"`
	AccelY          float64 `json:"accel_y"`
	AccelZ          float64 `json:"accel_z"`
	Magnitude       float64 `json:"magnitude"`
	MaxMagnitude    float64 `json:"max_magnitude"`
	SensorTimestamp int64   `json:"sensor_timestamp"`
	SamplesAveraged int     `json:"samples_averaged"`
	Calibrated      bool    `json:"calibrated"`
	EventsDetected  uint64  `json:"events_detected"`
}

type EventBroadcast struct {
	Type         string  `json:"type"`
	EventType    string  `json:"event_type"`
	Magnitude    float64 `json:"magnitude"`
	Level        int     `json:"level"`
	Timestamp    int64   `json:"timestamp"`
	NTPTimestamp float64 `json:"ntp_timestamp,omitempty"`
}

// SampleSummary is the rolling /data file entry (spec §6 file layout).
type SampleSummary struct {
	MeanAX                 float64 `json:"mean_ax,omitempty"`
	MeanAY                 float64 `json:"mean_ay,omitempty"`
	MeanAZ                 float64 `json:"mean_az,omitempty"`
	MeanMagnitude          float64 `json:"mean_magnitude"`
	MaxMagnitude           float64 `json:"max_magnitude"`
	SamplesAveraged        int     `json:"samples_averaged"`
}

// Persister is satisfied by *Store (persistence.go); kept as an interface
// here so tests can substitute a fake without touching the filesystem.
type Persister interface {
	AppendSeismic(tsWall float64, rec record.SeismicRecord) error
	AppendSampleSummary(tsWall float64, s SampleSummary) error
}

// BrokerPublisher is satisfied by *broker.Broker.
type BrokerPublisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Broadcaster is satisfied by *broadcast.Hub.
type Broadcaster interface {
	PublishSample(msg SampleBroadcast)
	PublishEvent(msg EventBroadcast)
}

const (
	rollingWindowSize  = 10
	persistenceRateCap = 1 * time.Second

	baseGlobalInterval     = 100 * time.Millisecond
	elevatedGlobalInterval = 150 * time.Millisecond
	lowMemoryGlobalInterval = 200 * time.Millisecond

	manyClientsThreshold = 3
)

// GlobalIntervalInputs lets the sink ask the broadcaster for the two
// signals spec §4.9's adaptive interval depends on, without the sink
// needing to know how the broadcaster counts clients or tracks memory.
type GlobalIntervalInputs interface {
	ConnectedClients() int
	LowMemory() bool
}

// Sink is the single consumer task of spec §4.9. Not safe for concurrent
// use beyond its own Run goroutine.
type Sink struct {
	pipeline    *pipeline.Pipeline
	persister   Persister
	broker      BrokerPublisher
	broadcaster Broadcaster
	clientID    string

	rollingAX, rollingAY, rollingAZ [rollingWindowSize]float64
	rollingMag                      [rollingWindowSize]float64
	rollingIdx, rollingCount        int

	lastBroadcastAt  time.Time
	lastPersistAt    time.Time
	eventsDetected   uint64

	samplesPersisted    uint64
	eventsPersisted     uint64
	brokerPublishErrors uint64
}

func New(p *pipeline.Pipeline, persister Persister, broker BrokerPublisher, broadcaster Broadcaster, clientID string) *Sink {
	return &Sink{pipeline: p, persister: persister, broker: broker, broadcaster: broadcaster, clientID: clientID}
}

func (s *Sink) SamplesPersisted() uint64    { return s.samplesPersisted }
func (s *Sink) EventsPersisted() uint64     { return s.eventsPersisted }
func (s *Sink) BrokerPublishErrors() uint64 { return s.brokerPublishErrors }

// Run is the sink domain's main loop: a single select over both queues with
// a shared timeout (spec §5), draining on ctx cancellation before
// returning (spec §5 cancellation: "sink drains both queues with a deadline
// then exits").
func (s *Sink) Run(ctx context.Context, globalIntervals GlobalIntervalInputs) {
	for {
		select {
		case sample, ok := <-s.pipeline.SampleChan():
			if !ok {
				return
			}
			s.handleSample(sample, globalIntervals)
		case event, ok := <-s.pipeline.EventChan():
			if !ok {
				return
			}
			s.handleEvent(event)
		case <-time.After(pipeline.ConsumerTimeout):
			// no item ready; loop back to re-check ctx
		case <-ctx.Done():
			s.pipeline.Drain(
				func(sm pipeline.Sample) { s.handleSample(sm, globalIntervals) },
				func(ev pipeline.EventSummary) { s.handleEvent(ev) },
			)
			return
		}
	}
}

func (s *Sink) handleSample(sample pipeline.Sample, globalIntervals GlobalIntervalInputs) {
	s.rollingAX[s.rollingIdx] = sample.AX
	s.rollingAY[s.rollingIdx] = sample.AY
	s.rollingAZ[s.rollingIdx] = sample.AZ
	s.rollingMag[s.rollingIdx] = sample.Magnitude
	s.rollingIdx = (s.rollingIdx + 1) % rollingWindowSize
	if s.rollingCount < rollingWindowSize {
		s.rollingCount++
	}

	now := time.Now()
	meanAX, meanAY, meanAZ, meanMag := s.rollingMeans()
	interval := s.globalInterval(globalIntervals)
	if s.lastBroadcastAt.IsZero() || now.Sub(s.lastBroadcastAt) >= interval {
		s.lastBroadcastAt = now
		s.broadcaster.PublishSample(SampleBroadcast{
			Type:            "sensor_data",
			Timestamp:       sample.TsMono,
			AccelX:          meanAX,
			AccelY:          meanAY,
			AccelZ:          meanAZ,
			Magnitude:       meanMag,
			MaxMagnitude:    s.rollingMax(),
			SensorTimestamp: sample.TsMono,
			SamplesAveraged: s.rollingCount,
			Calibrated:      true,
			EventsDetected:  s.eventsDetected,
		})
	}

	if s.lastPersistAt.IsZero() || now.Sub(s.lastPersistAt) >= persistenceRateCap {
		s.lastPersistAt = now
		if err := s.persister.AppendSampleSummary(float64(now.UnixNano())/1e9, SampleSummary{
			MeanAX: meanAX, MeanAY: meanAY, MeanAZ: meanAZ,
			MeanMagnitude:   meanMag,
			MaxMagnitude:    s.rollingMax(),
			SamplesAveraged: s.rollingCount,
		}); err == nil {
			s.samplesPersisted++
		}
	}
}

func (s *Sink) handleEvent(event pipeline.EventSummary) {
	s.eventsDetected++

	s.broadcaster.PublishEvent(EventBroadcast{
		Type:      "seismic_event",
		EventType: event.Type,
		Magnitude: event.Magnitude,
		Level:     event.Level,
		Timestamp: event.TsWallMs,
	})

	if event.Record == nil {
		return
	}
	if err := s.persister.AppendSeismic(event.Record.Detection.TsWall, *event.Record); err == nil {
		s.eventsPersisted++
	}

	payload, err := marshalEvent(*event.Record)
	if err == nil {
		topic := "tele/" + s.clientID + "/event"
		if pubErr := s.broker.Publish(topic, payload, true); pubErr != nil {
			s.brokerPublishErrors++
		}
	}
}

func (s *Sink) globalInterval(in GlobalIntervalInputs) time.Duration {
	if in.LowMemory() {
		return lowMemoryGlobalInterval
	}
	if in.ConnectedClients() > manyClientsThreshold {
		return elevatedGlobalInterval
	}
	return baseGlobalInterval
}

func (s *Sink) rollingMax() float64 {
	var max float64
	for i := 0; i < s.rollingCount; i++ {
		if s.rollingMag[i] > max {
			max = s.rollingMag[i]
		}
	}
	return max
}

func (s *Sink) rollingMeans() (ax, ay, az, mag float64) {
	if s.rollingCount == 0 {
		return 0, 0, 0, 0
	}
	var sx, sy, sz, sm float64
	for i := 0; i < s.rollingCount; i++ {
		sx += s.rollingAX[i]
		sy += s.rollingAY[i]
		sz += s.rollingAZ[i]
		sm += s.rollingMag[i]
	}
	n := float64(s.rollingCount)
	return sx / n, sy / n, sz / n, sm / n
}
