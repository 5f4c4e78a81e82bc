package sink

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/basincorp/seismograph/internal/pipeline"
	"github.com/basincorp/seismograph/internal/record"
)

type fakePersister struct {
	samples []SampleSummary
	events  []record.SeismicRecord
	failAll bool
}

func (f *fakePersister) AppendSeismic(tsWall float64, rec record.SeismicRecord) error {
	if f.failAll {
		return os.ErrClosed
	}
	f.events = append(f.events, rec)
	return nil
}

func (f *fakePersister) AppendSampleSummary(tsWall float64, s SampleSummary) error {
	if f.failAll {
		return os.ErrClosed
	}
	f.samples = append(f.samples, s)
	return nil
}

type fakeBroker struct {
	published int
	failAll   bool
}

func (f *fakeBroker) Publish(topic string, payload []byte, retained bool) error {
	if f.failAll {
		return os.ErrClosed
	}
	f.published++
	return nil
}

type fakeBroadcaster struct {
	samples []SampleBroadcast
	events  []EventBroadcast
}

func (f *fakeBroadcaster) PublishSample(msg SampleBroadcast) { f.samples = append(f.samples, msg) }
func (f *fakeBroadcaster) PublishEvent(msg EventBroadcast)   { f.events = append(f.events, msg) }

type fakeGlobalIntervals struct {
	clients   int
	lowMemory bool
}

func (g fakeGlobalIntervals) ConnectedClients() int { return g.clients }
func (g fakeGlobalIntervals) LowMemory() bool        { return g.lowMemory }

func TestHandleSampleBroadcastsAndPersists(t *testing.T) {
	p := pipeline.New()
	persister := &fakePersister{}
	broker := &fakeBroker{}
	bc := &fakeBroadcaster{}
	s := New(p, persister, broker, bc, "station-1")

	s.handleSample(pipeline.Sample{AX: 0.01, AY: 0.02, AZ: 1.0, Magnitude: 0.03, TsMono: 1000}, fakeGlobalIntervals{})

	require.Len(t, bc.samples, 1)
	require.Equal(t, "sensor_data", bc.samples[0].Type)
	require.Len(t, persister.samples, 1)
	require.Equal(t, uint64(1), s.SamplesPersisted())
}

func TestHandleSamplePersistenceRateLimitedToOneHz(t *testing.T) {
	p := pipeline.New()
	persister := &fakePersister{}
	s := New(p, persister, &fakeBroker{}, &fakeBroadcaster{}, "station-1")

	s.handleSample(pipeline.Sample{TsMono: 1000}, fakeGlobalIntervals{})
	s.handleSample(pipeline.Sample{TsMono: 1002}, fakeGlobalIntervals{})

	require.Len(t, persister.samples, 1, "second sample arrives well within the 1Hz cap")
}

func TestHandleEventPersistsBroadcastsAndPublishes(t *testing.T) {
	p := pipeline.New()
	persister := &fakePersister{}
	broker := &fakeBroker{}
	bc := &fakeBroadcaster{}
	s := New(p, persister, broker, bc, "station-1")

	rec := &record.SeismicRecord{EventID: "abc", Detection: record.Detection{TsWall: 1700000000}}
	s.handleEvent(pipeline.EventSummary{Type: "Light", Magnitude: 0.1, Level: 3, TsWallMs: 1700000000000, Record: rec})

	require.Len(t, bc.events, 1)
	require.Equal(t, "seismic_event", bc.events[0].Type)
	require.Len(t, persister.events, 1)
	require.Equal(t, 1, broker.published)
	require.Equal(t, uint64(1), s.EventsPersisted())
}

func TestHandleEventToleratesBrokerFailure(t *testing.T) {
	p := pipeline.New()
	persister := &fakePersister{}
	broker := &fakeBroker{failAll: true}
	bc := &fakeBroadcaster{}
	s := New(p, persister, broker, bc, "station-1")

	rec := &record.SeismicRecord{EventID: "abc"}
	s.handleEvent(pipeline.EventSummary{Record: rec})

	require.Equal(t, uint64(1), s.BrokerPublishErrors())
	require.Equal(t, uint64(1), s.EventsPersisted(), "persistence still succeeds when only the broker fails")
}

func TestGlobalIntervalEscalatesUnderLoadOrLowMemory(t *testing.T) {
	p := pipeline.New()
	s := New(p, &fakePersister{}, &fakeBroker{}, &fakeBroadcaster{}, "x")

	require.Equal(t, baseGlobalInterval, s.globalInterval(fakeGlobalIntervals{clients: 1}))
	require.Equal(t, elevatedGlobalInterval, s.globalInterval(fakeGlobalIntervals{clients: 5}))
	require.Equal(t, lowMemoryGlobalInterval, s.globalInterval(fakeGlobalIntervals{clients: 5, lowMemory: true}))
}

func TestRunExitsOnContextCancelAfterDraining(t *testing.T) {
	p := pipeline.New()
	persister := &fakePersister{}
	s := New(p, persister, &fakeBroker{}, &fakeBroadcaster{}, "x")

	require.NoError(t, p.TryEnqueueSample(pipeline.Sample{TsMono: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx, fakeGlobalIntervals{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after ctx cancellation + drain")
	}
}
