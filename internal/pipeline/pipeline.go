// Package pipeline implements the bounded MPSC queues connecting the
// sampler domain to the sink domain (spec §4.8): sample_q (cap 50) and
// event_q (cap 20), non-blocking drop-new producer side, short-timeout
// consumer side. Adapted from the teacher's buffered-channel-per-stage
// pipeline shape in engine/internal/pipeline/pipeline.go, collapsed from a
// four-stage worker pool down to the two queues this domain needs.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/basincorp/seismograph/internal/record"
)

const (
	SampleQueueCapacity = 50
	EventQueueCapacity  = 20

	// ConsumerTimeout is how long the sink domain blocks waiting for the
	// next item on either queue before looping back to check ctx.Done().
	ConsumerTimeout = 10 * time.Millisecond

	// DrainDeadline bounds how long Drain keeps reading both queues on
	// shutdown (spec §5 cancellation).
	DrainDeadline = 1 * time.Second
)

// ErrQueueFull is returned by the non-blocking try-enqueue calls when the
// queue is saturated; callers use it only for accounting, never to retry —
// the policy is drop-new (spec §4.8).
var ErrQueueFull = errors.New("pipeline: queue full, sample dropped")

// Sample is the sampler-domain → sink-domain sample queue element (spec §3).
type Sample struct {
	AX, AY, AZ, Magnitude float64
	TsMono                int64
}

// EventSummary is the event_q element (spec §4.8: type, magnitude, level,
// ts_wall_ms). Record carries the full, already-built SeismicRecord for the
// sink's persistence/broker fan-out — an in-process channel isn't limited
// to the wire tuple the way an actual queue element on the original
// hardware would be.
type EventSummary struct {
	Type      string
	Magnitude float64
	Level     int
	TsWallMs  int64
	Record    *record.SeismicRecord
}

// Pipeline owns both bounded queues and the drop/backpressure counters the
// spec requires (§4.8: drop rate over the trailing 10s window).
type Pipeline struct {
	sampleQ chan Sample
	eventQ  chan EventSummary

	samplesEnqueued uint64
	samplesDropped  uint64
	eventsEnqueued  uint64
	eventsDropped   uint64
}

func New() *Pipeline {
	return &Pipeline{
		sampleQ: make(chan Sample, SampleQueueCapacity),
		eventQ:  make(chan EventSummary, EventQueueCapacity),
	}
}

// TryEnqueueSample is the sampler domain's only out-edge for samples:
// non-blocking, drop-new on a full queue (spec §4.8, §5 hot-path
// no-blocking-I/O invariant).
func (p *Pipeline) TryEnqueueSample(s Sample) error {
	select {
	case p.sampleQ <- s:
		atomic.AddUint64(&p.samplesEnqueued, 1)
		return nil
	default:
		atomic.AddUint64(&p.samplesDropped, 1)
		return ErrQueueFull
	}
}

// TryEnqueueEvent is the sampler domain's rare out-edge for a freshly
// emitted event summary.
func (p *Pipeline) TryEnqueueEvent(e EventSummary) error {
	select {
	case p.eventQ <- e:
		atomic.AddUint64(&p.eventsEnqueued, 1)
		return nil
	default:
		atomic.AddUint64(&p.eventsDropped, 1)
		return ErrQueueFull
	}
}

// DequeueSample blocks up to ConsumerTimeout for the next sample. ok is
// false on timeout (sink domain loops back to check ctx) or on a closed
// queue.
func (p *Pipeline) DequeueSample(ctx context.Context) (s Sample, ok bool) {
	select {
	case s, open := <-p.sampleQ:
		return s, open
	case <-time.After(ConsumerTimeout):
		return Sample{}, false
	case <-ctx.Done():
		return Sample{}, false
	}
}

// DequeueEvent mirrors DequeueSample for the event queue.
func (p *Pipeline) DequeueEvent(ctx context.Context) (e EventSummary, ok bool) {
	select {
	case e, open := <-p.eventQ:
		return e, open
	case <-time.After(ConsumerTimeout):
		return EventSummary{}, false
	case <-ctx.Done():
		return EventSummary{}, false
	}
}

// SampleChan and EventChan expose the raw channels so the sink domain can
// run a single select across both with a shared timeout, matching spec
// §5's "selecting over sample_q/event_q with time.After(10ms)" exactly.
func (p *Pipeline) SampleChan() <-chan Sample        { return p.sampleQ }
func (p *Pipeline) EventChan() <-chan EventSummary   { return p.eventQ }

// Depths reports current queue occupancy for health/metrics probes
// (spec §4.15).
func (p *Pipeline) Depths() (sampleDepth, eventDepth int) {
	return len(p.sampleQ), len(p.eventQ)
}

// SampleDropRate returns the fraction of samples dropped since the last
// reset out of (enqueued+dropped) attempts, used to decide whether the
// warning threshold in spec §4.8 (>1% over 10s) has been crossed. Callers
// are expected to call ResetDropCounters on their own 10s ticker.
func (p *Pipeline) SampleDropRate() float64 {
	enq := atomic.LoadUint64(&p.samplesEnqueued)
	drop := atomic.LoadUint64(&p.samplesDropped)
	total := enq + drop
	if total == 0 {
		return 0
	}
	return float64(drop) / float64(total)
}

// EventsDropped reports the cumulative event_q drop count; per spec §4.8
// event drops are always warnings, with no rate threshold.
func (p *Pipeline) EventsDropped() uint64 {
	return atomic.LoadUint64(&p.eventsDropped)
}

// ResetDropCounters clears the sample enqueue/drop tallies at the start of
// a new 10s observation window.
func (p *Pipeline) ResetDropCounters() {
	atomic.StoreUint64(&p.samplesEnqueued, 0)
	atomic.StoreUint64(&p.samplesDropped, 0)
}

// Close closes both queues so a draining consumer sees ok=false once
// everything buffered has been read. Only ever called by the producer side
// during shutdown.
func (p *Pipeline) Close() {
	close(p.sampleQ)
	close(p.eventQ)
}

// Drain reads whatever is left in both queues, up to DrainDeadline, handing
// each item to the supplied callbacks. Used by the sink domain's shutdown
// path (spec §5: "sink drains both queues with a deadline then exits").
func (p *Pipeline) Drain(onSample func(Sample), onEvent func(EventSummary)) {
	deadline := time.After(DrainDeadline)
	sampleQ, eventQ := p.sampleQ, p.eventQ
	for sampleQ != nil || eventQ != nil {
		select {
		case s, ok := <-sampleQ:
			if !ok {
				sampleQ = nil
				continue
			}
			onSample(s)
		case e, ok := <-eventQ:
			if !ok {
				eventQ = nil
				continue
			}
			onEvent(e)
		case <-deadline:
			return
		}
	}
}
