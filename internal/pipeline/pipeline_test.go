package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueSampleRoundTrip(t *testing.T) {
	p := New()
	require.NoError(t, p.TryEnqueueSample(Sample{Magnitude: 0.01, TsMono: 1}))
	s, ok := p.DequeueSample(context.Background())
	require.True(t, ok)
	require.Equal(t, int64(1), s.TsMono)
}

func TestSampleQueueDropsNewWhenFull(t *testing.T) {
	p := New()
	for i := 0; i < SampleQueueCapacity; i++ {
		require.NoError(t, p.TryEnqueueSample(Sample{TsMono: int64(i)}))
	}
	err := p.TryEnqueueSample(Sample{TsMono: 999})
	require.ErrorIs(t, err, ErrQueueFull)

	// The queue must still hold the OLD entries, not the new one (drop-new).
	first, ok := p.DequeueSample(context.Background())
	require.True(t, ok)
	require.Equal(t, int64(0), first.TsMono)
}

func TestEventQueueDropsNewWhenFull(t *testing.T) {
	p := New()
	for i := 0; i < EventQueueCapacity; i++ {
		require.NoError(t, p.TryEnqueueEvent(EventSummary{TsWallMs: int64(i)}))
	}
	err := p.TryEnqueueEvent(EventSummary{TsWallMs: 999})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestDequeueSampleTimesOutOnEmptyQueue(t *testing.T) {
	p := New()
	_, ok := p.DequeueSample(context.Background())
	require.False(t, ok)
}

func TestSampleDropRateComputation(t *testing.T) {
	p := New()
	for i := 0; i < SampleQueueCapacity; i++ {
		require.NoError(t, p.TryEnqueueSample(Sample{}))
	}
	for i := 0; i < 10; i++ {
		_ = p.TryEnqueueSample(Sample{})
	}
	require.InDelta(t, 10.0/60.0, p.SampleDropRate(), 1e-9)
}

func TestResetDropCountersStartsNewWindow(t *testing.T) {
	p := New()
	for i := 0; i < SampleQueueCapacity+5; i++ {
		_ = p.TryEnqueueSample(Sample{})
	}
	require.Greater(t, p.SampleDropRate(), 0.0)
	p.ResetDropCounters()
	require.Zero(t, p.SampleDropRate())
}

func TestDepthsReflectsOccupancy(t *testing.T) {
	p := New()
	require.NoError(t, p.TryEnqueueSample(Sample{}))
	require.NoError(t, p.TryEnqueueEvent(EventSummary{}))
	sd, ed := p.Depths()
	require.Equal(t, 1, sd)
	require.Equal(t, 1, ed)
}

func TestDrainDeliversBufferedItemsThenReturns(t *testing.T) {
	p := New()
	require.NoError(t, p.TryEnqueueSample(Sample{TsMono: 1}))
	require.NoError(t, p.TryEnqueueSample(Sample{TsMono: 2}))
	require.NoError(t, p.TryEnqueueEvent(EventSummary{TsWallMs: 5}))
	p.Close()

	var samples []Sample
	var events []EventSummary
	p.Drain(func(s Sample) { samples = append(samples, s) }, func(e EventSummary) { events = append(events, e) })

	require.Len(t, samples, 2)
	require.Len(t, events, 1)
}
