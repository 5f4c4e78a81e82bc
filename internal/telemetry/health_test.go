package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvaluateRollsUpWorstProbeStatus(t *testing.T) {
	e := NewEvaluator(time.Minute,
		ProbeFunc(func(context.Context) ProbeResult { return Healthy("a") }),
		ProbeFunc(func(context.Context) ProbeResult { return Degraded("b", "slow") }),
	)
	snap := e.Evaluate(context.Background())
	require.Equal(t, StatusDegraded, snap.Overall)
	require.Len(t, snap.Probes, 2)
}

func TestUnhealthyProbeWins(t *testing.T) {
	e := NewEvaluator(time.Minute,
		ProbeFunc(func(context.Context) ProbeResult { return Degraded("a", "x") }),
		ProbeFunc(func(context.Context) ProbeResult { return Unhealthy("b", "y") }),
	)
	require.Equal(t, StatusUnhealthy, e.Evaluate(context.Background()).Overall)
}

func TestEvaluateCachesWithinTTL(t *testing.T) {
	calls := 0
	e := NewEvaluator(time.Hour, ProbeFunc(func(context.Context) ProbeResult {
		calls++
		return Healthy("a")
	}))
	e.Evaluate(context.Background())
	e.Evaluate(context.Background())
	require.Equal(t, 1, calls)
}

func TestForceInvalidateTriggersRecompute(t *testing.T) {
	calls := 0
	e := NewEvaluator(time.Hour, ProbeFunc(func(context.Context) ProbeResult {
		calls++
		return Healthy("a")
	}))
	e.Evaluate(context.Background())
	e.ForceInvalidate()
	e.Evaluate(context.Background())
	require.Equal(t, 2, calls)
}

func TestNoProbesYieldsUnknown(t *testing.T) {
	e := NewEvaluator(time.Minute)
	require.Equal(t, StatusUnknown, e.Evaluate(context.Background()).Overall)
}

func TestRegisterAddsProbeForNextEvaluation(t *testing.T) {
	e := NewEvaluator(0)
	e.Register(ProbeFunc(func(context.Context) ProbeResult { return Unhealthy("late", "x") }))
	require.Equal(t, StatusUnhealthy, e.Evaluate(context.Background()).Overall)
}

func TestSamplerProgressProbeDetectsStall(t *testing.T) {
	stalled := time.Now().Add(-time.Minute)
	probe := NewSamplerProgressProbe(func() time.Time { return stalled })
	require.Equal(t, StatusUnhealthy, probe.Check(context.Background()).Status)
}

func TestSamplerProgressProbeHealthyWhenRecent(t *testing.T) {
	probe := NewSamplerProgressProbe(func() time.Time { return time.Now() })
	require.Equal(t, StatusHealthy, probe.Check(context.Background()).Status)
}

func TestQueueDepthProbeThresholds(t *testing.T) {
	probe := NewQueueDepthProbe(func() (int, int) { return 49, 0 })
	require.Equal(t, StatusUnhealthy, probe.Check(context.Background()).Status)
}
