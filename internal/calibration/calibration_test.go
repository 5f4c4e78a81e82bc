package calibration

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// stationaryReader emits a stationary frame with 1g on Z, like a device at
// rest, plus a tiny deterministic wobble so stddev stays well under 0.01g.
type stationaryReader struct {
	n int
}

func (s *stationaryReader) Read() Frame {
	s.n++
	wobble := 0.0001 * float64(s.n%3-1)
	return Frame{AX: 0.01 + wobble, AY: -0.02 + wobble, AZ: 1.0 + wobble}
}

func TestRunAcceptsStationaryInput(t *testing.T) {
	res := Run(&stationaryReader{}, nil, 1000)
	require.Empty(t, res.RejectReason)
	require.True(t, res.Calibration.Valid)
	require.InDelta(t, 0.01, res.Calibration.OffX, 0.01)
	require.InDelta(t, 1.0, res.Calibration.OffZ, 0.01)
	require.LessOrEqual(t, res.Calibration.BaselineLTA, postTestMaxMag)
}

func TestRunIdempotentWithinTolerance(t *testing.T) {
	first := Run(&stationaryReader{}, nil, 1000)
	second := Run(&stationaryReader{}, &first.Calibration, 2000)
	require.InDelta(t, first.Calibration.OffX, second.Calibration.OffX, 1e-3)
	require.InDelta(t, first.Calibration.OffY, second.Calibration.OffY, 1e-3)
	require.InDelta(t, first.Calibration.OffZ, second.Calibration.OffZ, 1e-3)
	require.False(t, second.DriftWarning)
}

type unstableReader struct{ n int }

func (u *unstableReader) Read() Frame {
	u.n++
	if u.n%2 == 0 {
		return Frame{AX: 0.5, AY: 0, AZ: 1.0}
	}
	return Frame{AX: -0.5, AY: 0, AZ: 1.0}
}

func TestRunRejectsUnstableInput(t *testing.T) {
	res := Run(&unstableReader{}, nil, 1000)
	require.NotEmpty(t, res.RejectReason)
	require.False(t, res.Calibration.Valid)
}

type badZReader struct{}

func (badZReader) Read() Frame { return Frame{AX: 0, AY: 0, AZ: 0.1} }

func TestRunRejectsOutOfRangeZ(t *testing.T) {
	res := Run(badZReader{}, nil, 1000)
	require.NotEmpty(t, res.RejectReason)
}

func TestRunKeepsPreviousOnRejection(t *testing.T) {
	prev := Calibration{OffX: 0.01, OffY: 0.02, OffZ: 1.0, Valid: true}
	res := Run(&unstableReader{}, &prev, 1000)
	require.Equal(t, prev, res.Calibration)
}

func TestDriftMonitorThresholds(t *testing.T) {
	require.Equal(t, DriftOK, CheckDrift(0.01, 0.011))
	require.Equal(t, DriftWarn, CheckDrift(0.01, 0.0121))
	require.Equal(t, DriftCritical, CheckDrift(0.01, 0.016))
	require.Equal(t, DriftOK, CheckDrift(0, 5))
}

func TestApplyZeroesRestingZ(t *testing.T) {
	c := Calibration{OffX: 0.01, OffY: -0.02, OffZ: 1.0}
	f := c.Apply(Frame{AX: 0.01, AY: -0.02, AZ: 1.0})
	require.InDelta(t, 0, f.AZ, 1e-9)
}
