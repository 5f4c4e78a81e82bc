package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecTunables(t *testing.T) {
	cfg := Default()
	require.Equal(t, 500.0, cfg.SamplingRateHz)
	require.Equal(t, 25, cfg.STAWindow)
	require.Equal(t, 2500, cfg.LTAWindow)
	require.Equal(t, 2.5, cfg.STALTARatio)
	require.Equal(t, 100, cfg.MinEventDurationMs)
}

func TestNewManagerStartsWithDefault(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "station.yaml"))
	require.Equal(t, Default().SamplingRateHz, m.Current().SamplingRateHz)
}

func TestLoadMissingFileKeepsDefault(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, m.Load())
	require.Equal(t, Default().SamplingRateHz, m.Current().SamplingRateHz)
}

func TestLoadValidFileSwapsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sampling_rate_hz: 250\nsta_window: 10\nlta_window: 1000\nsta_lta_ratio: 3.0\n"), 0o644))

	m := NewManager(path)
	require.NoError(t, m.Load())
	require.Equal(t, 250.0, m.Current().SamplingRateHz)
	require.NotEmpty(t, m.Current().Checksum)
}

func TestLoadInvalidConfigRejectedAndKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sampling_rate_hz: -1\n"), 0o644))

	m := NewManager(path)
	err := m.Load()
	require.Error(t, err)
	require.Equal(t, Default().SamplingRateHz, m.Current().SamplingRateHz, "rejected reload must not touch the live config")
}

func TestWatchAndReloadPicksUpFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "station.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sampling_rate_hz: 500\nsta_window: 25\nlta_window: 2500\nsta_lta_ratio: 2.5\n"), 0o644))

	m := NewManager(path)
	require.NoError(t, m.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan StationConfig, 1)
	require.NoError(t, m.WatchAndReload(ctx, func(cfg StationConfig) { reloaded <- cfg }, nil))

	require.NoError(t, os.WriteFile(path, []byte("sampling_rate_hz: 333\nsta_window: 25\nlta_window: 2500\nsta_lta_ratio: 2.5\n"), 0o644))

	select {
	case cfg := <-reloaded:
		require.Equal(t, 333.0, cfg.SamplingRateHz)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload notification after file write")
	}
}
