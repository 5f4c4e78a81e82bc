// Package config implements the enumerated tunables of spec §6 as a
// YAML-backed, hot-reloadable configuration, directly adapted from the
// teacher's engine/internal/runtime.RuntimeConfigManager /
// HotReloadSystem: validate-then-checksum before an atomic pointer swap, a
// background fsnotify watcher reporting reloads and failures via callbacks.
package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// StationConfig is the enumerated tunable set of spec §6.
type StationConfig struct {
	SamplingRateHz      float64 `yaml:"sampling_rate_hz"`
	STAWindow           int     `yaml:"sta_window"`
	LTAWindow           int     `yaml:"lta_window"`
	STALTARatio         float64 `yaml:"sta_lta_ratio"`
	ThresholdMicro      float64 `yaml:"threshold_micro"`
	ThresholdLight      float64 `yaml:"threshold_light"`
	ThresholdStrong     float64 `yaml:"threshold_strong"`
	MinEventDurationMs  int     `yaml:"min_event_duration_ms"`
	AdaptiveThresholds  bool    `yaml:"adaptive_thresholds"`
	DriftCheckInterval  time.Duration `yaml:"drift_check_interval"`
	DriftWarnPercent    float64 `yaml:"drift_warn_percent"`
	DriftCritPercent    float64 `yaml:"drift_crit_percent"`
	DataRetentionDays   int     `yaml:"data_retention_days"`
	MQTTDataInterval    time.Duration `yaml:"mqtt_data_interval"`
	MQTTStatusInterval  time.Duration `yaml:"mqtt_status_interval"`
	MQTTHeartbeatInterval time.Duration `yaml:"mqtt_heartbeat_interval"`

	UpdatedAt time.Time `yaml:"updated_at"`
	Checksum  string    `yaml:"checksum"`
}

// Default returns the spec §6 default tunables.
func Default() StationConfig {
	return StationConfig{
		SamplingRateHz:        500,
		STAWindow:             25,
		LTAWindow:             2500,
		STALTARatio:           2.5,
		ThresholdMicro:        0.001,
		ThresholdLight:        0.01,
		ThresholdStrong:       0.1,
		MinEventDurationMs:    100,
		AdaptiveThresholds:    true,
		DriftCheckInterval:    5 * time.Minute,
		DriftWarnPercent:      20,
		DriftCritPercent:      50,
		DataRetentionDays:     90,
		MQTTDataInterval:      5 * time.Minute,
		MQTTStatusInterval:    10 * time.Minute,
		MQTTHeartbeatInterval: 30 * time.Minute,
	}
}

// Validator mirrors the teacher's ConfigValidator interface.
type Validator interface {
	Validate(cfg StationConfig) error
}

type boundsValidator struct{}

func (boundsValidator) Validate(cfg StationConfig) error {
	if cfg.SamplingRateHz <= 0 {
		return fmt.Errorf("sampling_rate_hz must be positive, got %v", cfg.SamplingRateHz)
	}
	if cfg.STAWindow <= 0 || cfg.LTAWindow <= 0 || cfg.STAWindow >= cfg.LTAWindow {
		return fmt.Errorf("sta_window must be positive and smaller than lta_window")
	}
	if cfg.STALTARatio <= 1 {
		return fmt.Errorf("sta_lta_ratio must exceed 1, got %v", cfg.STALTARatio)
	}
	if cfg.MinEventDurationMs < 0 {
		return fmt.Errorf("min_event_duration_ms must be non-negative")
	}
	return nil
}

// Manager owns the current StationConfig behind an atomic pointer, swapped
// only after validation — matching RuntimeConfigManager.UpdateConfiguration.
type Manager struct {
	path       string
	current    atomic.Pointer[StationConfig]
	validators []Validator
}

func NewManager(path string) *Manager {
	m := &Manager{path: path, validators: []Validator{boundsValidator{}}}
	cfg := Default()
	m.current.Store(&cfg)
	return m
}

func (m *Manager) AddValidator(v Validator) {
	m.validators = append(m.validators, v)
}

// Load reads the YAML file at path if it exists, validates it, and swaps it
// in; a missing file is not an error — the default config stays in force.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return m.swap(cfg)
}

func (m *Manager) swap(cfg StationConfig) error {
	if err := m.validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	cfg.UpdatedAt = time.Now()
	cfg.Checksum = checksum(cfg)
	m.current.Store(&cfg)
	return nil
}

func (m *Manager) validate(cfg StationConfig) error {
	for _, v := range m.validators {
		if err := v.Validate(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Current returns a snapshot of the active config; safe for concurrent
// readers (spec §5 "Calibration-style" replaced-atomically shared resource).
func (m *Manager) Current() StationConfig {
	return *m.current.Load()
}

func checksum(cfg StationConfig) string {
	cpy := cfg
	cpy.Checksum = ""
	data, _ := json.Marshal(cpy)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// WatchAndReload starts an fsnotify watcher on the config file's directory
// and reloads+swaps whenever the file is written, logging (via the supplied
// callback) both successful reloads and validation failures — a failed
// reload never touches the live config (spec §9: validated before swap).
func (m *Manager) WatchAndReload(ctx context.Context, onReload func(StationConfig), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch dir %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != m.path || ev.Op&fsnotify.Write != fsnotify.Write {
					continue
				}
				if err := m.Load(); err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				if onReload != nil {
					onReload(m.Current())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()
	return nil
}
