package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/basincorp/seismograph/internal/assembler"
	"github.com/basincorp/seismograph/internal/broadcast"
	"github.com/basincorp/seismograph/internal/broker"
	"github.com/basincorp/seismograph/internal/calibration"
	"github.com/basincorp/seismograph/internal/clock"
	"github.com/basincorp/seismograph/internal/config"
	"github.com/basincorp/seismograph/internal/logging"
	"github.com/basincorp/seismograph/internal/ntpsync"
	"github.com/basincorp/seismograph/internal/pipeline"
	"github.com/basincorp/seismograph/internal/record"
	"github.com/basincorp/seismograph/internal/sensor"
	"github.com/basincorp/seismograph/internal/sink"
	"github.com/basincorp/seismograph/internal/spikefilter"
	"github.com/basincorp/seismograph/internal/stalta"
	"github.com/basincorp/seismograph/internal/telemetry"
	"github.com/basincorp/seismograph/internal/transport"
)

// backpressureDropRate is the spec §4.8 warning threshold: "drop rate
// exceeds 1% over 10s".
const backpressureDropRate = 0.01

// adaptTickInterval is how often the broadcast hub's per-client rate rises
// back toward the ceiling (spec §4.9 "good performance" tick; no fixed
// cadence is specified, 5s matches the status-broadcast cadence).
const adaptTickInterval = 5 * time.Second

// metricsRecordInterval is how often queue depth, trigger/spike counters,
// and the background noise floor are sampled into the metrics Provider
// (spec §4.14); matches the status-broadcast cadence.
const metricsRecordInterval = 5 * time.Second

// Station owns every constructed component and the goroutines that drive
// them, mirroring engine.Engine's role as the single place that wires
// collaborators together (spec §9 explicit wiring: no component constructs
// another; NewStation performs all wiring).
type Station struct {
	cfgManager *config.Manager
	logger     logging.Logger

	clk       *clock.Clock
	ntpSource *ntpsync.Source

	sensorDriver *sensor.Driver
	calib        atomic.Pointer[calibration.Calibration]

	spikeFilter *spikefilter.Filter
	detector    *stalta.Detector
	asm         *assembler.Assembler

	pipe *pipeline.Pipeline

	store  *sink.Store
	brk    *broker.Broker
	hub    *broadcast.Hub
	sinkSvc *sink.Sink

	wsServer *transport.Server

	metrics    *telemetry.PrometheusProvider
	metricsRec *stationMetrics
	evaluator  *telemetry.Evaluator
	monitor    *telemetry.Monitor

	counters *liveCounters

	clientID string

	recalibrate  atomic.Bool
	backpressure atomic.Bool
}

// Options carries the flag-parsed inputs main.go collects.
type Options struct {
	ConfigPath string
	DataDir    string
	BrokerURL  string
	ClientID   string
	NTPServers []string
}

// NewStation constructs every component in dependency order and wires them
// together; nothing here starts a goroutine (spec §9 construct-then-start
// discipline, grounded on engine.New / engine.Start being separate steps).
func NewStation(opts Options) (*Station, error) {
	st := &Station{clientID: opts.ClientID}

	st.logger = logging.New(slog.Default())

	st.cfgManager = config.NewManager(opts.ConfigPath)
	if err := st.cfgManager.Load(); err != nil {
		st.logger.WarnCtx(context.Background(), "config load rejected, continuing on defaults", slog.String("error", err.Error()))
	}
	cfg := st.cfgManager.Current()

	st.clk = clock.New(clock.Config{})
	assembler.SetISOFormatter(clock.FormatISO)
	st.ntpSource = ntpsync.New(opts.NTPServers)

	st.sensorDriver = sensor.New(newNoiseReader())

	st.spikeFilter = spikefilter.New()
	st.detector = stalta.New(stalta.Bases{
		Micro:  cfg.ThresholdMicro,
		Light:  cfg.ThresholdLight,
		Strong: cfg.ThresholdStrong,
	}, cfg.AdaptiveThresholds)

	st.asm = assembler.New(st.clk, cfg.SamplingRateHz)

	st.pipe = pipeline.New()

	st.store = sink.NewStore(opts.DataDir)
	st.brk = broker.New(opts.BrokerURL, opts.ClientID)
	st.hub = broadcast.New(jsonEncode)
	st.sinkSvc = sink.New(st.pipe, st.store, st.brk, st.hub, opts.ClientID)

	st.counters = &liveCounters{
		nowMono:    st.clk.NowMono,
		depths:     st.pipe.Depths,
		calibValid: func() bool { c := st.calib.Load(); return c != nil && c.Valid },
		trusted:    st.clk.Trusted,
	}

	st.wsServer = transport.New(st.hub, st.statusSnapshot)

	st.metrics = telemetry.NewPrometheusProvider(telemetry.PrometheusOptions{})
	st.metricsRec = newStationMetrics(st.metrics)

	st.evaluator = telemetry.NewEvaluator(2*time.Second,
		telemetry.NewSamplerProgressProbe(st.counters.lastProgressTime),
		telemetry.NewCalibrationProbe(st.counters.calibValid),
		telemetry.NewQueueDepthProbe(st.pipe.Depths),
		telemetry.NewBrokerProbe(st.brk.Connected),
		telemetry.NewWallClockProbe(st.clk.Trusted),
	)

	st.monitor = telemetry.NewMonitor(st.counters, broadcastStatusAdapter{hub: st.hub}, st.brk, opts.ClientID)

	return st, nil
}

func jsonEncode(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (s *Station) statusSnapshot() any {
	return s.counters.Counters()
}

// Start launches the sampler domain, the sink domain, and every periodic
// maintenance goroutine. It returns once everything is running; ctx
// cancellation is what stops them (spec §5 cancellation semantics).
func (s *Station) Start(ctx context.Context) {
	cfg := s.cfgManager.Current()

	if !s.sensorDriver.Begin() {
		s.logger.ErrorCtx(ctx, "sensor begin failed, refusing to start detection")
		return
	}

	calibResult := calibration.Run(calibReader{driver: s.sensorDriver}, nil, s.clk.NowMono())
	s.calib.Store(&calibResult.Calibration)
	if calibResult.RejectReason != "" {
		s.logger.WarnCtx(ctx, "boot calibration rejected", slog.String("reason", calibResult.RejectReason))
	}

	if err := s.clk.RunSync(s.ntpSource); err != nil {
		s.logger.WarnCtx(ctx, "initial NTP sync failed", slog.String("error", err.Error()))
	}

	if err := s.brk.Start(); err != nil {
		s.logger.WarnCtx(ctx, "broker connect failed, continuing without MQTT", slog.String("error", err.Error()))
	} else {
		if err := s.brk.SubscribeCommands(s.handleCommand); err != nil {
			s.logger.WarnCtx(ctx, "broker command subscribe failed", slog.String("error", err.Error()))
		}
	}

	go s.runSampler(ctx, cfg)

	intervals := &globalIntervalAdapter{hub: s.hub, backpressure: &s.backpressure}
	go s.sinkSvc.Run(ctx, intervals)

	go s.monitor.Run(ctx)
	go s.runPeriodicMaintenance(ctx, cfg)

	if err := s.cfgManager.WatchAndReload(ctx,
		func(cfg config.StationConfig) {
			s.logger.InfoCtx(ctx, "configuration reloaded", slog.String("checksum", cfg.Checksum))
		},
		func(err error) {
			s.logger.WarnCtx(ctx, "configuration reload failed", slog.String("error", err.Error()))
		},
	); err != nil {
		s.logger.WarnCtx(ctx, "config watcher not started", slog.String("error", err.Error()))
	}
}

// runSampler is the sampler domain: fixed-rate, no blocking I/O, no
// allocation on the steady-state path beyond what Go's escape analysis
// already pays for in the teacher's own hot loops (spec §5).
func (s *Station) runSampler(ctx context.Context, cfg config.StationConfig) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	period := time.Duration(float64(time.Second) / cfg.SamplingRateHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	recomputeTicker := time.NewTicker(30 * time.Second)
	defer recomputeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-recomputeTicker.C:
			s.detector.Recompute()
		case <-ticker.C:
			if s.recalibrate.CompareAndSwap(true, false) {
				prev := s.calib.Load()
				result := calibration.Run(calibReader{driver: s.sensorDriver}, prev, s.clk.NowMono())
				s.calib.Store(&result.Calibration)
				if result.DriftWarning {
					s.logger.WarnCtx(ctx, "calibration drift detected on recalibration")
				}
				continue
			}
			s.sampleOnce()
		}
	}
}

func (s *Station) sampleOnce() {
	raw, transient := s.sensorDriver.Read()
	cal := s.calib.Load()
	calibrated := raw
	if cal != nil {
		c := cal.Apply(calibration.Frame{AX: raw.AX, AY: raw.AY, AZ: raw.AZ})
		calibrated = sensor.Frame{AX: c.AX, AY: c.AY, AZ: c.AZ}
	}
	mag := vectorMagnitude(calibrated.AX, calibrated.AY, calibrated.AZ)
	if transient {
		mag = 0
	}

	thresholds := s.detector.Thresholds()
	admitted := s.spikeFilter.Admit(mag, thresholds.Micro)

	triggered := false
	if admitted {
		triggered = s.detector.Admit(mag)
	} else {
		s.counters.spikesFiltered.Add(1)
	}

	calibValid := cal != nil && cal.Valid
	var calibAge float64
	if cal != nil {
		calibAge = (time.Duration(s.clk.NowMono()-cal.CreatedAtMono) * time.Millisecond).Hours()
	}

	var rec *record.SeismicRecord
	if admitted {
		rec = s.asm.Step(
			assembler.Sample{AX: calibrated.AX, AY: calibrated.AY, AZ: calibrated.AZ, Magnitude: mag},
			triggered,
			assembler.CalibrationInfo{Valid: calibValid, AgeHours: calibAge},
			assembler.AlgorithmInfo{
				TriggerRatio:    stalta.TriggerRatio,
				STAWindow:       stalta.STAWindow,
				LTAWindow:       stalta.LTAWindow,
				BackgroundNoise: thresholds.BackgroundNoise,
			},
		)
	}

	now := time.Now()
	s.counters.totalSamples.Add(1)
	s.counters.setLastMagnitude(mag)
	s.counters.markProgress(now)

	s.pipe.TryEnqueueSample(pipeline.Sample{AX: calibrated.AX, AY: calibrated.AY, AZ: calibrated.AZ, Magnitude: mag, TsMono: s.clk.NowMono()})

	if rec != nil {
		s.counters.eventsDetected.Add(1)
		s.pipe.TryEnqueueEvent(pipeline.EventSummary{
			Type: string(rec.Classification.Type),
			// Magnitude is PGA in g, matching the sensor_data broadcast's
			// "magnitude" field (spec §6 wire format: both tagged <g>). The
			// richer Richter value still travels in Record.Measurements for
			// persistence/MQTT consumers.
			Magnitude: rec.Measurements.PGAg,
			Level:     rec.Classification.IntensityLvl,
			TsWallMs:  int64(rec.Detection.TsWall * 1000),
			Record:    rec,
		})
	}
	s.counters.eventsRejectedNoTime.Store(s.asm.EventsRejectedNoTime())
}

// runPeriodicMaintenance drives the drop-rate backpressure check (spec
// §4.8), the broadcast hub's adaptive-rate recovery tick, the NTP resync
// ticker, and the calibration drift monitor (spec §4.3) — none of which
// belong on the sampler's hot path.
func (s *Station) runPeriodicMaintenance(ctx context.Context, cfg config.StationConfig) {
	backpressureTicker := time.NewTicker(10 * time.Second)
	defer backpressureTicker.Stop()
	adaptTicker := time.NewTicker(adaptTickInterval)
	defer adaptTicker.Stop()
	ntpTicker := time.NewTicker(s.ntpInterval())
	defer ntpTicker.Stop()
	driftTicker := time.NewTicker(cfg.DriftCheckInterval)
	defer driftTicker.Stop()
	metricsTicker := time.NewTicker(metricsRecordInterval)
	defer metricsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-metricsTicker.C:
			s.recordMetrics()
		case <-backpressureTicker.C:
			rate := s.pipe.SampleDropRate()
			if rate > backpressureDropRate {
				s.logger.WarnCtx(ctx, "sample queue drop rate exceeds threshold", slog.Float64("drop_rate", rate))
				s.backpressure.Store(true)
			} else {
				s.backpressure.Store(false)
			}
			s.pipe.ResetDropCounters()
		case <-adaptTicker.C:
			s.hub.AdaptTick()
		case <-ntpTicker.C:
			if err := s.clk.RunSync(s.ntpSource); err != nil {
				s.logger.WarnCtx(ctx, "periodic NTP sync failed", slog.String("error", err.Error()))
			}
		case <-driftTicker.C:
			s.checkDrift(ctx)
		}
	}
}

// recordMetrics samples the live components' current values into the
// metrics Provider; never called from the sampler's hot path.
func (s *Station) recordMetrics() {
	sampleDepth, eventDepth := s.pipe.Depths()
	s.metricsRec.recordQueueDepths(sampleDepth, eventDepth)

	counters := s.counters.Counters()
	s.metricsRec.recordCounters(counters.EventsDetected, counters.SpikesFiltered)

	s.metricsRec.recordBackgroundNoise(s.detector.Thresholds().BackgroundNoise)
}

func (s *Station) checkDrift(ctx context.Context) {
	cal := s.calib.Load()
	if cal == nil || !cal.Valid {
		return
	}
	currentLTA := s.detector.LTASum() / stalta.LTAWindow
	s.metricsRec.recordDrift(cal.BaselineLTA, currentLTA)
	switch calibration.CheckDrift(cal.BaselineLTA, currentLTA) {
	case calibration.DriftCritical:
		invalidated := *cal
		invalidated.Valid = false
		s.calib.Store(&invalidated)
		s.logger.ErrorCtx(ctx, "calibration invalidated by drift")
	case calibration.DriftWarn:
		s.logger.WarnCtx(ctx, "calibration drift warning")
	}
}

func (s *Station) ntpInterval() time.Duration {
	return time.Hour
}

// handleCommand dispatches a verb parsed from cmnd/<client>/<verb> (spec
// §6): restart is intentionally not wired to os.Exit here — a supervisor
// process owns restart policy, not the station itself.
func (s *Station) handleCommand(verb string, _ []byte) {
	ctx := context.Background()
	switch verb {
	case "calibrate":
		s.recalibrate.Store(true)
	case "status":
		s.hub.PublishStatus(s.counters.Counters())
	case "debug":
		s.logger.InfoCtx(ctx, "debug command received")
	case "restart":
		s.logger.WarnCtx(ctx, "restart command received; deferring to process supervisor")
	default:
		s.logger.WarnCtx(ctx, "unknown command verb", slog.String("verb", verb))
	}
}

// Stop releases the broker connection and flushes persistence buffers.
func (s *Station) Stop() {
	s.brk.Stop()
	s.store.Close()
}
