// Package record defines the SeismicRecord schema (spec §3) and owns the
// single JSON encoding boundary for it — no other package builds SeismicRecord
// JSON by hand (spec §9's "typed record schema with a single encoding
// boundary" design note).
package record

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/google/uuid"
)

// EventType and IntensityLevel, per spec §4.6 classification table.
type EventType string

const (
	Micro    EventType = "Micro"
	Minor    EventType = "Minor"
	Light    EventType = "Light"
	Moderate EventType = "Moderate"
	Strong   EventType = "Strong"
	Major    EventType = "Major"
)

// Classify maps a Richter value to (EventType, IntensityLevel, RichterRange)
// per spec §4.6.
func Classify(richter float64) (EventType, int, string) {
	switch {
	case richter >= 7:
		return Major, 6, "≥7.0"
	case richter >= 6:
		return Strong, 5, "6.0-7.0"
	case richter >= 5:
		return Moderate, 4, "5.0-6.0"
	case richter >= 4:
		return Light, 3, "4.0-5.0"
	case richter >= 2:
		return Minor, 2, "2.0-4.0"
	default:
		return Micro, 1, "<2.0"
	}
}

type Detection struct {
	TsWall       float64 `json:"ts_wall"`
	IsoWall      string  `json:"iso_wall"`
	NTPValidated bool    `json:"ntp_validated"`
	BootTimeMs   int64   `json:"boot_time_ms"`
}

type Classification struct {
	Type         EventType `json:"type"`
	IntensityLvl int       `json:"intensity_level"`
	RichterRange string    `json:"richter_range"`
	Confidence   float64   `json:"confidence"`
}

type Measurements struct {
	PGAg            float64 `json:"pga_g"`
	Richter         float64 `json:"richter"`
	LocalMagnitude  float64 `json:"local_magnitude"`
	DurationMs      float64 `json:"duration_ms"`
	PeakFrequencyHz float64 `json:"peak_frequency_hz"`
	EnergyJoules    float64 `json:"energy_joules"`
}

type SensorData struct {
	MaxAX                float64 `json:"max_ax"`
	MaxAY                float64 `json:"max_ay"`
	MaxAZ                float64 `json:"max_az"`
	VectorMagnitude      float64 `json:"vector_magnitude"`
	CalibrationValid     bool    `json:"calibration_valid"`
	CalibrationAgeHours  float64 `json:"calibration_age_hours"`
}

type Algorithm struct {
	Method          string  `json:"method"`
	TriggerRatio    float64 `json:"trigger_ratio"`
	STAWindow       int     `json:"sta_window"`
	LTAWindow       int     `json:"lta_window"`
	BackgroundNoise float64 `json:"background_noise"`
}

type Metadata struct {
	Source            string  `json:"source"`
	ProcessingVersion  string  `json:"processing_version"`
	SampleRateHz       float64 `json:"sample_rate_hz"`
	FilterApplied      bool    `json:"filter_applied"`
	DataQuality        string  `json:"data_quality"` // "excellent" | "good"
}

// SeismicRecord is the durable output of the Event Assembler (spec §3).
// Never mutated after construction.
type SeismicRecord struct {
	EventID        string         `json:"event_id"`
	Detection      Detection      `json:"detection"`
	Classification Classification `json:"classification"`
	Measurements   Measurements   `json:"measurements"`
	SensorData     SensorData     `json:"sensor_data"`
	Algorithm      Algorithm      `json:"algorithm"`
	Metadata       Metadata       `json:"metadata"`
}

// NewEventID generates a fresh event_id. Exported so assembler stays
// decoupled from the uuid library choice.
func NewEventID() string {
	return uuid.NewString()
}

// Writer appends one SeismicRecord per line as JSON (spec §6 persisted
// format: "one JSON object per line"). internal/sink also encodes the same
// typed struct with encoding/json for its day files and broker payloads.
type Writer struct {
	w *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (rw *Writer) Write(r SeismicRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := rw.w.Write(b); err != nil {
		return err
	}
	if err := rw.w.WriteByte('\n'); err != nil {
		return err
	}
	return nil
}

func (rw *Writer) Flush() error { return rw.w.Flush() }
