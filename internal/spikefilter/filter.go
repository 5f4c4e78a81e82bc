// Package spikefilter rejects isolated impulse samples before they reach
// the STA/LTA detector (spec §4.4).
package spikefilter

import "sort"

const (
	historySize = 5

	// ThresholdMicro is the default base micro threshold (g), used when
	// adaptive thresholds are disabled.
	ThresholdMicro = 0.001

	medianMultiple    = 5.0
	microThreshMultiple = 2.0
)

// Filter is not safe for concurrent use; it is owned exclusively by the
// sampler domain, same as TriggerState (spec §5).
type Filter struct {
	history    [historySize]float64
	count      int // samples seen, saturates at historySize
	next       int // ring index
	rejected   uint64
}

func New() *Filter {
	return &Filter{}
}

// Admit reports whether m should be forwarded to the detector. activeMicro
// is the current micro threshold — adaptive if enabled, else ThresholdMicro
// (spec §4.4).
func (f *Filter) Admit(m, activeMicro float64) bool {
	if f.count < historySize {
		f.push(m)
		return true
	}

	med := f.median()
	if m > medianMultiple*med && m > microThreshMultiple*activeMicro {
		f.rejected++
		return false
	}
	f.push(m)
	return true
}

// Rejected returns the running count of spikes_filtered.
func (f *Filter) Rejected() uint64 { return f.rejected }

func (f *Filter) push(m float64) {
	f.history[f.next] = m
	f.next = (f.next + 1) % historySize
	if f.count < historySize {
		f.count++
	}
}

func (f *Filter) median() float64 {
	buf := make([]float64, f.count)
	copy(buf, f.history[:f.count])
	sort.Float64s(buf)
	return buf[len(buf)/2]
}
