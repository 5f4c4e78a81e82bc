// Package clock provides the station's single source of time. All other
// components read monotonic and wall-clock time through here rather than
// calling time.Now directly, so that wall-clock trust is enforced in one
// place (spec §4.1).
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// minTrustedWall is 2020-01-01T00:00:00Z. A wall-clock reading at or before
// this is assumed to be an unset RTC, never a real synchronized clock.
const minTrustedWall = 1577836800

// SyncSource is the external collaborator that actually talks to an NTP
// server (or any other time-sync mechanism). Clock never performs the
// sync itself; it only records the outcome of one.
type SyncSource interface {
	// Sync performs one synchronization attempt and returns the offset
	// (seconds, wall-clock-correct minus local) or an error.
	Sync() (offsetSeconds float64, err error)
}

// Clock is safe for concurrent use. The sampler domain calls NowMono on the
// hot path; the sink domain and the periodic sync ticker call the rest.
type Clock struct {
	boot time.Time

	mu             sync.RWMutex
	lastSyncAt     time.Time
	lastSyncOK     bool
	offsetSeconds  float64
	syncIntervalNs int64 // accessed via atomic for lock-free reads on the hot path
}

// Config tunes the trust window. SyncInterval defaults to 1h per spec §4.1.
type Config struct {
	SyncInterval time.Duration
}

func New(cfg Config) *Clock {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = time.Hour
	}
	c := &Clock{boot: time.Now()}
	atomic.StoreInt64(&c.syncIntervalNs, int64(cfg.SyncInterval))
	return c
}

// NowMono returns milliseconds since boot. Safe to call from the sampler's
// hot path; allocates nothing and takes no lock.
func (c *Clock) NowMono() int64 {
	return time.Since(c.boot).Milliseconds()
}

// NowWall returns seconds since the Unix epoch, corrected by the last
// accepted sync offset.
func (c *Clock) NowWall() float64 {
	c.mu.RLock()
	offset := c.offsetSeconds
	c.mu.RUnlock()
	return float64(time.Now().UnixNano())/1e9 + offset
}

// Trusted reports whether NowWall is currently backed by a sync within
// 2x the sync interval, per spec §4.1.
func (c *Clock) Trusted() bool {
	c.mu.RLock()
	ok := c.lastSyncOK
	last := c.lastSyncAt
	c.mu.RUnlock()
	if !ok {
		return false
	}
	interval := time.Duration(atomic.LoadInt64(&c.syncIntervalNs))
	if time.Since(last) > 2*interval {
		return false
	}
	return c.NowWall() > minTrustedWall
}

// FormatISO renders a wall-clock timestamp (seconds since epoch) as RFC3339
// in UTC, matching the detection.iso_wall field.
func FormatISO(tsWall float64) string {
	sec := int64(tsWall)
	nsec := int64((tsWall - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC().Format(time.RFC3339)
}

// RunSync performs one synchronization attempt against src and records the
// outcome. Intended to be called on a ticker from the sink domain — never
// from the sampler.
func (c *Clock) RunSync(src SyncSource) error {
	offset, err := src.Sync()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastSyncOK = false
		return err
	}
	c.offsetSeconds = offset
	c.lastSyncAt = time.Now()
	c.lastSyncOK = true
	return nil
}

// SetSyncInterval allows the hot-reloadable config to adjust the trust
// window without taking the main mutex.
func (c *Clock) SetSyncInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	atomic.StoreInt64(&c.syncIntervalNs, int64(d))
}
