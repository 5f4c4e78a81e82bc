// Package broadcast implements the per-client adaptive send-rate control of
// spec §4.9, directly adapted from the teacher's
// engine/internal/ratelimit.AdaptiveRateLimiter: a per-key (here, per-client)
// mutable rate, decremented on failure feedback and raised again only on a
// periodic "good performance" tick, mirroring domainShard's fill-rate
// adaptation applied to a websocket fan-out hub instead of an outbound
// HTTP limiter.
package broadcast

import (
	"sync"
	"time"

	"github.com/basincorp/seismograph/internal/sink"
)

const (
	DefaultClientRateHz = 10.0
	FloorClientRateHz   = 2.0
	CeilingClientRateHz = 15.0

	// FailuresBeforeFloor matches spec §7: "after 3 failures, rate floor
	// applied".
	FailuresBeforeFloor = 3
)

// Sender abstracts the underlying websocket connection so the rate-control
// logic can be tested without a real network socket. ErrClientClosed is the
// sentinel a Sender returns once its channel is gone for good, which prunes
// the client (spec §7).
type Sender interface {
	Send(payload []byte) error
}

var ErrClientClosed = sendClosedError{}

type sendClosedError struct{}

func (sendClosedError) Error() string { return "broadcast: client channel closed" }

type client struct {
	id                  string
	sender              Sender
	rateHz              float64
	lastSentAt          time.Time
	consecutiveFailures int
}

func (c *client) minInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.rateHz)
}

// Hub fans SampleBroadcast/EventBroadcast messages out to registered
// clients, applying the per-client adaptive rate to samples (events always
// go out immediately — spec §4.9 rate control only governs the high-volume
// sensor_data stream).
type Hub struct {
	mu        sync.Mutex
	clients   map[string]*client
	lowMemory bool
	encode    func(interface{}) ([]byte, error)
}

func New(encode func(interface{}) ([]byte, error)) *Hub {
	return &Hub{clients: make(map[string]*client), encode: encode}
}

func (h *Hub) RegisterClient(id string, sender Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[id] = &client{id: id, sender: sender, rateHz: DefaultClientRateHz}
}

func (h *Hub) UnregisterClient(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// ConnectedClients and LowMemory satisfy sink.GlobalIntervalInputs.
func (h *Hub) ConnectedClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) LowMemory() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lowMemory
}

// SetLowMemory lets the wiring layer report a free-memory budget signal
// (spec §4.9: "if free memory < 50kB-equivalent-budget, 200ms").
func (h *Hub) SetLowMemory(low bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lowMemory = low
}

// PublishSample sends to every client whose own per-client rate interval has
// elapsed since its last send (spec §4.9 per-client minimum interval).
func (h *Hub) PublishSample(msg sink.SampleBroadcast) {
	payload, err := h.encode(msg)
	if err != nil {
		return
	}
	h.publish(payload, true)
}

// PublishEvent sends to every client unconditionally, bypassing the
// per-client rate (events are rare and important relative to the
// high-volume sample stream).
func (h *Hub) PublishEvent(msg sink.EventBroadcast) {
	payload, err := h.encode(msg)
	if err != nil {
		return
	}
	h.publish(payload, false)
}

// PublishStatus sends an arbitrary status/heartbeat payload (spec §4.10's
// periodic HealthSample snapshot) to every client unconditionally, the same
// as PublishEvent — telemetry's own 5s ticker is what keeps this at ≤1Hz,
// not per-client rate control.
func (h *Hub) PublishStatus(v interface{}) {
	payload, err := h.encode(v)
	if err != nil {
		return
	}
	h.publish(payload, false)
}

func (h *Hub) publish(payload []byte, rateLimited bool) {
	h.mu.Lock()
	now := time.Now()
	var toPrune []string
	for id, c := range h.clients {
		if rateLimited && !c.lastSentAt.IsZero() && now.Sub(c.lastSentAt) < c.minInterval() {
			continue
		}
		if err := c.sender.Send(payload); err != nil {
			c.consecutiveFailures++
			if c.consecutiveFailures >= FailuresBeforeFloor {
				c.rateHz = FloorClientRateHz
			} else {
				c.rateHz = clampRate(c.rateHz - 1)
			}
			if err == ErrClientClosed {
				toPrune = append(toPrune, id)
			}
			continue
		}
		c.lastSentAt = now
	}
	for _, id := range toPrune {
		delete(h.clients, id)
	}
	h.mu.Unlock()
}

// AdaptTick is the periodic "good performance" tick of spec §4.9: every
// client's rate rises by 1 Hz (clamped to the ceiling) and its failure
// streak resets. Callers run this on their own interval (independent of the
// sample/event publish cadence).
func (h *Hub) AdaptTick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.rateHz = clampRate(c.rateHz + 1)
		c.consecutiveFailures = 0
	}
}

func clampRate(r float64) float64 {
	if r < FloorClientRateHz {
		return FloorClientRateHz
	}
	if r > CeilingClientRateHz {
		return CeilingClientRateHz
	}
	return r
}

// ClientRate reports a client's current adaptive rate, for tests and
// telemetry.
func (h *Hub) ClientRate(id string) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return 0, false
	}
	return c.rateHz, true
}
