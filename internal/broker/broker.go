// Package broker wraps paho.mqtt.golang behind the thin, non-blocking
// Publish contract spec §4.12 asks for: a bounded internal channel absorbs
// the sink's publish calls while a background goroutine owns the actual
// MQTT client and its reconnect loop, so a disconnected broker never stalls
// the sink domain. The reconnect-loop shape (stopCh, sync.Once, background
// goroutine) is grounded on the teacher's ratelimit shard eviction loop in
// engine/internal/ratelimit/limiter.go.
package broker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrDisconnected names the disconnected-broker condition. Publish does not
// return it: messages queued while the connection is down are dropped
// silently by the drain goroutine (spec §7).
var ErrDisconnected = errors.New("broker: disconnected, publish dropped")

// ErrQueueFull signals the bounded internal channel is saturated; the sink
// counts it as a broker publish error and moves on.
var ErrQueueFull = errors.New("broker: publish queue full")

const (
	publishQueueCapacity = 64

	// MinReconnectInterval spaces the retries of the initial connect and
	// caps paho's automatic reconnect backoff. It is not a lower bound for
	// automatic reconnects: paho's backoff after a lost connection starts
	// below this value, so those attempts are not all 5s apart.
	MinReconnectInterval = 5 * time.Second
)

type outboundMessage struct {
	topic    string
	payload  []byte
	retained bool
}

// CommandHandler receives a verb parsed from a `cmnd/<client>/<verb>` topic
// (spec §6: restart, calibrate, debug, status).
type CommandHandler func(verb string, payload []byte)

// Broker owns one MQTT client connection and the background goroutine that
// keeps it alive.
type Broker struct {
	client   mqtt.Client
	clientID string

	outbound chan outboundMessage
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	connected int32 // atomic bool
}

// New builds a Broker for the given MQTT broker URL and station client ID.
// It does not connect until Start is called.
func New(brokerURL, clientID string) *Broker {
	b := &Broker{clientID: clientID, outbound: make(chan outboundMessage, publishQueueCapacity), stopCh: make(chan struct{})}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(MinReconnectInterval).
		SetConnectRetry(true).
		SetConnectRetryInterval(MinReconnectInterval).
		SetOnConnectHandler(func(mqtt.Client) { atomic.StoreInt32(&b.connected, 1) }).
		SetConnectionLostHandler(func(mqtt.Client, error) { atomic.StoreInt32(&b.connected, 0) })

	b.client = mqtt.NewClient(opts)
	return b
}

// Start connects and launches the publish-draining goroutine.
func (b *Broker) Start() error {
	token := b.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	b.wg.Add(1)
	go b.drainLoop()
	return nil
}

// SubscribeCommands subscribes to this station's `cmnd/<client>/+` topic
// and dispatches each message's final path segment as the verb.
func (b *Broker) SubscribeCommands(handler CommandHandler) error {
	topic := "cmnd/" + b.clientID + "/+"
	token := b.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		verb := lastSegment(msg.Topic())
		handler(verb, msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func lastSegment(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}

// Publish is the sink's non-blocking out-edge (spec §4.12): it enqueues
// onto a bounded channel and returns immediately. It never blocks the
// caller on network I/O.
func (b *Broker) Publish(topic string, payload []byte, retained bool) error {
	select {
	case b.outbound <- outboundMessage{topic: topic, payload: payload, retained: retained}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *Broker) Connected() bool {
	return atomic.LoadInt32(&b.connected) == 1
}

func (b *Broker) drainLoop() {
	defer b.wg.Done()
	for {
		select {
		case msg := <-b.outbound:
			if !b.Connected() {
				// Publishes during disconnection are dropped (spec §7);
				// retained events still reach the broker on the next
				// successful publish after reconnect.
				continue
			}
			token := b.client.Publish(msg.topic, 1, msg.retained, msg.payload)
			token.Wait()
		case <-b.stopCh:
			return
		}
	}
}

// Stop disconnects and stops the drain goroutine.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
	b.client.Disconnect(250)
}
