// Package eventbus republishes session notifications on a topic-based
// pub/sub stream so several consumers can follow one session.
package eventbus

import (
	"sync"
	"time"

	"github.com/cskr/pubsub/v2"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/session"
)

// Topics, one per observer notification.
const (
	TopicDeviceFound  = "device_found"
	TopicScanComplete = "scan_complete"
	TopicConnected    = "connected"
	TopicDisconnected = "disconnected"
	TopicReady        = "ready"
)

// AllTopics lists every topic the bus publishes on.
var AllTopics = []string{TopicReady, TopicDeviceFound, TopicScanComplete, TopicConnected, TopicDisconnected}

// Event is one published notification.
type Event struct {
	Type   string         `json:"type"`
	Device *device.Device `json:"device,omitempty"`
	Error  string         `json:"error,omitempty"`
	Time   time.Time      `json:"time"`
}

// Bus is a session.Observer that fans notifications out to subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	ps     *pubsub.PubSub[string, Event]
	logger *logrus.Logger

	mu     sync.RWMutex
	closed bool
}

var (
	_ session.DeviceFoundHandler  = (*Bus)(nil)
	_ session.ScanCompleteHandler = (*Bus)(nil)
	_ session.ConnectedHandler    = (*Bus)(nil)
	_ session.DisconnectedHandler = (*Bus)(nil)
	_ session.ReadyHandler        = (*Bus)(nil)
)

// New creates a bus whose subscriptions buffer up to capacity events.
func New(capacity int, logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{
		ps:     pubsub.New[string, Event](capacity),
		logger: logger,
	}
}

// Subscription is a live feed of events on a set of topics.
type Subscription struct {
	C <-chan Event

	once  sync.Once
	unsub func()
}

// Close stops delivery. C is closed once the bus has processed the request.
func (s *Subscription) Close() {
	s.once.Do(s.unsub)
}

// Subscribe returns a feed of the given topics, or of every topic when none are given.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	if len(topics) == 0 {
		topics = AllTopics
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return &Subscription{C: ch, unsub: func() {}}
	}

	ch := b.ps.Sub(topics...)
	return &Subscription{
		C: ch,
		unsub: func() {
			// Unsub must not run on the goroutine draining ch
			go b.ps.Unsub(ch, topics...)
		},
	}
}

func (b *Bus) publish(topic string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	ev.Type = topic
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.logger.WithField("topic", topic).Debug("Publishing session event")
	b.ps.TryPub(ev, topic)
}

func withDevice(dev device.Device, err error) Event {
	d := dev.Clone()
	ev := Event{Device: &d}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func (b *Bus) OnDeviceFound(dev device.Device) {
	b.publish(TopicDeviceFound, withDevice(dev, nil))
}

func (b *Bus) OnScanComplete() {
	b.publish(TopicScanComplete, Event{})
}

func (b *Bus) OnConnected(dev device.Device, err error) {
	b.publish(TopicConnected, withDevice(dev, err))
}

func (b *Bus) OnDisconnected(dev device.Device, err error) {
	b.publish(TopicDisconnected, withDevice(dev, err))
}

func (b *Bus) OnReady() {
	b.publish(TopicReady, Event{})
}

// Close shuts the bus down and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}
