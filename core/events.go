package core

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Component names the publisher of an event
type Component string

const (
	ComponentResultSink       Component = "result_sink"
	ComponentAlertEngine      Component = "alert_engine"
	ComponentHealthSupervisor Component = "health_supervisor"
	ComponentDBProbe          Component = "db_probe"
)

// EventType is the published event vocabulary. Each component publishes
// only its own group.
type EventType string

// ResultSink events
const (
	EventCheckCompleted EventType = "check_completed"
	EventCheckFailed    EventType = "check_failed"
	EventStatusChanged  EventType = "status_changed"
)

// AlertEngine events
const (
	EventAlertTriggered EventType = "alert_triggered"
	EventAlertResolved  EventType = "alert_resolved"
)

// HealthSupervisor events
const (
	EventHealthChecked EventType = "health_checked"
)

// DatabaseMetricsProbe events
const (
	EventDBProbeCompleted EventType = "db_probe_completed"
)

// Event is delivered to subscribers
type Event struct {
	Type      EventType   `json:"type"`
	Source    Component   `json:"source"`
	TargetID  string      `json:"target_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// StatusChange is the payload of EventStatusChanged
type StatusChange struct {
	From CheckStatus `json:"from"`
	To   CheckStatus `json:"to"`
}

// EventBus fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full loses the event.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped atomic.Int64
	logger  *zap.Logger
}

// Subscription receives events of the requested types
type Subscription struct {
	id    uint64
	bus   *EventBus
	ch    chan Event
	types map[EventType]bool
	once  sync.Once
}

// NewEventBus creates an event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subs:   make(map[uint64]*Subscription),
		logger: logger.Named("events"),
	}
}

// Subscribe registers a subscriber. No types means every event.
func (b *EventBus) Subscribe(buffer int, types ...EventType) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, buffer),
	}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Publish delivers ev to every interested subscriber
func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[ev.Type] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber buffer full, dropping event",
				zap.Uint64("subscription", sub.id), zap.String("type", string(ev.Type)))
		}
	}
}

// Dropped reports how many events were lost to full subscriber buffers
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// Events returns the delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unregisters the subscription
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}
