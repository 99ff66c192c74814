// Package bus is a small in-process event bus. Publishing never blocks:
// subscribers with full buffers drop events, which keeps the planner and
// the feedback loop decoupled from slow listeners.
package bus

import (
	"sync"
	"time"

	"maestro/internal/logging"
)

// EventType names a bus topic.
type EventType string

const (
	PlanStarted       EventType = "plan_started"
	PlanCompleted     EventType = "plan_completed"
	PlanFailed        EventType = "plan_failed"
	ExecutionRecorded EventType = "execution_recorded"
	FeedbackApplied   EventType = "feedback_applied"
)

// Event is one bus message.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]chan Event
	all    []chan Event
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[EventType][]chan Event)}
}

const subscriberBuffer = 64

// Subscribe returns a channel receiving events of the given type, or all
// events when no types are given.
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	if len(types) == 0 {
		b.all = append(b.all, ch)
		return ch
	}
	for _, t := range types {
		b.subs[t] = append(b.subs[t], ch)
	}
	return ch
}

// Publish delivers the event to every matching subscriber without
// blocking. Drops are logged at debug level only; losing an event is
// acceptable, stalling a publisher is not.
func (b *Bus) Publish(t EventType, payload map[string]interface{}) {
	ev := Event{Type: t, Timestamp: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[t] {
		select {
		case ch <- ev:
		default:
			logging.Get(logging.CategoryBus).Debug("dropped %s event for slow subscriber", t)
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- ev:
		default:
			logging.Get(logging.CategoryBus).Debug("dropped %s event for slow subscriber", t)
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	seen := make(map[chan Event]bool)
	for _, chans := range b.subs {
		for _, ch := range chans {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
	}
	for _, ch := range b.all {
		if !seen[ch] {
			seen[ch] = true
			close(ch)
		}
	}
}
