package service

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Resource names carried by events.
const (
	ResourceProjects   = "progetti"
	ResourcePremises   = "locali"
	ResourceActivities = "attivita"
)

// Event describes a change to stored records. Bulk actions ("replaced",
// "cleared") leave ID empty and set Count.
type Event struct {
	Resource  string `json:"resource"`
	Action    string `json:"action"`
	ID        string `json:"id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Count     int    `json:"count,omitempty"`
}

// Project returns the ID of the project the event belongs to.
func (e Event) Project() string {
	if e.Resource == ResourceProjects {
		return e.ID
	}
	return e.ProjectID
}

const subscriberBuffer = 16

// EventBus fans change events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event and the bus counts it.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[chan Event][]string
	dropped atomic.Int64
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event][]string)}
}

// Publish delivers e to every subscriber interested in its resource.
// A nil bus drops the event.
func (b *EventBus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, resources := range b.subs {
		if len(resources) > 0 && !slices.Contains(resources, e.Resource) {
			continue
		}
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber for the given resources, or for every
// resource when none is named.
func (b *EventBus) Subscribe(resources ...string) chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = resources
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}
