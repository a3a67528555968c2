// Package events fans relay activity out to status subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies the event.
type Type string

const (
	TypeTab      Type = "tab"
	TypeRole     Type = "role"
	TypeTransfer Type = "transfer"
	TypeDelivery Type = "delivery"
	TypeError    Type = "error"
	TypeSweep    Type = "sweep"
)

// Event is one line of relay activity.
type Event struct {
	Type    Type      `json:"type"`
	At      time.Time `json:"at"`
	TabID   string    `json:"tabId,omitempty"`
	Role    string    `json:"role,omitempty"`
	Action  string    `json:"action,omitempty"`
	Message string    `json:"message,omitempty"`
	Parts   int       `json:"parts,omitempty"`
	Total   int       `json:"total,omitempty"`
}

// Bus delivers events to every subscriber. Slow subscribers lose events
// instead of blocking publishers.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Event]struct{}
	depth int
}

func New() *Bus {
	return &Bus{subs: make(map[chan Event]struct{}), depth: 256}
}

// Subscribe registers a subscriber; cancel unregisters and closes the
// channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()
	slog.Debug("events subscribe", "subs", n)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish stamps ev and hands it to the subscribers.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	dropped := 0
	b.mu.Lock()
	for sub := range b.subs {
		select {
		case sub <- ev:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		slog.Debug("events dropped", "count", dropped, "type", ev.Type)
	}
}

// Subscribers reports how many subscribers are registered.
func (b *Bus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
