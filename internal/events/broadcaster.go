// Package events fans store change notifications out to subscribers.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind names a state change.
type Kind string

const (
	SessionLogin   Kind = "session.login"
	SessionSignup  Kind = "session.signup"
	SessionLogout  Kind = "session.logout"
	WaitlistJoined Kind = "waitlist.joined"
	FunnelSeeded   Kind = "funnel.seeded"
	FunnelAdded    Kind = "funnel.added"
	FunnelUpdated  Kind = "funnel.updated"
	FunnelDeleted  Kind = "funnel.deleted"
)

// Event tells subscribers that a store changed; they re-read the snapshot they need.
type Event struct {
	Kind Kind
	ID   string // entity id when the change targets one record
	At   time.Time
}

const bufferSize = 16

// Broadcaster delivers events to every subscriber without blocking the publisher.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	logger *zap.Logger
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{subs: make(map[chan Event]struct{}), logger: logger}
}

// Subscribe registers a new subscriber. The returned cancel func unregisters it
// and closes the channel; calling it more than once is safe.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, bufferSize)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish sends ev to all subscribers. A subscriber whose buffer is full misses the event.
func (b *Broadcaster) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("subscriber too slow, event dropped", zap.String("kind", string(ev.Kind)))
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
