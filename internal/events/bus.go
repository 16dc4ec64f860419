package events

import (
	"sync"

	"github.com/hamed0406/egressgate/internal/domain"
)

const (
	maxBacklog = 1024
	maxRetired = 64
)

// Bus is a process-wide publish/subscribe channel. The zero value is not usable; use NewBus.
type Bus struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]*Subscription
	round   domain.RoundID
	backlog []Event
	retired []domain.RoundID // superseded rounds, oldest first
	closed  bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Publish fans ev out to every subscriber without blocking. Publishing on a closed
// bus, or with no subscribers, is a no-op apart from the round backlog.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.recordLocked(ev)
	for _, s := range b.subs {
		s.push(ev)
	}
}

// recordLocked keeps the backlog of the newest round. Late events of superseded rounds
// are still delivered but never replace it, and the Ended event is kept past maxBacklog.
func (b *Bus) recordLocked(ev Event) {
	id := ev.RoundID()
	if id != b.round {
		if b.retiredLocked(id) {
			return
		}
		if b.round != "" {
			b.retired = append(b.retired, b.round)
			if len(b.retired) > maxRetired {
				b.retired = b.retired[len(b.retired)-maxRetired:]
			}
		}
		b.round = id
		b.backlog = b.backlog[:0]
	}
	if len(b.backlog) < maxBacklog || ev.Kind == ValidationEnded {
		b.backlog = append(b.backlog, ev)
	}
}

func (b *Bus) retiredLocked(id domain.RoundID) bool {
	for _, r := range b.retired {
		if r == id {
			return true
		}
	}
	return false
}

// Subscribe registers a new subscriber. With replay set, the events already published
// for the most recent round are delivered first, in order.
func (b *Bus) Subscribe(replay bool) *Subscription {
	s, backlog := b.subscribe()
	if replay && len(backlog) > 0 {
		s.mu.Lock()
		s.queue = append(backlog, s.queue...)
		s.mu.Unlock()
		s.signal()
	}
	return s
}

// SubscribeWithBacklog registers a new subscriber and returns the events already
// published for the most recent round. Only later events arrive on the subscription,
// so a caller can apply the backlog synchronously without losing or repeating any.
func (b *Bus) SubscribeWithBacklog() (*Subscription, []Event) {
	return b.subscribe()
}

func (b *Bus) subscribe() (*Subscription, []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := newSubscription(b, b.nextID)
	b.nextID++
	if b.closed {
		s.stop()
		return s, nil
	}
	var backlog []Event
	if len(b.backlog) > 0 {
		backlog = make([]Event, len(b.backlog))
		copy(backlog, b.backlog)
	}
	b.subs[s.id] = s
	return s, backlog
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Close unsubscribes everyone; later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.closed = true
	b.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}
