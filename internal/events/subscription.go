package events

import "sync"

// Subscription delivers events in publish order on C. The queue behind C is unbounded
// so a slow consumer never makes Publish block or lose a result.
type Subscription struct {
	bus *Bus
	id  uint64

	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func newSubscription(b *Bus, id uint64) *Subscription {
	s := &Subscription{
		bus:    b,
		id:     id,
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// C is closed after Unsubscribe.
func (s *Subscription) C() <-chan Event { return s.out }

// Unsubscribe is idempotent. Events still queued are discarded.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
