package session

import (
	"sync"

	"github.com/cskr/pubsub/v2"
)

const stateTopic = "state"

// StateFeed broadcasts state transitions to any number of observers.
type StateFeed struct {
	ps *pubsub.PubSub[string, State]

	mu      sync.Mutex
	current State
	closed  bool
}

func newStateFeed(capacity int) *StateFeed {
	return &StateFeed{ps: pubsub.New[string, State](capacity)}
}

// Current returns the last published state.
func (f *StateFeed) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// publish records s and offers it to subscribers. A subscriber whose
// buffer is full misses the transition but can still read Current.
func (f *StateFeed) publish(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.current = s
	f.ps.TryPub(s, stateTopic)
}

// Subscription receives state transitions after Initial.
type Subscription struct {
	// Initial is the state at the time of subscribing.
	Initial State
	// C yields every later transition in order. It is closed when the
	// feed shuts down.
	C <-chan State

	once  sync.Once
	unsub func()
}

// Subscribe starts a subscription. Initial and C never skip or repeat a
// transition relative to each other.
func (f *StateFeed) Subscribe() *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		ch := make(chan State)
		close(ch)
		return &Subscription{Initial: f.current, C: ch, unsub: func() {}}
	}

	ch := f.ps.Sub(stateTopic)
	return &Subscription{
		Initial: f.current,
		C:       ch,
		unsub: func() {
			f.mu.Lock()
			closed := f.closed
			f.mu.Unlock()
			if !closed {
				go f.ps.Unsub(ch, stateTopic)
			}
		},
	}
}

// Close stops the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.unsub)
}

func (f *StateFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.ps.Shutdown()
}
