// Package broadcaster holds the most recent measurement and the session history,
// and notifies subscribers synchronously whenever a measurement is published.
package broadcaster

import (
	"sync"
	"sync/atomic"

	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
)

type SubscriptionID uint64

type subscriber struct {
	id     SubscriptionID
	notify func()
	active atomic.Bool
}

// Broadcaster is written to by a single publisher. Readers on other goroutines
// may call MostRecent and History at any time.
type Broadcaster struct {
	mu          sync.RWMutex
	mostRecent  *types.Measurement
	history     []types.Measurement
	subscribers []*subscriber
	nextID      SubscriptionID
}

func New() *Broadcaster {
	return &Broadcaster{}
}

// Publish records m as the most recent measurement, appends it to the history and
// calls every subscriber in registration order on the caller's goroutine.
// Notifications carry no payload, subscribers re-read MostRecent and History.
func (b *Broadcaster) Publish(m types.Measurement) {
	b.mu.Lock()
	b.mostRecent = &m
	b.history = append(b.history, m)
	snapshot := make([]*subscriber, len(b.subscribers))
	copy(snapshot, b.subscribers)
	b.mu.Unlock()

	for _, s := range snapshot {
		// Removed earlier in this round
		if !s.active.Load() {
			continue
		}
		s.notify()
	}
}

// Subscribe registers notify for future publishes. It is not called for the registration itself.
func (b *Broadcaster) Subscribe(notify func()) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &subscriber{id: b.nextID, notify: notify}
	s.active.Store(true)
	b.subscribers = append(b.subscribers, s)
	return s.id
}

// Unsubscribe is safe to call from inside a notification. Unknown ids are ignored.
func (b *Broadcaster) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subscribers {
		if s.id == id {
			s.active.Store(false)
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return
		}
	}
}

func (b *Broadcaster) MostRecent() (types.Measurement, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.mostRecent == nil {
		return types.Measurement{}, false
	}
	return *b.mostRecent, true
}

// History returns a copy of every published measurement in arrival order.
func (b *Broadcaster) History() []types.Measurement {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.Measurement, len(b.history))
	copy(out, b.history)
	return out
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
