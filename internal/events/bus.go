// Package events carries "data store changed" notifications from the sync
// core to whoever renders or caches data.
package events

import (
	"context"
	"sync"
)

// Reason explains why the data store changed.
type Reason string

const (
	ReasonRebuild      Reason = "rebuild"
	ReasonMerge        Reason = "merge"
	ReasonPropagation  Reason = "propagation"
	ReasonRemoteImport Reason = "remote_import"
	ReasonWorkspace    Reason = "workspace"
	ReasonMigration    Reason = "migration"
)

// DataStoreChanged signals that cached reads must be refreshed.
type DataStoreChanged struct {
	Reason Reason
	// Rows is the number of rows affected, when known.
	Rows int
}

// Bus fans DataStoreChanged events out to subscribers.
//
// Publish never blocks: each subscriber has its own unbounded FIFO and a
// buffered signal channel of size one, so bursts coalesce into one wake-up.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish delivers e to every current subscriber.
// Safe to call on a nil bus.
func (b *Bus) Publish(e DataStoreChanged) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.push(e)
	}
}

// Subscribe registers a new subscriber. Call Close when done.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:    b,
		signal: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Subscription is one subscriber's queue.
type Subscription struct {
	bus *Bus

	mu     sync.Mutex
	events []DataStoreChanged
	closed bool
	signal chan struct{}
}

func (s *Subscription) push(e DataStoreChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events = append(s.events, e)

	// Non-blocking: a pending signal already covers this event.
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// TryNext returns the oldest pending event without blocking.
func (s *Subscription) TryNext() (DataStoreChanged, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return DataStoreChanged{}, false
	}
	e := s.events[0]
	if len(s.events) == 1 {
		s.events = s.events[:0]
	} else {
		s.events = s.events[1:]
	}
	return e, true
}

// Next blocks until an event is available, the subscription is closed or
// ctx is done.
func (s *Subscription) Next(ctx context.Context) (DataStoreChanged, error) {
	for {
		if e, ok := s.TryNext(); ok {
			return e, nil
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return DataStoreChanged{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return DataStoreChanged{}, ctx.Err()
		case <-s.signal:
		}
	}
}

// Drain returns and removes every pending event.
func (s *Subscription) Drain() []DataStoreChanged {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

// Close unregisters the subscription and wakes any blocked Next.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.signal)
}
