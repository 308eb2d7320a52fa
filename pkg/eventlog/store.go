// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"sync"
	"time"
)

// Sink receives every appended event. Write must complete before Append
// returns so a crash immediately after Append never loses the event.
type Sink interface {
	Write(event Event) error
}

// Store is the in-memory append-only event log. Sequence numbers increase
// monotonically in insertion order.
type Store struct {
	mu     sync.RWMutex
	events []Event
	seq    int64
	sinks  []Sink
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSink attaches a persistence sink flushed synchronously on append.
func WithSink(sink Sink) StoreOption {
	return func(s *Store) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty event store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append assigns the next sequence number and the current timestamp,
// appends the event, and flushes every sink before returning. The sequence
// and timestamp fields of the input are ignored.
func (s *Store) Append(event Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	event.Sequence = s.seq
	event.Timestamp = s.now().UTC()
	s.events = append(s.events, event)

	for _, sink := range s.sinks {
		if err := sink.Write(event); err != nil {
			return Event{}, err
		}
	}
	return event, nil
}

// All returns every event in sequence order.
func (s *Store) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

// Filter returns the events of exactly the given variant, in sequence order.
func (s *Store) Filter(eventType EventType) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of appended events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
