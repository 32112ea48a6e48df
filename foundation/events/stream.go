package events

import (
	"fmt"
	"sync"
)

// Stream fans ledger events out to registered subscribers as strings so
// goroutines like websocket writers can receive them over channels.
type Stream struct {
	bus     *Bus
	m       map[string]chan string
	mu      sync.RWMutex
	handler func(Event)
}

// NewStream constructs a stream bound to the specified bus.
func NewStream(bus *Bus) (*Stream, error) {
	s := Stream{
		bus: bus,
		m:   make(map[string]chan string),
	}

	// The handler is kept so the bus can unsubscribe the same function
	// value at shutdown.
	s.handler = func(evt Event) {
		s.Send(evt.String())
	}

	if err := bus.SubscribeAll(s.handler); err != nil {
		return nil, err
	}

	return &s, nil
}

// Shutdown detaches from the bus and closes every channel that was provided
// by the call to Acquire.
func (s *Stream) Shutdown() {
	s.bus.UnsubscribeAll(s.handler)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.m {
		delete(s.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (s *Stream) Acquire(id string) chan string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, exists := s.m[id]
	if exists {
		return ch
	}

	// Since a message will be dropped if the receiver is not ready, this
	// arbitrary buffer should give a slow receiver enough room to not
	// lose a message.
	const messageBuffer = 100

	s.m[id] = make(chan string, messageBuffer)
	return s.m[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (s *Stream) Release(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, exists := s.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(s.m, id)
	close(ch)
	return nil
}

// Send signals a message to every registered channel. Send will not block
// waiting for a receiver on any given channel.
func (s *Stream) Send(msg string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.m {
		select {
		case ch <- msg:
		default:
		}
	}
}
