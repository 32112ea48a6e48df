// Package events provides the typed event surface for the ledger. Components
// publish lifecycle events on a process-local bus and callers subscribe to
// the kinds they care about.
package events

import (
	"fmt"

	evbus "github.com/asaskevich/EventBus"
)

// Kind classifies an event on the bus.
type Kind string

// The set of events emitted while blocks move through the commit pipeline.
const (
	BlockSubmit        Kind = "ledger:block.submit"
	BlockCommit        Kind = "ledger:block.commit"
	BlockCommitError   Kind = "ledger:block.commit.error"
	BlockCommitTimeout Kind = "ledger:block.commit.timeout"
	QueueEmpty         Kind = "ledger:queue.empty"
)

// kinds holds every kind for full-surface subscriptions.
var kinds = []Kind{BlockSubmit, BlockCommit, BlockCommitError, BlockCommitTimeout, QueueEmpty}

// Event carries the details of one ledger occurrence. Index is meaningless
// for QueueEmpty. Err is set only on the error kinds.
type Event struct {
	Chain string
	Kind  Kind
	Index uint64
	Hash  string
	Err   error
}

// String implements the fmt.Stringer interface for logging and streaming.
func (evt Event) String() string {
	switch evt.Kind {
	case QueueEmpty:
		return fmt.Sprintf("chain[%s]: %s", evt.Chain, evt.Kind)
	case BlockCommitError, BlockCommitTimeout:
		return fmt.Sprintf("chain[%s]: %s: blk[%d]: %v", evt.Chain, evt.Kind, evt.Index, evt.Err)
	default:
		return fmt.Sprintf("chain[%s]: %s: blk[%d]", evt.Chain, evt.Kind, evt.Index)
	}
}

// =============================================================================

// Bus wraps the process-local event bus the ledger publishes on. Handlers
// run synchronously on the publisher's goroutine, so they must not block.
type Bus struct {
	bus evbus.Bus
}

// NewBus constructs a Bus for publishing and subscribing to ledger events.
func NewBus() *Bus {
	return &Bus{
		bus: evbus.New(),
	}
}

// Publish delivers the event to every subscriber of its kind.
func (b *Bus) Publish(evt Event) {
	b.bus.Publish(string(evt.Kind), evt)
}

// Subscribe registers the handler for a single event kind.
func (b *Bus) Subscribe(kind Kind, handler func(Event)) error {
	return b.bus.Subscribe(string(kind), handler)
}

// Unsubscribe removes a handler previously registered with Subscribe. The
// same function value must be provided.
func (b *Bus) Unsubscribe(kind Kind, handler func(Event)) error {
	return b.bus.Unsubscribe(string(kind), handler)
}

// SubscribeAll registers the handler for every event kind.
func (b *Bus) SubscribeAll(handler func(Event)) error {
	for _, kind := range kinds {
		if err := b.bus.Subscribe(string(kind), handler); err != nil {
			return err
		}
	}
	return nil
}

// UnsubscribeAll removes a handler previously registered with SubscribeAll.
func (b *Bus) UnsubscribeAll(handler func(Event)) error {
	for _, kind := range kinds {
		if err := b.bus.Unsubscribe(string(kind), handler); err != nil {
			return err
		}
	}
	return nil
}
