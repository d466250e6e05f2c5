// Package events publishes ledger events to a message broker.
// Publishing is best effort: a failed publish never undoes a ledger write.
package events

import (
	"context"
	"sync"
	"time"
)

// Routing keys.
const (
	PaymentSettled      = "payment.settled"
	PaymentCancelled    = "payment.cancelled"
	CommissionCredited  = "commission.credited"
	WithdrawalRequested = "withdrawal.requested"
	FundsReleased       = "funds.released"
)

// Event is one message on the ledger exchange.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// Publisher is implemented by types that can publish ledger events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Noop) Close() {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Close implements Publisher.
func (r *Recorder) Close() {}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
