package ledger

import (
	"sync"

	"CipherPool/internal/he"
)

// Event is a ledger notification delivered after a successful
// operation. Failed operations emit nothing.
type Event interface {
	event()
}

// SalarySubmitted is emitted after each accepted submission.
type SalarySubmitted struct {
	Principal Principal // Principal is the submitting party
	Count     uint32    // Count is the submission count after this one
}

// AverageRequested is emitted when an average handle is produced.
type AverageRequested struct {
	Requester Principal // Requester is the party the handle is pending for
	Handle    he.Handle // Handle is the fresh encrypted average
}

// AverageDecrypted is emitted after a verified decryption result.
type AverageDecrypted struct {
	Requester Principal // Requester is the party that verified the result
	Average   uint64    // Average is the decoded plaintext average
}

func (SalarySubmitted) event()  {}
func (AverageRequested) event() {}
func (AverageDecrypted) event() {}

// Feed fans ledger events out to subscribers. Delivery is best effort:
// a subscriber that stops draining its channel loses events rather
// than blocking the ledger.
type Feed struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{}
}

// Subscribe registers a new subscriber with the given buffer size.
func (f *Feed) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)

	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()

	return ch
}

// publish delivers an event to all subscribers without blocking.
func (f *Feed) publish(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
