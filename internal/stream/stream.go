package stream

import (
	"context"
	"sync"
	"time"
)

// Event topics, one per successful state-changing operation.
const (
	TopicPlatformInit     = "platform.init"
	TopicListingCreated   = "listing.created"
	TopicRentalStarted    = "rental.started"
	TopicRentalReturned   = "rental.returned"
	TopicRentalReclaimed  = "rental.reclaimed"
	TopicListingCancelled = "listing.cancelled"
)

// Event is the externally visible audit trail of the rental state machine.
// Only the fields relevant to the topic are populated.
type Event struct {
	Topic      string    `json:"topic"`
	ListingID  uint64    `json:"listing_id,omitempty"`
	RentalID   uint64    `json:"rental_id,omitempty"`
	Lender     string    `json:"lender,omitempty"`
	Borrower   string    `json:"borrower,omitempty"`
	Admin      string    `json:"admin,omitempty"`
	Token      string    `json:"token,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	RentalRate int64     `json:"rental_rate,omitempty"`
	Duration   uint64    `json:"duration_days,omitempty"`
	OnTime     *bool     `json:"on_time,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stream fan-outs rental events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
