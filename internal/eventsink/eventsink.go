// Package eventsink fans out every appended event to persistent storage
// and to in-process subscribers so API/WS consumers can tail the feed in
// real time.
//
// Design rules:
//   - Subscribers receive events strictly in seq order.
//   - A slow subscriber must never block the producer: if its buffer
//     overflows it is dropped and told to reconnect from its last-seen
//     seq, backfilling via the repository.
//   - Events carry public_safe; consumers on public surfaces must refuse
//     rows where it is false.
package eventsink

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/quantspot/engine/internal/storage"
)

// Subscriber is a registered event consumer. Send delivers one event, and
// Dropped signals that the subscriber's buffer overflowed — the consumer
// must reconnect with Backfill from LastSeen.
type Subscriber struct {
	ID       string
	Send     chan storage.Event
	Dropped  chan int64 // carries the seq to resume backfill from
	lastSeen int64
}

const subscriberBufferSize = 256

// Sink persists events via the repository and fans them out to
// subscribers. Safe for concurrent use.
type Sink struct {
	repo storage.Store

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	logger *log.Logger
}

// New creates an event sink backed by repo. Pass a nil logger for a
// default stdlib logger.
func New(repo storage.Store, logger *log.Logger) *Sink {
	if logger == nil {
		logger = log.New(log.Writer(), "[eventsink] ", log.LstdFlags)
	}
	return &Sink{repo: repo, subscribers: map[string]*Subscriber{}, logger: logger}
}

// Append persists event (allocating its seq) then broadcasts it to every
// subscriber without blocking the caller.
func (s *Sink) Append(ctx context.Context, event storage.Event) (storage.Event, error) {
	persisted, err := s.repo.AppendEvent(ctx, event)
	if err != nil {
		return storage.Event{}, fmt.Errorf("eventsink: append: %w", err)
	}
	s.broadcast(persisted)
	return persisted, nil
}

func (s *Sink) broadcast(event storage.Event) {
	var dropped []*Subscriber
	s.mu.RLock()
	for _, sub := range s.subscribers {
		select {
		case sub.Send <- event:
			sub.lastSeen = event.Seq
		default:
			// Buffer full: drop the subscriber rather than block the
			// producer, and signal it to resume from its last-seen seq.
			s.logger.Printf("subscriber %s buffer full, dropping", sub.ID)
			select {
			case sub.Dropped <- sub.lastSeen:
			default:
			}
			dropped = append(dropped, sub)
		}
	}
	s.mu.RUnlock()
	if len(dropped) == 0 {
		return
	}
	s.mu.Lock()
	for _, sub := range dropped {
		if s.subscribers[sub.ID] == sub {
			close(sub.Send)
			delete(s.subscribers, sub.ID)
		}
	}
	s.mu.Unlock()
}

// Subscribe registers a new subscriber. It receives every event broadcast
// after registration, with no filtering by seq; afterSeq only seeds the
// last-seen seq reported on Dropped. Callers wanting history should
// Backfill first.
func (s *Sink) Subscribe(id string, afterSeq int64) *Subscriber {
	sub := &Subscriber{
		ID:       id,
		Send:     make(chan storage.Event, subscriberBufferSize),
		Dropped:  make(chan int64, 1),
		lastSeen: afterSeq,
	}
	s.mu.Lock()
	s.subscribers[id] = sub
	s.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channels.
func (s *Sink) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subscribers[id]; ok {
		close(sub.Send)
		delete(s.subscribers, id)
	}
}

// Backfill returns events after afterSeq from the repository, for a
// subscriber reconnecting after being dropped.
func (s *Sink) Backfill(ctx context.Context, afterSeq int64, limit int) ([]storage.Event, error) {
	events, err := s.repo.GetEventsAfter(ctx, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("eventsink: backfill: %w", err)
	}
	return events, nil
}

// PublicSafe filters events down to those marked public_safe=true.
// Consumers intended for public surfaces must call this before emitting
// anything downstream.
func PublicSafe(events []storage.Event) []storage.Event {
	out := make([]storage.Event, 0, len(events))
	for _, e := range events {
		if e.PublicSafe {
			out = append(out, e)
		}
	}
	return out
}

// SubscriberCount reports how many subscribers are currently registered.
func (s *Sink) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
