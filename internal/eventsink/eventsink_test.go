package eventsink

import (
	"context"
	"testing"
	"time"

	"github.com/quantspot/engine/internal/storage"
)

func TestAppend_PersistsAndBroadcastsInSeqOrder(t *testing.T) {
	repo := storage.NewMemoryStore()
	sink := New(repo, nil)
	sub := sink.Subscribe("client-1", 0)

	ctx := context.Background()
	sink.Append(ctx, storage.Event{Type: "trade.opened"})
	sink.Append(ctx, storage.Event{Type: "trade.closed"})

	first := <-sub.Send
	second := <-sub.Send
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("expected seq 1 then 2, got %d then %d", first.Seq, second.Seq)
	}
}

func TestAppend_NeverBlocksOnSlowSubscriber(t *testing.T) {
	repo := storage.NewMemoryStore()
	sink := New(repo, nil)
	sub := sink.Subscribe("slow-client", 0)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize+10; i++ {
			sink.Append(ctx, storage.Event{Type: "tick"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a slow subscriber")
	}

	select {
	case seq := <-sub.Dropped:
		if seq < 0 {
			t.Errorf("expected a non-negative last-seen seq, got %d", seq)
		}
	default:
		t.Error("expected the slow subscriber to be signalled as dropped")
	}
}

func TestBackfill_ReturnsEventsAfterSeq(t *testing.T) {
	repo := storage.NewMemoryStore()
	sink := New(repo, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		sink.Append(ctx, storage.Event{Type: "tick"})
	}

	events, err := sink.Backfill(ctx, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after seq 1, got %d", len(events))
	}
}

func TestPublicSafe_FiltersNonPublicEvents(t *testing.T) {
	events := []storage.Event{
		{Seq: 1, Type: "trade.opened", PublicSafe: true},
		{Seq: 2, Type: "reconcile.completed", PublicSafe: false},
	}
	filtered := PublicSafe(events)
	if len(filtered) != 1 || filtered[0].Seq != 1 {
		t.Fatalf("expected only the public_safe event, got %+v", filtered)
	}
}

func TestUnsubscribe_RemovesSubscriber(t *testing.T) {
	repo := storage.NewMemoryStore()
	sink := New(repo, nil)
	sink.Subscribe("client-1", 0)
	if sink.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", sink.SubscriberCount())
	}
	sink.Unsubscribe("client-1")
	if sink.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", sink.SubscriberCount())
	}
}
