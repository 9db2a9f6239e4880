package eventsink

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/quantspot/engine/internal/storage"
)

func TestRelayNotifications_BackfillsAndBroadcastsOnSeq(t *testing.T) {
	repo := storage.NewMemoryStore()
	sink := New(repo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persisted, err := sink.Append(ctx, storage.Event{Type: "TRADE_OPENED", Symbol: "BTC-USDT", PublicSafe: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub := sink.Subscribe("watcher", persisted.Seq)
	notifications := make(chan *pq.Notification, 1)
	go sink.RelayNotifications(ctx, notifications)

	notifications <- &pq.Notification{Channel: "quantspot_events", Extra: strconv.FormatInt(persisted.Seq, 10)}

	select {
	case got := <-sub.Send:
		if got.Seq != persisted.Seq {
			t.Errorf("expected relayed event seq %d, got %d", persisted.Seq, got.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("relay never delivered the notified event")
	}
}

func TestRelayNotifications_IgnoresNilAndMalformedPayloads(t *testing.T) {
	repo := storage.NewMemoryStore()
	sink := New(repo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifications := make(chan *pq.Notification, 2)
	done := make(chan struct{})
	go func() {
		sink.RelayNotifications(ctx, notifications)
		close(done)
	}()

	notifications <- nil
	notifications <- &pq.Notification{Channel: "quantspot_events", Extra: "not-a-number"}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay goroutine did not exit after context cancellation")
	}
}

