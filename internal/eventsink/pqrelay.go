package eventsink

import (
	"context"
	"strconv"

	"github.com/lib/pq"
)

// RelayNotifications tails a Postgres LISTEN/NOTIFY channel (as exposed by
// storage.PostgresStore.Notifications) and backfills+rebroadcasts any
// event whose seq arrives this way, so a second engine process attached to
// the same database sees the same live feed an in-process Subscriber
// would, without polling the repository.
func (s *Sink) RelayNotifications(ctx context.Context, notifications <-chan *pq.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			if n == nil {
				// lib/pq sends a nil notification after re-establishing a
				// dropped connection; nothing to relay.
				continue
			}
			seq, err := strconv.ParseInt(n.Extra, 10, 64)
			if err != nil {
				s.logger.Printf("relay: malformed seq on channel %s: %q", n.Channel, n.Extra)
				continue
			}
			events, err := s.Backfill(ctx, seq-1, 1)
			if err != nil {
				s.logger.Printf("relay: backfill seq %d: %v", seq, err)
				continue
			}
			for _, event := range events {
				s.broadcast(event)
			}
		}
	}
}
