package eventsink

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader is permissive on origin checks: the relay is an internal
// read-only tail of the event feed, not a public API surface.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// ServeWebSocket upgrades r to a websocket.Conn and streams public-safe
// events appended after afterSeq to it, first via one Backfill of at most
// subscriberBufferSize events then live via Subscribe, until the client
// disconnects or ctx (the request context) is done. It is the transport the out-of-scope dashboard would
// connect over; eventsink ships it so PublicSafe filtering has a concrete
// consumer to exercise.
func (s *Sink) ServeWebSocket(w http.ResponseWriter, r *http.Request, afterSeq int64) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("wsrelay: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	backlog, err := s.Backfill(ctx, afterSeq, subscriberBufferSize)
	if err != nil {
		s.logger.Printf("wsrelay: backfill failed: %v", err)
		return
	}
	for _, event := range PublicSafe(backlog) {
		if err := writeEvent(conn, event); err != nil {
			return
		}
	}

	subID := r.RemoteAddr + "-" + time.Now().UTC().Format(time.RFC3339Nano)
	sub := s.Subscribe(subID, afterSeq)
	defer s.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Send:
			if !ok {
				return
			}
			if !event.PublicSafe {
				continue
			}
			if err := writeEvent(conn, event); err != nil {
				return
			}
		case seq, ok := <-sub.Dropped:
			if !ok {
				return
			}
			s.logger.Printf("wsrelay: subscriber %s dropped at seq %d, closing", subID, seq)
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, event any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(event)
}
