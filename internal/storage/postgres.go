// Package storage - postgres.go implements Store against Postgres via
// pgx/v5, with notifications fanned out through lib/pq's LISTEN/NOTIFY so
// the event sink can tail appended events without polling.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/quantspot/engine/internal/executor"
)

// PostgresStore implements Store using a pgx connection pool. All
// multi-statement operations run inside an explicit transaction so
// open_trade, close_trade, append_equity, and append_event are atomic.
type PostgresStore struct {
	pool     *pgxpool.Pool
	notifier *pq.Listener
}

// NewPostgresStore connects a pgx pool to connStr and initializes the
// lib/pq listener used for NOTIFY-based event fan-out.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("postgres store: connection string is required")
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	listener := pq.NewListener(connStr, 10*time.Second, time.Minute, nil)
	if err := listener.Listen("quantspot_events"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: listen: %w", err)
	}

	return &PostgresStore{pool: pool, notifier: listener}, nil
}

// Close releases the pool and the NOTIFY listener.
func (ps *PostgresStore) Close() {
	ps.pool.Close()
	ps.notifier.Close()
}

// Notifications exposes the raw lib/pq notification channel for the event
// sink to tail.
func (ps *PostgresStore) Notifications() <-chan *pq.Notification {
	return ps.notifier.Notify
}

func (ps *PostgresStore) OpenTrade(ctx context.Context, trade executor.Trade, orders []executor.Order) error {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin open_trade: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO trades (id, symbol, mode, status, entry_price, qty, stop_loss, take_profit, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		trade.ID, trade.Symbol, trade.Mode, trade.Status, trade.EntryPrice, trade.Qty, trade.StopLoss, trade.TakeProfit, trade.OpenedAt)
	if err != nil {
		return fmt.Errorf("postgres store: insert trade: %w", err)
	}

	for _, o := range orders {
		_, err = tx.Exec(ctx, `
			INSERT INTO orders (id, trade_id, role, status, price, qty, idempotency_key, exchange_order_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			o.ID, o.TradeID, o.Role, o.Status, o.Price, o.Qty, o.IdempotencyKey, o.ExchangeOrderID, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres store: insert order %s: %w", o.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (ps *PostgresStore) CloseTrade(ctx context.Context, tradeID string, exitPrice, realizedPnL decimal.Decimal, closedAt time.Time) error {
	tag, err := ps.pool.Exec(ctx, `
		UPDATE trades SET status = $1, exit_price = $2, realized_pnl = $3, closed_at = $4
		WHERE id = $5 AND status = $6`,
		executor.TradeStatusClosed, exitPrice, realizedPnL, closedAt, tradeID, executor.TradeStatusOpen)
	if err != nil {
		return fmt.Errorf("postgres store: close_trade %s: %w", tradeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: close_trade %s: no open trade matched", tradeID)
	}
	return nil
}

func (ps *PostgresStore) CancelTrade(ctx context.Context, tradeID string, _ string, canceledAt time.Time) error {
	tag, err := ps.pool.Exec(ctx, `
		UPDATE trades SET status = $1, closed_at = $2
		WHERE id = $3 AND status = $4`,
		executor.TradeStatusCanceled, canceledAt, tradeID, executor.TradeStatusOpen)
	if err != nil {
		return fmt.Errorf("postgres store: cancel_trade %s: %w", tradeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: cancel_trade %s: no open trade matched", tradeID)
	}
	return nil
}

func (ps *PostgresStore) UpdateOrder(ctx context.Context, order executor.Order) error {
	_, err := ps.pool.Exec(ctx, `
		UPDATE orders SET status = $1, exchange_order_id = $2 WHERE id = $3`,
		order.Status, order.ExchangeOrderID, order.ID)
	if err != nil {
		return fmt.Errorf("postgres store: update_order %s: %w", order.ID, err)
	}
	return nil
}

func (ps *PostgresStore) AppendEquity(ctx context.Context, snapshot EquitySnapshot) error {
	meta, err := json.Marshal(snapshot.Meta)
	if err != nil {
		return fmt.Errorf("postgres store: marshal equity meta: %w", err)
	}
	_, err = ps.pool.Exec(ctx, `
		INSERT INTO equity_snapshots (ts, equity_usd, cash_usd, unrealized_pnl_usd, realized_pnl_today_usd, open_positions, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snapshot.At, snapshot.Equity, snapshot.Cash, snapshot.UnrealizedPnL, snapshot.RealizedPnLToday, snapshot.OpenPositions, meta)
	if err != nil {
		return fmt.Errorf("postgres store: append_equity: %w", err)
	}
	return nil
}

// AppendEvent allocates the next seq from a sequence in the same
// transaction as the insert, then NOTIFYs so live subscribers can tail it
// without polling.
func (ps *PostgresStore) AppendEvent(ctx context.Context, event Event) (Event, error) {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return Event{}, fmt.Errorf("postgres store: marshal event detail: %w", err)
	}

	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("postgres store: begin append_event: %w", err)
	}
	defer tx.Rollback(ctx)

	var seq int64
	row := tx.QueryRow(ctx, `SELECT nextval('events_seq')`)
	if err := row.Scan(&seq); err != nil {
		return Event{}, fmt.Errorf("postgres store: allocate seq: %w", err)
	}
	event.Seq = seq

	level := event.Level
	if level == "" {
		level = LevelInfo
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO events (seq, type, level, symbol, trade_id, at, detail, public_safe)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.Seq, event.Type, level, event.Symbol, event.TradeID, event.At, detail, event.PublicSafe)
	if err != nil {
		return Event{}, fmt.Errorf("postgres store: insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Event{}, fmt.Errorf("postgres store: commit append_event: %w", err)
	}

	if _, err := ps.pool.Exec(ctx, `SELECT pg_notify('quantspot_events', $1::text)`, event.Seq); err != nil {
		return event, fmt.Errorf("postgres store: notify: %w", err)
	}

	return event, nil
}

func (ps *PostgresStore) GetTodayClosedTrades(ctx context.Context, dayKey string) ([]executor.Trade, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, symbol, mode, status, entry_price, qty, stop_loss, take_profit, opened_at, closed_at, exit_price, realized_pnl
		FROM trades WHERE status = $1 AND closed_at::date = $2::date`,
		executor.TradeStatusClosed, dayKey)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get_today_closed_trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (ps *PostgresStore) GetOpenTrades(ctx context.Context) ([]executor.Trade, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, symbol, mode, status, entry_price, qty, stop_loss, take_profit, opened_at, closed_at, exit_price, realized_pnl
		FROM trades WHERE status = $1`, executor.TradeStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get_open_trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]executor.Trade, error) {
	var out []executor.Trade
	for rows.Next() {
		var t executor.Trade
		var closedAt *time.Time
		var exitPrice, realizedPnL *decimal.Decimal
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Mode, &t.Status, &t.EntryPrice, &t.Qty, &t.StopLoss, &t.TakeProfit, &t.OpenedAt, &closedAt, &exitPrice, &realizedPnL); err != nil {
			return nil, fmt.Errorf("postgres store: scan trade: %w", err)
		}
		if closedAt != nil {
			t.ClosedAt = *closedAt
		}
		if exitPrice != nil {
			t.ExitPrice = *exitPrice
		}
		if realizedPnL != nil {
			t.RealizedPnL = *realizedPnL
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) GetOpenOrders(ctx context.Context, tradeID string) ([]executor.Order, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, trade_id, role, status, price, qty, idempotency_key, exchange_order_id, created_at
		FROM orders WHERE trade_id = $1 AND status NOT IN ($2, $3)`,
		tradeID, executor.OrderStatusCancelled, executor.OrderStatusFilled)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get_open_orders: %w", err)
	}
	defer rows.Close()

	var out []executor.Order
	for rows.Next() {
		var o executor.Order
		if err := rows.Scan(&o.ID, &o.TradeID, &o.Role, &o.Status, &o.Price, &o.Qty, &o.IdempotencyKey, &o.ExchangeOrderID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) GetEventsAfter(ctx context.Context, seq int64, limit int) ([]Event, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT seq, type, level, symbol, trade_id, at, detail, public_safe
		FROM events WHERE seq > $1 ORDER BY seq ASC LIMIT $2`, seq, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get_events_after: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var detail []byte
		if err := rows.Scan(&e.Seq, &e.Type, &e.Level, &e.Symbol, &e.TradeID, &e.At, &detail, &e.PublicSafe); err != nil {
			return nil, fmt.Errorf("postgres store: scan event: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres store: unmarshal event detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) OpenPositionCount(ctx context.Context) (int, error) {
	var count int
	row := ps.pool.QueryRow(ctx, `SELECT count(*) FROM trades WHERE status = $1`, executor.TradeStatusOpen)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres store: open_position_count: %w", err)
	}
	return count, nil
}
