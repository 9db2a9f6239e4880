// Package executor places and closes trades. Two implementations share
// one interface: Dry runs simulate fills deterministically from candle
// data; Live contacts the exchange with idempotent order placement and
// reconciles local state against exchange truth on startup.
//
// Design rules:
//   - Only the executor may open/close a Trade; the trading loop calls it
//     but never mutates Trade.status itself.
//   - Every live order carries an idempotency key. The entry order's key
//     is persisted before the network call; the exit order's key is
//     derived from the trade id and is not persisted before placement.
//   - check_exits applies stop-before-take-profit priority when both are
//     touched in the same candle.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantspot/engine/internal/indicator"
)

// Mode distinguishes simulated from real order placement.
type Mode string

const (
	ModeDryRun Mode = "DRY_RUN"
	ModeLive   Mode = "LIVE"
)

// TradeStatus is the lifecycle of one Trade row.
type TradeStatus string

const (
	TradeStatusOpen     TradeStatus = "OPEN"
	TradeStatusClosed   TradeStatus = "CLOSED"
	TradeStatusCanceled TradeStatus = "CANCELED"
)

// OrderRole identifies which leg of a bracket an Order represents.
type OrderRole string

const (
	OrderRoleEntry      OrderRole = "ENTRY"
	OrderRoleStopLoss   OrderRole = "STOP_LOSS"
	OrderRoleTakeProfit OrderRole = "TAKE_PROFIT"
)

// OrderStatus mirrors the exchange-facing lifecycle of one order.
type OrderStatus string

const (
	OrderStatusSimulated OrderStatus = "SIMULATED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusPlaced    OrderStatus = "PLACED"
)

// Order is one leg (entry, stop, or take-profit) of a Trade's bracket.
type Order struct {
	ID             string
	TradeID        string
	Role           OrderRole
	Status         OrderStatus
	Price          decimal.Decimal
	Qty            decimal.Decimal
	IdempotencyKey string
	ExchangeOrderID string
	CreatedAt      time.Time
}

// Trade is one round-trip position, open or closed.
type Trade struct {
	ID          string
	Symbol      string
	Mode        Mode
	Status      TradeStatus
	EntryPrice  decimal.Decimal
	Qty         decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
	OpenedAt    time.Time
	ClosedAt    time.Time
	ExitPrice   decimal.Decimal
	RealizedPnL decimal.Decimal
	Fees        decimal.Decimal
	seq         int
}

// Plan is a fully-gated candidate ready to be opened.
type Plan struct {
	Symbol     string
	Entry      decimal.Decimal
	Qty        decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Event names emitted by the executor for the event sink.
const (
	EventTradeOpened        = "trade.opened"
	EventOrderPlaced        = "order.placed"
	EventOrderFilled        = "order.filled"
	EventTradeClosed        = "trade.closed"
	EventTradeCanceled      = "trade.canceled"
	EventReconcileCompleted = "reconcile.completed"
)

// Event is one domain occurrence emitted by an executor implementation.
type Event struct {
	Type    string
	TradeID string
	Symbol  string
	At      time.Time
	Detail  map[string]any
}

// idempotencyKey formats the fixed QS-{trade_id}-{seq} scheme.
func idempotencyKey(tradeID string, seq int) string {
	return fmt.Sprintf("QS-%s-%d", tradeID, seq)
}

// Exchange is the minimal surface the live executor needs. It mirrors the
// broker contract: stateless, execution-and-account-state only.
type Exchange interface {
	PlaceOrder(ctx context.Context, idempotencyKey string, symbol string, side string, orderType string, price, qty decimal.Decimal) (exchangeOrderID string, status OrderStatus, err error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	OrderStatusByIdempotencyKey(ctx context.Context, idempotencyKey string) (exchangeOrderID string, status OrderStatus, found bool, err error)
	OpenPositions(ctx context.Context) (map[string]decimal.Decimal, error) // symbol -> qty
}

// Repository is the slice of the storage contract the executor drives
// directly: opening/closing trades atomically and persisting orders.
type Repository interface {
	OpenTrade(ctx context.Context, trade Trade, orders []Order) error
	CloseTrade(ctx context.Context, tradeID string, exitPrice, realizedPnL decimal.Decimal, closedAt time.Time) error
	CancelTrade(ctx context.Context, tradeID string, reason string, canceledAt time.Time) error
	UpdateOrder(ctx context.Context, order Order) error
	GetOpenTrades(ctx context.Context) ([]Trade, error)
	GetOpenOrders(ctx context.Context, tradeID string) ([]Order, error)
}

// MetricsSink receives executor-level metrics. Narrow on purpose so this
// package never imports the observability package directly; satisfied
// structurally by *observability.Metrics.
type MetricsSink interface {
	RecordTradeClosed(symbol string, won bool)
	ObserveOrderLatency(role string, seconds float64)
}

// Dry simulates fills from candle data; no network calls.
type Dry struct {
	repo    Repository
	fees    FeeModel
	metrics MetricsSink
}

// SetMetrics wires m as the destination for this executor's metrics. Pass
// nil (the default) to disable metrics recording, e.g. in backtests.
func (d *Dry) SetMetrics(m MetricsSink) { d.metrics = m }

// FeeModel computes the simulated fee charged on a fill.
type FeeModel struct {
	TakerBps decimal.Decimal
}

func (f FeeModel) fee(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(f.TakerBps).Div(decimal.NewFromInt(10000))
}

// NewDry creates a dry-run executor.
func NewDry(repo Repository, fees FeeModel) *Dry {
	return &Dry{repo: repo, fees: fees}
}

// Open creates a Trade in OPEN status with its three bracket orders,
// persisting all atomically. The entry fills immediately at plan.Entry;
// the stop and take-profit orders are left SIMULATED until check_exits
// triggers them.
func (d *Dry) Open(ctx context.Context, plan Plan, now time.Time) (Trade, []Event, error) {
	tradeID := uuid.NewString()
	trade := Trade{
		ID:         tradeID,
		Symbol:     plan.Symbol,
		Mode:       ModeDryRun,
		Status:     TradeStatusOpen,
		EntryPrice: plan.Entry,
		Qty:        plan.Qty,
		StopLoss:   plan.StopLoss,
		TakeProfit: plan.TakeProfit,
		OpenedAt:   now,
	}

	entryOrder := Order{ID: uuid.NewString(), TradeID: tradeID, Role: OrderRoleEntry, Status: OrderStatusFilled, Price: plan.Entry, Qty: plan.Qty, CreatedAt: now}
	stopOrder := Order{ID: uuid.NewString(), TradeID: tradeID, Role: OrderRoleStopLoss, Status: OrderStatusSimulated, Price: plan.StopLoss, Qty: plan.Qty, CreatedAt: now}
	tpOrder := Order{ID: uuid.NewString(), TradeID: tradeID, Role: OrderRoleTakeProfit, Status: OrderStatusSimulated, Price: plan.TakeProfit, Qty: plan.Qty, CreatedAt: now}

	if err := d.repo.OpenTrade(ctx, trade, []Order{entryOrder, stopOrder, tpOrder}); err != nil {
		return Trade{}, nil, fmt.Errorf("executor: dry open failed for %s: %w", plan.Symbol, err)
	}

	events := []Event{
		{Type: EventTradeOpened, TradeID: tradeID, Symbol: plan.Symbol, At: now},
		{Type: EventOrderPlaced, TradeID: tradeID, Symbol: plan.Symbol, At: now, Detail: map[string]any{"role": OrderRoleEntry}},
		{Type: EventOrderFilled, TradeID: tradeID, Symbol: plan.Symbol, At: now, Detail: map[string]any{"role": OrderRoleEntry, "price": plan.Entry}},
	}
	return trade, events, nil
}

// CheckExits simulates a fill when the candle's low/high touches the
// trade's stop or take-profit level. When both are touched in the same
// bar, the stop takes priority — the documented, safer default.
func (d *Dry) CheckExits(ctx context.Context, trade Trade, candle indicator.Candle) (closed bool, events []Event, err error) {
	low := decimal.NewFromFloat(candle.Low)
	high := decimal.NewFromFloat(candle.High)

	var exitPrice decimal.Decimal
	var hit bool
	if low.LessThanOrEqual(trade.StopLoss) {
		exitPrice = trade.StopLoss
		hit = true
	} else if high.GreaterThanOrEqual(trade.TakeProfit) {
		exitPrice = trade.TakeProfit
		hit = true
	}
	if !hit {
		return false, nil, nil
	}

	notional := exitPrice.Mul(trade.Qty)
	fee := d.fees.fee(notional)
	realized := exitPrice.Sub(trade.EntryPrice).Mul(trade.Qty).Sub(fee)

	closedAt := time.Unix(candle.TimestampUnix, 0).UTC()
	if err := d.repo.CloseTrade(ctx, trade.ID, exitPrice, realized, closedAt); err != nil {
		return false, nil, fmt.Errorf("executor: dry close failed for trade %s: %w", trade.ID, err)
	}
	if d.metrics != nil {
		d.metrics.RecordTradeClosed(trade.Symbol, realized.IsPositive())
	}

	return true, []Event{
		{Type: EventTradeClosed, TradeID: trade.ID, Symbol: trade.Symbol, At: closedAt, Detail: map[string]any{"exit_price": exitPrice, "realized_pnl": realized}},
	}, nil
}

// Live places real orders on the exchange, each tagged with an
// idempotency key, and reconciles local state against exchange truth on
// startup. A failed placement is not retried.
type Live struct {
	repo     Repository
	exchange Exchange
	metrics  MetricsSink
}

// NewLive creates a live executor.
func NewLive(repo Repository, exchange Exchange) *Live {
	return &Live{repo: repo, exchange: exchange}
}

// SetMetrics wires m as the destination for this executor's metrics. Pass
// nil (the default) to disable metrics recording.
func (l *Live) SetMetrics(m MetricsSink) { l.metrics = m }

// Open places the entry order idempotently, then persists the bracket.
// The idempotency key is generated and written to the Order row before
// the network call. If placement fails, the trade is canceled rather
// than retried.
func (l *Live) Open(ctx context.Context, plan Plan, now time.Time) (Trade, []Event, error) {
	tradeID := uuid.NewString()
	trade := Trade{
		ID:         tradeID,
		Symbol:     plan.Symbol,
		Mode:       ModeLive,
		Status:     TradeStatusOpen,
		EntryPrice: plan.Entry,
		Qty:        plan.Qty,
		StopLoss:   plan.StopLoss,
		TakeProfit: plan.TakeProfit,
		OpenedAt:   now,
		seq:        1,
	}
	key := idempotencyKey(tradeID, trade.seq)

	entryOrder := Order{ID: uuid.NewString(), TradeID: tradeID, Role: OrderRoleEntry, Status: OrderStatusPlaced, Price: plan.Entry, Qty: plan.Qty, IdempotencyKey: key, CreatedAt: now}
	stopOrder := Order{ID: uuid.NewString(), TradeID: tradeID, Role: OrderRoleStopLoss, Status: OrderStatusSimulated, Price: plan.StopLoss, Qty: plan.Qty, CreatedAt: now}
	tpOrder := Order{ID: uuid.NewString(), TradeID: tradeID, Role: OrderRoleTakeProfit, Status: OrderStatusSimulated, Price: plan.TakeProfit, Qty: plan.Qty, CreatedAt: now}

	// Persist the idempotency key before contacting the exchange.
	if err := l.repo.OpenTrade(ctx, trade, []Order{entryOrder, stopOrder, tpOrder}); err != nil {
		return Trade{}, nil, fmt.Errorf("executor: live open persistence failed for %s: %w", plan.Symbol, err)
	}

	placeStart := time.Now()
	exchangeOrderID, status, err := l.exchange.PlaceOrder(ctx, key, plan.Symbol, "BUY", "MARKET", plan.Entry, plan.Qty)
	if l.metrics != nil {
		l.metrics.ObserveOrderLatency("entry", time.Since(placeStart).Seconds())
	}
	if err != nil {
		// The entry order never reached the exchange (or we can't tell that it
		// did); cancel rather than leave an OPEN trade with no live position
		// behind it.
		if cancelErr := l.repo.CancelTrade(ctx, tradeID, err.Error(), now); cancelErr != nil {
			return trade, nil, fmt.Errorf("executor: place order failed for %s: %w (cancel also failed: %v)", plan.Symbol, err, cancelErr)
		}
		trade.Status = TradeStatusCanceled
		trade.ClosedAt = now
		return trade, []Event{{Type: EventTradeCanceled, TradeID: tradeID, Symbol: plan.Symbol, At: now, Detail: map[string]any{"error": err.Error()}}}, fmt.Errorf("executor: place order failed for %s: %w", plan.Symbol, err)
	}

	entryOrder.ExchangeOrderID = exchangeOrderID
	entryOrder.Status = status
	if err := l.repo.UpdateOrder(ctx, entryOrder); err != nil {
		return trade, nil, fmt.Errorf("executor: persist exchange order id failed: %w", err)
	}

	events := []Event{
		{Type: EventTradeOpened, TradeID: tradeID, Symbol: plan.Symbol, At: now},
		{Type: EventOrderPlaced, TradeID: tradeID, Symbol: plan.Symbol, At: now, Detail: map[string]any{"exchange_order_id": exchangeOrderID}},
	}
	if status == OrderStatusFilled {
		events = append(events, Event{Type: EventOrderFilled, TradeID: tradeID, Symbol: plan.Symbol, At: now})
	}
	return trade, events, nil
}

// Reconcile enumerates open trades and their open orders, queries the
// exchange by idempotency key, and converges local
// state: cancels orphaned orders, marks filled ones, closes trades whose
// positions no longer exist. Must run before the first tick.
func (l *Live) Reconcile(ctx context.Context, now time.Time) ([]Event, error) {
	openTrades, err := l.repo.GetOpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor: reconcile failed to list open trades: %w", err)
	}

	positions, err := l.exchange.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor: reconcile failed to fetch exchange positions: %w", err)
	}

	var events []Event
	for _, trade := range openTrades {
		orders, err := l.repo.GetOpenOrders(ctx, trade.ID)
		if err != nil {
			return events, fmt.Errorf("executor: reconcile failed to list orders for trade %s: %w", trade.ID, err)
		}

		for _, o := range orders {
			exchangeOrderID, status, found, err := l.exchange.OrderStatusByIdempotencyKey(ctx, o.IdempotencyKey)
			if err != nil {
				return events, fmt.Errorf("executor: reconcile status query failed for order %s: %w", o.ID, err)
			}
			if !found {
				if err := l.exchange.CancelOrder(ctx, o.ExchangeOrderID); err != nil {
					events = append(events, Event{Type: "reconcile.orphan_cancel_failed", TradeID: trade.ID, Symbol: trade.Symbol, At: now, Detail: map[string]any{"order_id": o.ID, "error": err.Error()}})
					continue
				}
				o.Status = OrderStatusCancelled
			} else {
				o.ExchangeOrderID = exchangeOrderID
				o.Status = status
			}
			if err := l.repo.UpdateOrder(ctx, o); err != nil {
				return events, fmt.Errorf("executor: reconcile failed to persist order %s: %w", o.ID, err)
			}
		}

		if _, stillOpen := positions[trade.Symbol]; !stillOpen {
			if err := l.repo.CloseTrade(ctx, trade.ID, trade.EntryPrice, decimal.Zero, now); err != nil {
				return events, fmt.Errorf("executor: reconcile failed to close orphaned trade %s: %w", trade.ID, err)
			}
			events = append(events, Event{Type: EventTradeClosed, TradeID: trade.ID, Symbol: trade.Symbol, At: now, Detail: map[string]any{"reason": "reconcile: position no longer exists"}})
		}
	}

	events = append(events, Event{Type: EventReconcileCompleted, At: now, Detail: map[string]any{"open_trades": len(openTrades)}})
	return events, nil
}

// CheckExits applies the same stop-before-take-profit touch logic as Dry,
// since the entry order is the only leg actually resting on the exchange
// — stop and take-profit are tracked locally and closed with a real
// market order the moment the candle touches either level.
func (l *Live) CheckExits(ctx context.Context, trade Trade, candle indicator.Candle) (closed bool, events []Event, err error) {
	low := decimal.NewFromFloat(candle.Low)
	high := decimal.NewFromFloat(candle.High)

	var exitPrice decimal.Decimal
	var hit bool
	if low.LessThanOrEqual(trade.StopLoss) {
		exitPrice = trade.StopLoss
		hit = true
	} else if high.GreaterThanOrEqual(trade.TakeProfit) {
		exitPrice = trade.TakeProfit
		hit = true
	}
	if !hit {
		return false, nil, nil
	}

	exitKey := idempotencyKey(trade.ID, trade.seq+1)
	placeStart := time.Now()
	exchangeOrderID, status, err := l.exchange.PlaceOrder(ctx, exitKey, trade.Symbol, "SELL", "MARKET", exitPrice, trade.Qty)
	if l.metrics != nil {
		l.metrics.ObserveOrderLatency("exit", time.Since(placeStart).Seconds())
	}
	if err != nil {
		return false, nil, fmt.Errorf("executor: live exit order failed for trade %s: %w", trade.ID, err)
	}

	notional := exitPrice.Mul(trade.Qty)
	realized := exitPrice.Sub(trade.EntryPrice).Mul(trade.Qty)
	closedAt := time.Unix(candle.TimestampUnix, 0).UTC()

	if err := l.repo.CloseTrade(ctx, trade.ID, exitPrice, realized, closedAt); err != nil {
		return false, nil, fmt.Errorf("executor: live close persistence failed for trade %s: %w", trade.ID, err)
	}
	if l.metrics != nil {
		l.metrics.RecordTradeClosed(trade.Symbol, realized.IsPositive())
	}

	return true, []Event{
		{Type: EventOrderPlaced, TradeID: trade.ID, Symbol: trade.Symbol, At: closedAt, Detail: map[string]any{"exchange_order_id": exchangeOrderID, "status": status}},
		{Type: EventTradeClosed, TradeID: trade.ID, Symbol: trade.Symbol, At: closedAt, Detail: map[string]any{"exit_price": exitPrice, "realized_pnl": realized, "notional": notional}},
	}, nil
}
