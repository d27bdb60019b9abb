// Package executor turns approved order plans into venue orders. Entries
// are two-step: market order first, protective stop immediately after. A
// position that ends up without a stop is the worst state this program can
// produce, so stop placement retries and failure is surfaced loudly.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"trawler/internal/gateway/exchange"
	"trawler/internal/ledger"
	"trawler/internal/logger"
	"trawler/internal/notifier"
	"trawler/internal/position"
	"trawler/internal/risk"
)

// ExecError wraps a failed entry attempt. No position exists when it is
// returned, unless Ambiguous is set.
type ExecError struct {
	Symbol string
	Stage  string // submit / confirm
	// Ambiguous means the order may have filled but we could not confirm
	// in time. The next cycle's reconcile settles it from gateway state.
	Ambiguous bool
	Err       error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("execution failed: %s %s: %v", e.Symbol, e.Stage, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// ProtectionGapError means the entry filled but every stop placement
// attempt failed. The position is live and unprotected.
type ProtectionGapError struct {
	Symbol   string
	Side     string
	Quantity float64
	Entry    float64
	Attempts int
	Err      error
}

func (e *ProtectionGapError) Error() string {
	return fmt.Sprintf("protection gap: %s %s qty=%.8g unprotected after %d stop attempts: %v",
		e.Symbol, e.Side, e.Quantity, e.Attempts, e.Err)
}

func (e *ProtectionGapError) Unwrap() error { return e.Err }

// TradeLog is the slice of the ledger the executor writes to.
type TradeLog interface {
	Append(ctx context.Context, rec ledger.TradeRecord, entry ledger.EntryContext) (uint, error)
	CloseOut(ctx context.Context, symbol string, exitPrice, realized float64, reason string, closedAt time.Time) error
}

// Config bounds order handling.
type Config struct {
	OrderTimeout    time.Duration `mapstructure:"order_timeout"`     // market submit + confirm budget
	ConfirmInterval time.Duration `mapstructure:"confirm_interval"`  // fill poll cadence
	SubmitRetries   int           `mapstructure:"submit_retries"`    // market submit retries after the first attempt
	StopRetries     int           `mapstructure:"stop_retries"`      // stop retries after the first attempt
	RetryBackoffMin time.Duration `mapstructure:"retry_backoff_min"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`
	TrailingEnabled bool          `mapstructure:"trailing_enabled"`
	TrailTriggerATR float64       `mapstructure:"trail_trigger_atr"` // favorable move, in ATRs, before trailing
}

func (c Config) withDefaults() Config {
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 10 * time.Second
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = 500 * time.Millisecond
	}
	if c.SubmitRetries <= 0 {
		c.SubmitRetries = 2
	}
	if c.StopRetries <= 0 {
		c.StopRetries = 2
	}
	if c.RetryBackoffMin <= 0 {
		c.RetryBackoffMin = 200 * time.Millisecond
	}
	if c.RetryBackoffMax <= 0 {
		c.RetryBackoffMax = 2 * time.Second
	}
	if c.TrailTriggerATR <= 0 {
		c.TrailTriggerATR = 1.0
	}
	return c
}

// Fill reports a completed entry.
type Fill struct {
	Symbol      string
	Side        string
	Quantity    float64
	AvgPrice    float64
	OrderID     string
	StopOrderID string
	Protected   bool
}

type Executor struct {
	ex      exchange.Exchange
	tracker *position.Tracker
	trades  TradeLog
	notify  notifier.Notifier
	cfg     Config
	sleep   func(time.Duration) // swapped in tests
}

func New(ex exchange.Exchange, tracker *position.Tracker, trades TradeLog, notify notifier.Notifier, cfg Config) *Executor {
	if notify == nil {
		notify = notifier.Noop{}
	}
	return &Executor{ex: ex, tracker: tracker, trades: trades, notify: notify, cfg: cfg.withDefaults(), sleep: time.Sleep}
}

// Execute submits the plan's market order, confirms the fill, places the
// protective stop and records the position. On a protection gap the
// position is still recorded (stop order id empty) and a
// *ProtectionGapError is returned.
func (e *Executor) Execute(ctx context.Context, plan *risk.OrderPlan, entry ledger.EntryContext) (*Fill, error) {
	orderCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()

	orderID, err := e.submitOrder(orderCtx, plan)
	if err != nil {
		e.alertExecFailure(plan.Symbol, plan.Direction, err)
		return nil, err
	}

	status, err := e.confirmFill(orderCtx, plan.Symbol, orderID)
	if err != nil {
		e.alertExecFailure(plan.Symbol, plan.Direction, err)
		return nil, err
	}

	entryPrice := status.AvgPrice
	if entryPrice <= 0 {
		entryPrice = plan.EntryPrice
	}
	filledQty := status.FilledQty
	if filledQty <= 0 {
		filledQty = plan.Quantity
	}

	pos := position.Position{
		Symbol:     plan.Symbol,
		Side:       plan.Direction,
		EntryPrice: entryPrice,
		Quantity:   filledQty,
		StopLoss:   plan.StopLoss,
		Strategy:   plan.Strategy,
	}

	stopID, stopErr := e.placeStop(ctx, pos)
	if stopErr == nil {
		pos.StopOrderID = stopID
	} else {
		pos.StopLoss = 0 // no working stop on the venue
	}

	if err := e.tracker.Open(pos); err != nil {
		logger.Errorf("executor: tracking %s after fill failed: %v", plan.Symbol, err)
	}
	if _, err := e.trades.Append(ctx, ledger.TradeRecord{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Strategy:   pos.Strategy,
		Quantity:   pos.Quantity,
		EntryPrice: pos.EntryPrice,
		StopLoss:   plan.StopLoss,
	}, entry); err != nil {
		logger.Errorf("executor: ledger append for %s failed: %v", pos.Symbol, err)
	}

	fill := &Fill{
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Quantity:    pos.Quantity,
		AvgPrice:    pos.EntryPrice,
		OrderID:     status.OrderID,
		StopOrderID: pos.StopOrderID,
		Protected:   stopErr == nil,
	}
	if stopErr != nil {
		gap := &ProtectionGapError{
			Symbol:   pos.Symbol,
			Side:     pos.Side,
			Quantity: pos.Quantity,
			Entry:    pos.EntryPrice,
			Attempts: e.cfg.StopRetries + 1,
			Err:      stopErr,
		}
		logger.Errorf("executor: %v", gap)
		_ = e.notify.Alert(notifier.ProtectionGap(pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, gap.Attempts))
		return fill, gap
	}

	logger.Infof("executor: opened %s %s qty=%.8g @ %.8g stop=%.8g", pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.StopLoss)
	return fill, nil
}

// submitOrder places the market order with bounded retries. The client
// order id is reused across attempts so the venue rejects a duplicate if a
// "failed" submit actually landed. Ambiguous failures are not retried; the
// next cycle's reconcile settles them from gateway state.
func (e *Executor) submitOrder(ctx context.Context, plan *risk.OrderPlan) (string, error) {
	clientID := "twl-" + uuid.NewString()[:18]
	bo := &backoff.Backoff{Min: e.cfg.RetryBackoffMin, Max: e.cfg.RetryBackoffMax, Factor: 2, Jitter: true}
	attempts := e.cfg.SubmitRetries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			e.sleep(bo.Duration())
		}
		orderID, err := e.ex.PlaceMarketOrder(ctx, exchange.OrderRequest{
			Symbol:        plan.Symbol,
			Side:          exchange.EntrySide(plan.Direction),
			Quantity:      plan.Quantity,
			ClientOrderID: clientID,
		})
		if err == nil {
			return orderID, nil
		}
		if ctx.Err() != nil {
			// The venue may have accepted the order before the deadline hit.
			return "", &ExecError{Symbol: plan.Symbol, Stage: "submit", Ambiguous: true, Err: err}
		}
		lastErr = err
		logger.Warnf("executor: submit %s attempt %d/%d failed: %v", plan.Symbol, i+1, attempts, err)
	}
	return "", &ExecError{Symbol: plan.Symbol, Stage: "submit", Err: fmt.Errorf("after %d attempts: %w", attempts, lastErr)}
}

// alertExecFailure pushes a user-visible alert for definitive entry
// failures. Ambiguous ones stay quiet: reconcile resolves them next cycle.
func (e *Executor) alertExecFailure(symbol, side string, err error) {
	var ee *ExecError
	if errors.As(err, &ee) && ee.Ambiguous {
		return
	}
	_ = e.notify.Alert(notifier.ExecutionFailed(symbol, side, err))
}

// confirmFill polls order status until the order is terminal or the
// context deadline expires.
func (e *Executor) confirmFill(ctx context.Context, symbol, orderID string) (exchange.OrderStatus, error) {
	var st exchange.OrderStatus
	for {
		next, err := e.ex.GetOrder(ctx, symbol, orderID)
		if err != nil {
			logger.Warnf("executor: order status poll for %s failed: %v", symbol, err)
		} else {
			st = next
			if st.IsFilled {
				return st, nil
			}
			if st.IsRejected || st.IsTerminal {
				return st, &ExecError{Symbol: symbol, Stage: "confirm", Err: fmt.Errorf("order %s ended %s", orderID, st.Status)}
			}
		}
		select {
		case <-ctx.Done():
			return st, &ExecError{Symbol: symbol, Stage: "confirm", Ambiguous: true, Err: fmt.Errorf("order %s still %s: %w", orderID, st.Status, ctx.Err())}
		case <-time.After(e.cfg.ConfirmInterval):
		}
	}
}

// placeStop tries the protective stop with bounded retries and backoff.
func (e *Executor) placeStop(ctx context.Context, pos position.Position) (string, error) {
	bo := &backoff.Backoff{Min: e.cfg.RetryBackoffMin, Max: e.cfg.RetryBackoffMax, Factor: 2, Jitter: true}
	attempts := e.cfg.StopRetries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			e.sleep(bo.Duration())
		}
		stopID, err := e.ex.PlaceStopOrder(ctx, exchange.StopRequest{
			Symbol:        pos.Symbol,
			Side:          exchange.ExitSide(pos.Side),
			Quantity:      pos.Quantity,
			StopPrice:     pos.StopLoss,
			ClientOrderID: "twl-stop-" + uuid.NewString()[:13],
		})
		if err == nil {
			if i > 0 {
				logger.Infof("executor: stop for %s placed on attempt %d", pos.Symbol, i+1)
			}
			return stopID, nil
		}
		lastErr = err
		logger.Warnf("executor: stop placement %d/%d for %s failed: %v", i+1, attempts, pos.Symbol, err)
	}
	return "", lastErr
}

// CloseAndRecord exits a position at market, cancels its working stop,
// and realizes the P/L to the ledger. Used by strategy exits, the manual
// close endpoint and shutdown flatten alike.
func (e *Executor) CloseAndRecord(ctx context.Context, pos position.Position, reason string) (position.Closed, error) {
	if pos.StopOrderID != "" {
		if err := e.ex.CancelOrder(ctx, pos.Symbol, pos.StopOrderID); err != nil {
			// Not fatal: the stop may already be gone or will be orphaned
			// and cleaned by reconcile.
			if !isUnknownOrder(err) {
				logger.Warnf("executor: cancel stop %s for %s: %v", pos.StopOrderID, pos.Symbol, err)
			}
		}
	}
	closeID, err := e.ex.ClosePosition(ctx, pos.Symbol, pos.Side, pos.Quantity)
	if err != nil {
		return position.Closed{}, &ExecError{Symbol: pos.Symbol, Stage: "submit", Err: err}
	}
	exitPrice := pos.MarkPrice
	if st, err := e.ex.GetOrder(ctx, pos.Symbol, closeID); err == nil && st.AvgPrice > 0 {
		exitPrice = st.AvgPrice
	}
	closed, ok := e.tracker.Close(pos.Symbol, exitPrice, reason)
	if !ok {
		return position.Closed{}, nil
	}
	if err := e.trades.CloseOut(ctx, pos.Symbol, exitPrice, closed.Realized, reason, closed.ClosedAt); err != nil {
		logger.Errorf("executor: ledger close-out for %s failed: %v", pos.Symbol, err)
	}
	logger.Infof("executor: closed %s @ %.8g realized=%.2f (%s)", pos.Symbol, exitPrice, closed.Realized, reason)
	return closed, nil
}

// MaybeTrailStop moves the protective stop to the entry-side trail level
// once price has moved at least TrailTriggerATR ATRs in the position's
// favor. The stop only ever tightens.
func (e *Executor) MaybeTrailStop(ctx context.Context, pos position.Position, atr float64) error {
	if !e.cfg.TrailingEnabled || atr <= 0 || pos.StopLoss <= 0 || pos.MarkPrice <= 0 {
		return nil
	}
	trigger := e.cfg.TrailTriggerATR * atr
	var newStop float64
	switch pos.Side {
	case exchange.SideLong:
		if pos.MarkPrice-pos.EntryPrice < trigger {
			return nil
		}
		newStop = pos.MarkPrice - trigger
		if newStop <= pos.StopLoss {
			return nil
		}
	case exchange.SideShort:
		if pos.EntryPrice-pos.MarkPrice < trigger {
			return nil
		}
		newStop = pos.MarkPrice + trigger
		if newStop >= pos.StopLoss {
			return nil
		}
	default:
		return nil
	}

	// Place the replacement before cancelling the old stop so the position
	// is never uncovered mid-swap.
	stopID, err := e.ex.PlaceStopOrder(ctx, exchange.StopRequest{
		Symbol:        pos.Symbol,
		Side:          exchange.ExitSide(pos.Side),
		Quantity:      pos.Quantity,
		StopPrice:     newStop,
		ClientOrderID: "twl-trail-" + uuid.NewString()[:12],
	})
	if err != nil {
		return fmt.Errorf("trail stop for %s: %w", pos.Symbol, err)
	}
	if pos.StopOrderID != "" {
		if err := e.ex.CancelOrder(ctx, pos.Symbol, pos.StopOrderID); err != nil && !isUnknownOrder(err) {
			logger.Warnf("executor: cancel replaced stop %s for %s: %v", pos.StopOrderID, pos.Symbol, err)
		}
	}
	e.tracker.SetStop(pos.Symbol, newStop, stopID)
	logger.Infof("executor: trailed %s stop %.8g -> %.8g", pos.Symbol, pos.StopLoss, newStop)
	return nil
}

// Protect places a stop on a position that has none, used for positions
// adopted during reconcile and for gap recovery.
func (e *Executor) Protect(ctx context.Context, pos position.Position, stopPrice float64) error {
	if stopPrice <= 0 {
		return fmt.Errorf("protect %s: invalid stop %.8g", pos.Symbol, stopPrice)
	}
	pos.StopLoss = stopPrice
	stopID, err := e.placeStop(ctx, pos)
	if err != nil {
		return err
	}
	e.tracker.SetStop(pos.Symbol, stopPrice, stopID)
	return nil
}

func isUnknownOrder(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown order") || strings.Contains(msg, "-2011")
}
