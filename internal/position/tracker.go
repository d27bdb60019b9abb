// Package position holds the authoritative in-memory record of open
// positions. Exactly one writer (the agent loop / executor path) mutates
// it; readers get consistent copies.
package position

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"trawler/internal/gateway/exchange"
	"trawler/internal/logger"
)

// Position is one open trade with its entry context.
type Position struct {
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	EntryPrice  float64   `json:"entry_price"`
	Quantity    float64   `json:"quantity"`
	StopLoss    float64   `json:"stop_loss"`
	StopOrderID string    `json:"stop_order_id,omitempty"`
	Strategy    string    `json:"strategy"`
	OpenedAt    time.Time `json:"opened_at"`
	MarkPrice   float64   `json:"mark_price"`
	Unrealized  float64   `json:"unrealized"`
}

// Notional is the capital committed to the position at entry.
func (p Position) Notional() float64 { return p.EntryPrice * p.Quantity }

// PnLAt computes the realized P/L if the position were closed at price.
func (p Position) PnLAt(price float64) float64 {
	if p.Side == exchange.SideShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// Closed describes a position removed from the tracker.
type Closed struct {
	Position
	ExitPrice float64   `json:"exit_price"`
	Realized  float64   `json:"realized"`
	Reason    string    `json:"reason"`
	ClosedAt  time.Time `json:"closed_at"`
}

// Tracker maps symbol to open position. One position per symbol: the
// tracker enforces the invariant itself, independent of the risk manager's
// identical check.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]Position
	clock     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]Position), clock: time.Now}
}

// Open records a confirmed fill. Fails if a position already exists for
// the symbol.
func (t *Tracker) Open(p Position) error {
	if p.Symbol == "" || p.Quantity <= 0 {
		return fmt.Errorf("open: invalid position %+v", p)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.positions[p.Symbol]; exists {
		return fmt.Errorf("open: position already exists for %s", p.Symbol)
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = t.clock().UTC()
	}
	if p.MarkPrice == 0 {
		p.MarkPrice = p.EntryPrice
	}
	t.positions[p.Symbol] = p
	return nil
}

// Close removes the position and returns its realized outcome. Closing an
// unknown symbol is a no-op warning, not an error: it can legitimately
// race with an external stop-loss fill.
func (t *Tracker) Close(symbol string, exitPrice float64, reason string) (Closed, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, exists := t.positions[symbol]
	if !exists {
		logger.Warnf("tracker: close for unknown position %s ignored (%s)", symbol, reason)
		return Closed{}, false
	}
	delete(t.positions, symbol)
	return Closed{
		Position:  p,
		ExitPrice: exitPrice,
		Realized:  p.PnLAt(exitPrice),
		Reason:    reason,
		ClosedAt:  t.clock().UTC(),
	}, true
}

// SetStop updates the protective stop for an open position.
func (t *Tracker) SetStop(symbol string, stopPrice float64, stopOrderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, exists := t.positions[symbol]
	if !exists {
		return false
	}
	p.StopLoss = stopPrice
	p.StopOrderID = stopOrderID
	t.positions[symbol] = p
	return true
}

// MarkToMarket refreshes mark prices and unrealized P/L from quotes.
func (t *Tracker) MarkToMarket(quotes map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sym, p := range t.positions {
		price, ok := quotes[sym]
		if !ok || price <= 0 {
			continue
		}
		p.MarkPrice = price
		p.Unrealized = p.PnLAt(price)
		t.positions[sym] = p
	}
}

// Get returns the open position for symbol, if any.
func (t *Tracker) Get(symbol string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[symbol]
	return p, ok
}

// Has reports whether a position is open on symbol.
func (t *Tracker) Has(symbol string) bool {
	_, ok := t.Get(symbol)
	return ok
}

// Count returns the number of open positions.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// Deployed returns the total entry notional committed across positions.
func (t *Tracker) Deployed() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0.0
	for _, p := range t.positions {
		total += p.Notional()
	}
	return total
}

// Snapshot returns open positions ordered by symbol.
func (t *Tracker) Snapshot() []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Reconcile aligns the tracker with the gateway's view, which is the
// source of truth. Tracker-only positions are closed at their last mark
// (assumed externally closed, e.g. a stop fill); gateway-only positions
// are adopted with no stop so the executor can protect them. Returns the
// positions dropped and adopted.
func (t *Tracker) Reconcile(gateway []exchange.Position) (dropped []Closed, adopted []Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock().UTC()
	remote := make(map[string]exchange.Position, len(gateway))
	for _, g := range gateway {
		remote[g.Symbol] = g
	}
	for sym, p := range t.positions {
		g, ok := remote[sym]
		if !ok {
			logger.Warnf("tracker: state inconsistency, %s missing on gateway; trusting gateway and dropping", sym)
			delete(t.positions, sym)
			dropped = append(dropped, Closed{
				Position:  p,
				ExitPrice: p.MarkPrice,
				Realized:  p.PnLAt(p.MarkPrice),
				Reason:    "reconcile: closed externally",
				ClosedAt:  now,
			})
			continue
		}
		if g.Quantity != p.Quantity {
			logger.Warnf("tracker: state inconsistency, %s qty %.8f vs gateway %.8f; trusting gateway", sym, p.Quantity, g.Quantity)
			p.Quantity = g.Quantity
		}
		p.MarkPrice = g.MarkPrice
		p.Unrealized = g.Unrealized
		t.positions[sym] = p
	}
	for sym, g := range remote {
		if _, ok := t.positions[sym]; ok {
			continue
		}
		logger.Warnf("tracker: state inconsistency, adopting unknown gateway position %s", sym)
		adopted = append(adopted, Position{
			Symbol:     sym,
			Side:       g.Side,
			EntryPrice: g.EntryPrice,
			Quantity:   g.Quantity,
			MarkPrice:  g.MarkPrice,
			Unrealized: g.Unrealized,
			Strategy:   "external",
			OpenedAt:   now,
		})
		t.positions[sym] = adopted[len(adopted)-1]
	}
	return dropped, adopted
}
