// Package risk gates every signal through a fixed sequence of hard-stop
// checks before any order is built. A failed check is final for the cycle.
package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trawler/internal/gateway/exchange"
	"trawler/internal/logger"
	"trawler/internal/position"
	"trawler/internal/strategy"
)

// Rejection reason codes. The code is stable API for logs, status and tests;
// Detail carries the numbers.
const (
	ReasonDailyLossLimit    = "daily loss limit"
	ReasonConsecutiveLosses = "consecutive losses"
	ReasonMaxOpenTrades     = "max open trades"
	ReasonSymbolAlreadyOpen = "symbol already open"
	ReasonInvalidStop       = "invalid stop"
	ReasonBelowMinQuantity  = "below min quantity"
	ReasonBuyingPower       = "insufficient buying power"
	ReasonShortsDisabled    = "shorts disabled"
)

// Rejection is a deliberate refusal to trade, not a fault.
type Rejection struct {
	Reason string
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "risk rejected: " + r.Reason
	}
	return fmt.Sprintf("risk rejected: %s (%s)", r.Reason, r.Detail)
}

func reject(reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Config bounds the manager. Zero limits disable the corresponding check
// except MinQuantity, which always applies.
type Config struct {
	RiskPerTradePct      float64 `mapstructure:"risk_per_trade_pct"`      // % of equity risked per trade
	MaxNotionalPerTrade  float64 `mapstructure:"max_notional_per_trade"`  // cap on entry value, 0 = none
	MaxOpenTrades        int     `mapstructure:"max_open_trades"`
	DailyLossLimitPct    float64 `mapstructure:"daily_loss_limit_pct"`    // % of equity, 0 = disabled
	MaxConsecutiveLosses int     `mapstructure:"max_consecutive_losses"`  // 0 = disabled
	MinQuantity          float64 `mapstructure:"min_quantity"`
	AllowShort           bool    `mapstructure:"allow_short"`
	AllowStacking        bool    `mapstructure:"allow_stacking"` // multiple entries on one symbol
}

// OrderPlan is an approved, fully sized trade ready for the executor.
type OrderPlan struct {
	Symbol     string
	Direction  string
	EntryPrice float64
	Quantity   float64
	StopLoss   float64
	Notional   float64
	RiskAmount float64
	Strategy   string
}

// Manager applies the checks. It is stateless between calls; per-day
// state arrives via State.
type Manager struct {
	cfg Config
}

func NewManager(cfg Config) *Manager { return &Manager{cfg: cfg} }

// Approve runs the ordered checks against a signal. The order matters:
// account-level halts come first so a halted day rejects everything with
// the halt reason regardless of the signal's own quality.
func (m *Manager) Approve(sig strategy.Signal, entryPrice float64, account exchange.AccountState, state State, open []position.Position) (*OrderPlan, error) {
	cfg := m.cfg

	// 1. Daily loss cap: realized losses plus risk held open.
	if cfg.DailyLossLimitPct > 0 {
		limit := account.Equity * cfg.DailyLossLimitPct / 100
		exposure := -state.DailyRealized + state.OpenRisk
		if exposure >= limit {
			return nil, reject(ReasonDailyLossLimit, "exposure %.2f >= limit %.2f", exposure, limit)
		}
	}

	// 2. Consecutive-loss halt for the rest of the UTC day.
	if cfg.MaxConsecutiveLosses > 0 && state.ConsecutiveLosses >= cfg.MaxConsecutiveLosses {
		return nil, reject(ReasonConsecutiveLosses, "%d losses in a row", state.ConsecutiveLosses)
	}

	// 3. Open-position count.
	if cfg.MaxOpenTrades > 0 && len(open) >= cfg.MaxOpenTrades {
		return nil, reject(ReasonMaxOpenTrades, "%d open", len(open))
	}

	// 4. One position per symbol.
	if !cfg.AllowStacking {
		for _, p := range open {
			if p.Symbol == sig.Symbol {
				return nil, reject(ReasonSymbolAlreadyOpen, "%s", sig.Symbol)
			}
		}
	}

	if sig.Direction == strategy.DirectionShort && !cfg.AllowShort {
		return nil, reject(ReasonShortsDisabled, "%s short", sig.Symbol)
	}

	// 5. Stop must sit on the losing side of entry.
	if !stopValid(sig.Direction, entryPrice, sig.StopLoss) {
		return nil, reject(ReasonInvalidStop, "entry %.8g stop %.8g %s", entryPrice, sig.StopLoss, sig.Direction)
	}

	// 6. Size from risk budget, cap by notional, floor by min quantity.
	entry := decimal.NewFromFloat(entryPrice)
	stopDist := entry.Sub(decimal.NewFromFloat(sig.StopLoss)).Abs()
	riskAmount := decimal.NewFromFloat(account.Equity).
		Mul(decimal.NewFromFloat(cfg.RiskPerTradePct)).
		Div(decimal.NewFromInt(100))
	qty := riskAmount.Div(stopDist)

	notional := qty.Mul(entry)
	if cfg.MaxNotionalPerTrade > 0 {
		limit := decimal.NewFromFloat(cfg.MaxNotionalPerTrade)
		if notional.GreaterThan(limit) {
			qty = limit.Div(entry)
			notional = qty.Mul(entry)
			// Keep risk = qty x stop distance true for capped sizes too;
			// open-risk accounting reads it back.
			riskAmount = qty.Mul(stopDist)
			logger.Debugf("risk: %s size reduced to notional cap %.2f", sig.Symbol, cfg.MaxNotionalPerTrade)
		}
	}

	qtyF, _ := qty.Float64()
	if qtyF < cfg.MinQuantity || qtyF <= 0 {
		return nil, reject(ReasonBelowMinQuantity, "qty %.8g < min %.8g", qtyF, cfg.MinQuantity)
	}

	// 7. Deployed capital plus this entry must fit in buying power.
	deployed := decimal.Zero
	for _, p := range open {
		deployed = deployed.Add(decimal.NewFromFloat(p.Notional()))
	}
	bp := decimal.NewFromFloat(account.BuyingPower)
	if deployed.Add(notional).GreaterThan(bp) {
		d, _ := deployed.Float64()
		n, _ := notional.Float64()
		return nil, reject(ReasonBuyingPower, "deployed %.2f + notional %.2f > buying power %.2f", d, n, account.BuyingPower)
	}

	notionalF, _ := notional.Float64()
	riskF, _ := riskAmount.Float64()
	return &OrderPlan{
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		EntryPrice: entryPrice,
		Quantity:   qtyF,
		StopLoss:   sig.StopLoss,
		Notional:   notionalF,
		RiskAmount: riskF,
		Strategy:   sig.Strategy,
	}, nil
}

func stopValid(direction string, entry, stop float64) bool {
	if stop <= 0 || entry <= 0 {
		return false
	}
	switch direction {
	case strategy.DirectionLong:
		return stop < entry
	case strategy.DirectionShort:
		return stop > entry
	}
	return false
}

// State is the account risk picture for the current UTC day.
type State struct {
	Day               time.Time
	DailyRealized     float64 // signed realized P/L since UTC midnight
	OpenRisk          float64 // sum of entry-to-stop risk across open positions
	ConsecutiveLosses int
}
