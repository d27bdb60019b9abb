package risk

import (
	"context"
	"math"
	"time"

	"trawler/internal/position"
)

// DailyAggregate is the ledger's summary of the current UTC day.
type DailyAggregate struct {
	Realized          float64
	ConsecutiveLosses int
}

// LedgerReader is the slice of the trade ledger the risk manager needs.
type LedgerReader interface {
	DailyAggregate(ctx context.Context, day time.Time) (DailyAggregate, error)
}

// BuildState recomputes the risk state from the ledger and the open
// positions. It is rebuilt every cycle rather than mutated incrementally,
// so the UTC day boundary resets it for free.
func BuildState(ctx context.Context, ledger LedgerReader, open []position.Position, now time.Time) (State, error) {
	day := now.UTC().Truncate(24 * time.Hour)
	agg, err := ledger.DailyAggregate(ctx, day)
	if err != nil {
		return State{}, err
	}
	return State{
		Day:               day,
		DailyRealized:     agg.Realized,
		OpenRisk:          openRisk(open),
		ConsecutiveLosses: agg.ConsecutiveLosses,
	}, nil
}

// openRisk sums the entry-to-stop loss each open position could still take.
// Unprotected positions contribute nothing measurable and are handled by the
// executor's gap alerting, not here.
func openRisk(open []position.Position) float64 {
	total := 0.0
	for _, p := range open {
		if p.StopLoss <= 0 {
			continue
		}
		total += math.Abs(p.EntryPrice-p.StopLoss) * p.Quantity
	}
	return total
}
