package market

import "context"

// Source provides read-only market data from the trading venue.
type Source interface {
	// Candles returns up to limit closed candles for symbol at the given
	// interval, ordered by open time ascending.
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// Quote returns the latest traded price for symbol.
	Quote(ctx context.Context, symbol string) (Quote, error)

	// TickerStats returns 24h rolling stats for all trading pairs quoted in
	// the configured quote currency.
	TickerStats(ctx context.Context) ([]TickerStats, error)
}

// DropUnclosed removes a trailing candle whose close time is still in the
// future relative to now (venues report the forming candle as the last
// element). Candles must be ordered by open time ascending.
func DropUnclosed(candles []Candle, nowMs int64) []Candle {
	if len(candles) == 0 {
		return candles
	}
	last := candles[len(candles)-1]
	if last.CloseTime > nowMs {
		return candles[:len(candles)-1]
	}
	return candles
}
