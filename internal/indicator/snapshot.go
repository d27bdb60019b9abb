package indicator

import (
	"trawler/internal/market"
)

// Snapshot is the derived indicator state for one symbol at one candle
// close. Recomputed every cycle; never persisted as source of truth.
type Snapshot struct {
	Symbol string             `json:"symbol"`
	At     int64              `json:"at"`
	Values map[string]float64 `json:"values"`
}

func (s Snapshot) Get(name string) (float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// Periods configures the snapshot builder. Zero fields disable the
// corresponding indicator.
type Periods struct {
	EMAFast     int
	EMASlow     int
	EMATrend    int
	ATR         int
	ADX         int
	RSI         int
	StochK      int
	StochD      int
	StochSmooth int
}

// Build computes every configured indicator for the candle history. Any
// indicator short on data fails the whole snapshot with
// ErrInsufficientData so the candidate is skipped, never half-evaluated.
func Build(symbol string, candles []market.Candle, p Periods) (Snapshot, error) {
	snap := Snapshot{Symbol: symbol, Values: make(map[string]float64)}
	if len(candles) > 0 {
		snap.At = candles[len(candles)-1].CloseTime
	}
	closes := market.Closes(candles)

	emas := []struct {
		name   string
		period int
	}{
		{"ema_fast", p.EMAFast},
		{"ema_slow", p.EMASlow},
		{"ema_trend", p.EMATrend},
	}
	for _, e := range emas {
		if e.period <= 0 {
			continue
		}
		series, err := EMASeries(closes, e.period)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Values[e.name] = series[len(series)-1]
		if len(series) > 1 {
			snap.Values[e.name+"_prev"] = series[len(series)-2]
		} else {
			snap.Values[e.name+"_prev"] = series[len(series)-1]
		}
	}
	if p.ATR > 0 {
		atr, err := ATR(candles, p.ATR)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Values["atr"] = atr
	}
	if p.ADX > 0 {
		adx, err := ADX(candles, p.ADX)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Values["adx"] = adx
	}
	if p.RSI > 0 {
		rsi, err := RSI(closes, p.RSI)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Values["rsi"] = rsi
	}
	if p.StochK > 0 {
		k, d, err := Stoch(candles, p.StochK, p.StochD, p.StochSmooth)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Values["stoch_k"] = k
		snap.Values["stoch_d"] = d
	}
	return snap, nil
}
