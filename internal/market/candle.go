package market

// Candle is one OHLCV bar. Timestamps are unix milliseconds; a candle is
// immutable once its close time has passed.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Closes extracts the close series from a candle slice.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the volume series from a candle slice.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// Quote is the latest traded price for a symbol.
type Quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	At     int64   `json:"at"`
}

// TickerStats is a 24h rolling window summary as reported by the venue.
type TickerStats struct {
	Symbol         string  `json:"symbol"`
	LastPrice      float64 `json:"last_price"`
	Volume         float64 `json:"volume"`
	QuoteVolume    float64 `json:"quote_volume"`
	PriceChangePct float64 `json:"price_change_pct"`
}
