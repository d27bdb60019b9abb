package indicator

import (
	"testing"

	"trawler/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(low, high, close float64) market.Candle {
	return market.Candle{Low: low, High: high, Close: close, Open: close}
}

func TestEMAKnownSeries(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	// seed SMA(1,2,3)=2, k=0.5 -> 3 -> 4
	ema, err := EMA(values, 3)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, ema, 1e-9)
}

func TestEMADeterministic(t *testing.T) {
	values := []float64{10, 11, 9, 12, 14, 13, 15, 16}
	first, err := EMA(values, 5)
	require.NoError(t, err)
	second, err := EMA(values, 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEMAInsufficientData(t *testing.T) {
	_, err := EMA([]float64{1, 2}, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRSIExtremes(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	rsi, err := RSI(rising, 5)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rsi)

	falling := []float64{8, 7, 6, 5, 4, 3, 2, 1}
	rsi, err = RSI(falling, 5)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, rsi, 1e-9)
}

func TestRSIInsufficientData(t *testing.T) {
	_, err := RSI([]float64{1, 2, 3, 4, 5}, 5) // needs period+1
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestATRConstantRange(t *testing.T) {
	// every bar spans exactly 2.0 and closes mid-range, so TR is 2.0
	candles := []market.Candle{
		bar(9, 11, 10), bar(9, 11, 10), bar(9, 11, 10), bar(9, 11, 10), bar(9, 11, 10),
	}
	atr, err := ATR(candles, 3)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, atr, 1e-9)
}

func TestATRInsufficientData(t *testing.T) {
	candles := []market.Candle{bar(9, 11, 10), bar(9, 11, 10), bar(9, 11, 10)}
	_, err := ATR(candles, 3) // needs period+1
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestADXStrongTrend(t *testing.T) {
	candles := make([]market.Candle, 0, 8)
	for i := 0; i < 8; i++ {
		f := float64(i)
		candles = append(candles, bar(f, f+2, f+1))
	}
	adx, err := ADX(candles, 2)
	require.NoError(t, err)
	// one-directional movement: DX is pinned at 100
	assert.InDelta(t, 100.0, adx, 1e-9)
}

func TestADXInsufficientData(t *testing.T) {
	candles := []market.Candle{bar(1, 3, 2), bar(2, 4, 3), bar(3, 5, 4), bar(4, 6, 5)}
	_, err := ADX(candles, 2) // needs 2*period+1
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestStochClosesAtHigh(t *testing.T) {
	candles := make([]market.Candle, 0, 6)
	for i := 0; i < 6; i++ {
		f := float64(i)
		candles = append(candles, bar(f, f+1, f+1)) // close pinned to the high
	}
	k, d, err := Stoch(candles, 3, 2, 2)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, k, 1e-9)
	assert.InDelta(t, 100.0, d, 1e-9)
}

func TestStochInsufficientData(t *testing.T) {
	candles := []market.Candle{bar(1, 2, 2), bar(1, 2, 2), bar(1, 2, 2), bar(1, 2, 2)}
	_, _, err := Stoch(candles, 3, 2, 2) // needs 3+2+2-2 = 5
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestSnapshotBuildAndSkip(t *testing.T) {
	candles := make([]market.Candle, 0, 60)
	for i := 0; i < 60; i++ {
		f := float64(100 + i)
		candles = append(candles, market.Candle{
			OpenTime: int64(i) * 60_000, CloseTime: int64(i+1)*60_000 - 1,
			Open: f, High: f + 1, Low: f - 1, Close: f, Volume: 10,
		})
	}
	p := Periods{EMAFast: 9, EMASlow: 21, ATR: 14, RSI: 14, StochK: 14, StochD: 3, StochSmooth: 3}
	snap, err := Build("BTC/USDT", candles, p)
	require.NoError(t, err)
	for _, name := range []string{"ema_fast", "ema_fast_prev", "ema_slow", "atr", "rsi", "stoch_k", "stoch_d"} {
		_, ok := snap.Get(name)
		assert.True(t, ok, "missing %s", name)
	}
	assert.Equal(t, candles[len(candles)-1].CloseTime, snap.At)

	_, err = Build("BTC/USDT", candles[:10], p)
	assert.ErrorIs(t, err, ErrInsufficientData)
}
