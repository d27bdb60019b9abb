// Package indicator computes technical indicators over candle sequences.
// All functions are pure: identical input yields identical output, and a
// series shorter than the required window is reported as ErrInsufficientData
// rather than returning a zero that could be mistaken for a real value.
package indicator

import (
	"errors"
	"fmt"

	"trawler/internal/market"
)

// ErrInsufficientData marks a series shorter than the indicator's window.
// Callers skip the candidate; this is not a cycle error.
var ErrInsufficientData = errors.New("insufficient data")

func insufficient(name string, need, have int) error {
	return fmt.Errorf("%s: need %d bars, have %d: %w", name, need, have, ErrInsufficientData)
}

// EMA returns the latest exponential moving average of values with smoothing
// factor 2/(period+1), seeded with the SMA of the first period values.
func EMA(values []float64, period int) (float64, error) {
	series, err := EMASeries(values, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// EMASeries returns the EMA for every index from period-1 onward;
// series[i] corresponds to values[period-1+i].
func EMASeries(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("ema: period must be positive, got %d", period)
	}
	if len(values) < period {
		return nil, insufficient("ema", period, len(values))
	}
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, seed)
	ema := seed
	for _, v := range values[period:] {
		ema = (v-ema)*k + ema
		out = append(out, ema)
	}
	return out, nil
}

// TrueRanges computes the true range series; result[i] corresponds to
// candles[i+1] since TR needs the previous close.
func TrueRanges(candles []market.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		out = append(out, trueRange(candles[i], candles[i-1].Close))
	}
	return out
}

func trueRange(c market.Candle, prevClose float64) float64 {
	tr := c.High - c.Low
	if hp := abs(c.High - prevClose); hp > tr {
		tr = hp
	}
	if lp := abs(c.Low - prevClose); lp > tr {
		tr = lp
	}
	return tr
}

// ATR returns the latest average true range using Wilder smoothing.
// Requires period+1 candles.
func ATR(candles []market.Candle, period int) (float64, error) {
	series, err := atrSeries(candles, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

func atrSeries(candles []market.Candle, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("atr: period must be positive, got %d", period)
	}
	need := period + 1
	if len(candles) < need {
		return nil, insufficient("atr", need, len(candles))
	}
	trs := TrueRanges(candles)
	return wilderSeries(trs, period), nil
}

// wilderSeries seeds with the SMA of the first period values then applies
// Wilder's recursive smoothing.
func wilderSeries(values []float64, period int) []float64 {
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, seed)
	cur := seed
	for _, v := range values[period:] {
		cur = (cur*float64(period-1) + v) / float64(period)
		out = append(out, cur)
	}
	return out
}

// RSI returns the latest relative strength index with Wilder smoothing of
// average gains and losses. Requires period+1 values.
func RSI(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("rsi: period must be positive, got %d", period)
	}
	need := period + 1
	if len(values) < need {
		return 0, insufficient("rsi", need, len(values))
	}
	gains := make([]float64, 0, len(values)-1)
	losses := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		diff := values[i] - values[i-1]
		if diff > 0 {
			gains = append(gains, diff)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -diff)
		}
	}
	avgGain := wilderSeries(gains, period)
	avgLoss := wilderSeries(losses, period)
	g := avgGain[len(avgGain)-1]
	l := avgLoss[len(avgLoss)-1]
	if l == 0 {
		return 100, nil
	}
	rs := g / l
	return 100 - 100/(1+rs), nil
}

// ADX returns the latest average directional index with Wilder smoothing.
// Requires 2*period+1 candles so that the DX series itself spans a full
// smoothing window.
func ADX(candles []market.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("adx: period must be positive, got %d", period)
	}
	need := 2*period + 1
	if len(candles) < need {
		return 0, insufficient("adx", need, len(candles))
	}
	n := len(candles) - 1
	trs := make([]float64, 0, n)
	plusDM := make([]float64, 0, n)
	minusDM := make([]float64, 0, n)
	for i := 1; i < len(candles); i++ {
		trs = append(trs, trueRange(candles[i], candles[i-1].Close))
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		p, m := 0.0, 0.0
		if up > down && up > 0 {
			p = up
		}
		if down > up && down > 0 {
			m = down
		}
		plusDM = append(plusDM, p)
		minusDM = append(minusDM, m)
	}
	atr := wilderSeries(trs, period)
	plus := wilderSeries(plusDM, period)
	minus := wilderSeries(minusDM, period)
	dx := make([]float64, 0, len(atr))
	for i := range atr {
		if atr[i] == 0 {
			dx = append(dx, 0)
			continue
		}
		plusDI := 100 * plus[i] / atr[i]
		minusDI := 100 * minus[i] / atr[i]
		sum := plusDI + minusDI
		if sum == 0 {
			dx = append(dx, 0)
			continue
		}
		dx = append(dx, 100*abs(plusDI-minusDI)/sum)
	}
	adx := wilderSeries(dx, period)
	return adx[len(adx)-1], nil
}

// Stoch returns the latest stochastic oscillator pair: raw %K smoothed over
// smoothK bars and %D as the SMA of smoothed %K over dPeriod bars.
func Stoch(candles []market.Candle, kPeriod, dPeriod, smoothK int) (k, d float64, err error) {
	if kPeriod <= 0 || dPeriod <= 0 || smoothK <= 0 {
		return 0, 0, fmt.Errorf("stoch: periods must be positive (k=%d d=%d smooth=%d)", kPeriod, dPeriod, smoothK)
	}
	need := kPeriod + smoothK + dPeriod - 2
	if len(candles) < need {
		return 0, 0, insufficient("stoch", need, len(candles))
	}
	raw := make([]float64, 0, len(candles)-kPeriod+1)
	for i := kPeriod - 1; i < len(candles); i++ {
		lo, hi := candles[i].Low, candles[i].High
		for _, c := range candles[i-kPeriod+1 : i+1] {
			if c.Low < lo {
				lo = c.Low
			}
			if c.High > hi {
				hi = c.High
			}
		}
		if hi == lo {
			raw = append(raw, 50)
			continue
		}
		raw = append(raw, 100*(candles[i].Close-lo)/(hi-lo))
	}
	smoothed := smaSeries(raw, smoothK)
	dSeries := smaSeries(smoothed, dPeriod)
	return smoothed[len(smoothed)-1], dSeries[len(dSeries)-1], nil
}

func smaSeries(values []float64, period int) []float64 {
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
