package strategy

import (
	"trawler/internal/indicator"
	"trawler/internal/market"
)

// PullbackParams parameterize the trend-following retracement strategy:
// an established trend (ADX + moving-average ordering) entered on a
// pullback to the fast EMA.
type PullbackParams struct {
	EMAFast       int
	EMASlow       int
	EMATrend      int
	ATRPeriod     int
	ADXPeriod     int
	RSIPeriod     int
	ADXThreshold  float64
	RSIOverbought float64
	RSIOversold   float64
	StopATRMult   float64
	SwingLookback int
}

func (p PullbackParams) withDefaults() PullbackParams {
	out := p
	if out.EMAFast <= 0 {
		out.EMAFast = 20
	}
	if out.EMASlow <= 0 {
		out.EMASlow = 50
	}
	if out.EMATrend <= 0 {
		out.EMATrend = 200
	}
	if out.ATRPeriod <= 0 {
		out.ATRPeriod = 14
	}
	if out.ADXPeriod <= 0 {
		out.ADXPeriod = 14
	}
	if out.RSIPeriod <= 0 {
		out.RSIPeriod = 14
	}
	if out.ADXThreshold <= 0 {
		out.ADXThreshold = 25
	}
	if out.RSIOverbought <= 0 {
		out.RSIOverbought = 70
	}
	if out.RSIOversold <= 0 {
		out.RSIOversold = 30
	}
	if out.StopATRMult <= 0 {
		out.StopATRMult = 2.0
	}
	if out.SwingLookback <= 0 {
		out.SwingLookback = 10
	}
	return out
}

type Pullback struct {
	params PullbackParams
}

func NewPullback(params PullbackParams) *Pullback {
	return &Pullback{params: params.withDefaults()}
}

func (p *Pullback) Name() string { return "pullback" }

func (p *Pullback) Periods() indicator.Periods {
	return indicator.Periods{
		EMAFast:  p.params.EMAFast,
		EMASlow:  p.params.EMASlow,
		EMATrend: p.params.EMATrend,
		ATR:      p.params.ATRPeriod,
		ADX:      p.params.ADXPeriod,
		RSI:      p.params.RSIPeriod,
	}
}

// Evaluate requires trend alignment and strength, then triggers on the
// previous candle touching the fast EMA with the current candle closing
// back on the trend side of it.
func (p *Pullback) Evaluate(in Input) (*Signal, error) {
	if len(in.Candles) < 2 {
		return nil, nil
	}
	fast, ok1 := in.Snapshot.Get("ema_fast")
	slow, ok2 := in.Snapshot.Get("ema_slow")
	trend, ok3 := in.Snapshot.Get("ema_trend")
	prevFast, ok4 := in.Snapshot.Get("ema_fast_prev")
	adx, ok5 := in.Snapshot.Get("adx")
	rsi, ok6 := in.Snapshot.Get("rsi")
	atr, ok7 := in.Snapshot.Get("atr")
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 || !ok7 {
		return nil, nil
	}
	last := in.Candles[len(in.Candles)-1]
	prev := in.Candles[len(in.Candles)-2]
	if adx <= p.params.ADXThreshold {
		return nil, nil
	}
	confidence := clamp01((adx - p.params.ADXThreshold) / p.params.ADXThreshold)

	longTrend := last.Close > trend && fast > slow
	longPullback := prev.Low <= prevFast && last.Close > fast
	if longTrend && longPullback && rsi < p.params.RSIOverbought {
		stop := last.Close - p.params.StopATRMult*atr
		if swing := p.swingLow(in.Candles); swing < stop {
			stop = swing
		}
		return &Signal{
			Symbol:     in.Symbol,
			Direction:  DirectionLong,
			StopLoss:   stop,
			Strategy:   p.Name(),
			Confidence: confidence,
		}, nil
	}

	shortTrend := last.Close < trend && fast < slow
	shortPullback := prev.High >= prevFast && last.Close < fast
	if shortTrend && shortPullback && rsi > p.params.RSIOversold {
		stop := last.Close + p.params.StopATRMult*atr
		if swing := p.swingHigh(in.Candles); swing > stop {
			stop = swing
		}
		return &Signal{
			Symbol:     in.Symbol,
			Direction:  DirectionShort,
			StopLoss:   stop,
			Strategy:   p.Name(),
			Confidence: confidence,
		}, nil
	}
	return nil, nil
}

// ShouldExit closes the position once price breaks the slow EMA, taking
// the retracement past "pullback" into trend failure.
func (p *Pullback) ShouldExit(in ExitInput) (bool, string) {
	slow, ok := in.Snapshot.Get("ema_slow")
	if !ok || len(in.Candles) == 0 {
		return false, ""
	}
	close_ := in.Candles[len(in.Candles)-1].Close
	if in.Side == DirectionLong && close_ < slow {
		return true, "close below slow ema"
	}
	if in.Side == DirectionShort && close_ > slow {
		return true, "close above slow ema"
	}
	return false, ""
}

func (p *Pullback) swingLow(candles []market.Candle) float64 {
	window := p.window(candles)
	low := window[0].Low
	for _, c := range window[1:] {
		if c.Low < low {
			low = c.Low
		}
	}
	return low
}

func (p *Pullback) swingHigh(candles []market.Candle) float64 {
	window := p.window(candles)
	high := window[0].High
	for _, c := range window[1:] {
		if c.High > high {
			high = c.High
		}
	}
	return high
}

func (p *Pullback) window(candles []market.Candle) []market.Candle {
	n := p.params.SwingLookback
	if len(candles) < n {
		return candles
	}
	return candles[len(candles)-n:]
}
