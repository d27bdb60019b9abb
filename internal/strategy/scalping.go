package strategy

import (
	"trawler/internal/indicator"
)

// ScalpingParams parameterize the fast EMA crossover / stochastic dip
// strategy. Intended for short holding periods with a tight ATR stop.
type ScalpingParams struct {
	EMAFast         int
	EMASlow         int
	StochK          int
	StochD          int
	StochSmooth     int
	ATRPeriod       int
	StochOversold   float64
	StochOverbought float64
	StopATRMult     float64
}

func (p ScalpingParams) withDefaults() ScalpingParams {
	out := p
	if out.EMAFast <= 0 {
		out.EMAFast = 9
	}
	if out.EMASlow <= 0 {
		out.EMASlow = 21
	}
	if out.StochK <= 0 {
		out.StochK = 14
	}
	if out.StochD <= 0 {
		out.StochD = 3
	}
	if out.StochSmooth <= 0 {
		out.StochSmooth = 3
	}
	if out.ATRPeriod <= 0 {
		out.ATRPeriod = 14
	}
	if out.StochOversold <= 0 {
		out.StochOversold = 20
	}
	if out.StochOverbought <= 0 {
		out.StochOverbought = 80
	}
	if out.StopATRMult <= 0 {
		out.StopATRMult = 1.5
	}
	return out
}

type Scalping struct {
	params ScalpingParams
}

func NewScalping(params ScalpingParams) *Scalping {
	return &Scalping{params: params.withDefaults()}
}

func (s *Scalping) Name() string { return "scalping" }

func (s *Scalping) Periods() indicator.Periods {
	return indicator.Periods{
		EMAFast:     s.params.EMAFast,
		EMASlow:     s.params.EMASlow,
		ATR:         s.params.ATRPeriod,
		StochK:      s.params.StochK,
		StochD:      s.params.StochD,
		StochSmooth: s.params.StochSmooth,
	}
}

// Evaluate buys dips in an uptrend and sells rallies in a downtrend:
// EMA ordering gives the trend, the stochastic gives the dip/rally.
func (s *Scalping) Evaluate(in Input) (*Signal, error) {
	fast, ok1 := in.Snapshot.Get("ema_fast")
	slow, ok2 := in.Snapshot.Get("ema_slow")
	k, ok3 := in.Snapshot.Get("stoch_k")
	atr, ok4 := in.Snapshot.Get("atr")
	if !ok1 || !ok2 || !ok3 || !ok4 || len(in.Candles) == 0 {
		return nil, nil
	}
	entry := in.Candles[len(in.Candles)-1].Close

	if fast > slow && k < s.params.StochOversold {
		return &Signal{
			Symbol:     in.Symbol,
			Direction:  DirectionLong,
			StopLoss:   entry - s.params.StopATRMult*atr,
			Strategy:   s.Name(),
			Confidence: clamp01((s.params.StochOversold - k) / s.params.StochOversold),
		}, nil
	}
	if fast < slow && k > s.params.StochOverbought {
		return &Signal{
			Symbol:     in.Symbol,
			Direction:  DirectionShort,
			StopLoss:   entry + s.params.StopATRMult*atr,
			Strategy:   s.Name(),
			Confidence: clamp01((k - s.params.StochOverbought) / (100 - s.params.StochOverbought)),
		}, nil
	}
	return nil, nil
}

// ShouldExit closes the position once the EMA trend flips against it.
func (s *Scalping) ShouldExit(in ExitInput) (bool, string) {
	fast, ok1 := in.Snapshot.Get("ema_fast")
	slow, ok2 := in.Snapshot.Get("ema_slow")
	prevFast, ok3 := in.Snapshot.Get("ema_fast_prev")
	prevSlow, ok4 := in.Snapshot.Get("ema_slow_prev")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false, ""
	}
	bearishCross := prevFast >= prevSlow && fast < slow
	bullishCross := prevFast <= prevSlow && fast > slow
	if in.Side == DirectionLong && bearishCross {
		return true, "ema crossover turned bearish"
	}
	if in.Side == DirectionShort && bullishCross {
		return true, "ema crossover turned bullish"
	}
	return false, ""
}
