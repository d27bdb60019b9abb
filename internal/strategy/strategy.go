// Package strategy decides whether a tradeable pattern exists. Strategies
// are pure: they see candles, indicator snapshots, and candidate context,
// and never consult positions or risk state. Whether it is safe to act on
// a signal is the risk manager's job.
package strategy

import (
	"fmt"

	"trawler/internal/indicator"
	"trawler/internal/market"
	"trawler/internal/scanner"
)

const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// Signal is a tradeable pattern found by a strategy. Consumed exactly once
// by the risk manager; never mutated.
type Signal struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	StopLoss   float64 `json:"stop_loss"`
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
}

// Input is everything a strategy may look at when evaluating an entry.
type Input struct {
	Symbol    string
	Candles   []market.Candle
	Snapshot  indicator.Snapshot
	Candidate scanner.Candidate
}

// ExitInput describes an open position for exit evaluation. The strategy
// only reads it; closing is the executor's responsibility.
type ExitInput struct {
	Symbol     string
	Side       string
	EntryPrice float64
	Candles    []market.Candle
	Snapshot   indicator.Snapshot
}

// Strategy is the evaluation contract. Evaluate returns (nil, nil) when no
// pattern is present; ShouldExit reports whether an open position's entry
// thesis is gone, with a human-readable reason.
type Strategy interface {
	Name() string

	// Periods declares the indicator windows this strategy needs so the
	// snapshot builder computes exactly those.
	Periods() indicator.Periods

	Evaluate(in Input) (*Signal, error)

	ShouldExit(in ExitInput) (bool, string)
}

// Spec selects and parameterizes a strategy. Thresholds come from
// configuration, never hard-coded here.
type Spec struct {
	Name     string
	Scalping ScalpingParams
	Pullback PullbackParams
}

// New builds the configured strategy variant.
func New(spec Spec) (Strategy, error) {
	switch spec.Name {
	case "scalping":
		return NewScalping(spec.Scalping), nil
	case "pullback":
		return NewPullback(spec.Pullback), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", spec.Name)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
