// Package scanner discovers candidate symbols for the agent to evaluate.
// Scanners degrade gracefully: an unreachable discovery source yields an
// empty candidate list and ErrSourceUnavailable, never a cycle failure.
package scanner

import (
	"context"
	"errors"
	"sort"
)

// ErrSourceUnavailable marks a discovery source that failed or timed out.
// Recoverable; the cycle continues with the remaining sources.
var ErrSourceUnavailable = errors.New("discovery source unavailable")

// Candidate is a symbol worth evaluating this cycle. Created fresh each
// scan; discarded at cycle end unless promoted to a signal.
type Candidate struct {
	Symbol      string   `json:"symbol"`
	Source      string   `json:"source"`
	Score       float64  `json:"score"`
	QuoteVolume float64  `json:"quote_volume,omitempty"`
	Sentiment   *float64 `json:"sentiment,omitempty"`
}

// Scanner produces a bounded, deterministically ordered candidate list.
type Scanner interface {
	Name() string
	Scan(ctx context.Context) ([]Candidate, error)
}

// Merge concatenates candidate lists in scanner priority order,
// deduplicating by symbol (first occurrence wins).
func Merge(lists ...[]Candidate) []Candidate {
	seen := make(map[string]struct{})
	var out []Candidate
	for _, list := range lists {
		for _, c := range list {
			if _, ok := seen[c.Symbol]; ok {
				continue
			}
			seen[c.Symbol] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// sortCandidates orders by score descending, ties broken by symbol
// ascending so the ordering is stable across runs.
func sortCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Symbol < cands[j].Symbol
	})
}
