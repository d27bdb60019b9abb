package scanner

import (
	"context"
	"fmt"

	"trawler/internal/logger"
	"trawler/internal/market"

	"github.com/markcheno/go-talib"
)

// VolumeConfig configures the volume-leader scanner.
type VolumeConfig struct {
	// MinQuoteVolume filters out pairs below this 24h quote volume.
	MinQuoteVolume float64
	TopN           int
	// ConfirmLookback, when positive, fetches that many candles per
	// pre-candidate and drops pairs whose latest volume has fallen below
	// its moving average (fading interest). 0 disables confirmation.
	ConfirmLookback int
	ConfirmInterval string
}

// VolumeScanner ranks candidates by traded volume on the venue itself.
type VolumeScanner struct {
	cfg    VolumeConfig
	source market.Source
}

func NewVolumeScanner(source market.Source, cfg VolumeConfig) *VolumeScanner {
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.ConfirmInterval == "" {
		cfg.ConfirmInterval = "1h"
	}
	return &VolumeScanner{cfg: cfg, source: source}
}

func (s *VolumeScanner) Name() string { return "volume" }

func (s *VolumeScanner) Scan(ctx context.Context) ([]Candidate, error) {
	stats, err := s.source.TickerStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("volume: %v: %w", err, ErrSourceUnavailable)
	}
	var out []Candidate
	for _, st := range stats {
		if st.Symbol == "" || st.QuoteVolume < s.cfg.MinQuoteVolume {
			continue
		}
		out = append(out, Candidate{
			Symbol:      st.Symbol,
			Source:      s.Name(),
			Score:       st.QuoteVolume,
			QuoteVolume: st.QuoteVolume,
		})
	}
	sortCandidates(out)
	if len(out) > s.cfg.TopN {
		out = out[:s.cfg.TopN]
	}
	if s.cfg.ConfirmLookback > 1 {
		out = s.confirmVolume(ctx, out)
	}
	logger.Infof("volume scan: %d leaders above %.0f quote volume", len(out), s.cfg.MinQuoteVolume)
	return out, nil
}

// confirmVolume keeps only candidates whose latest candle volume is at or
// above its SMA over the lookback window. Candle fetch failures keep the
// candidate rather than discard a leader on a transient error.
func (s *VolumeScanner) confirmVolume(ctx context.Context, cands []Candidate) []Candidate {
	kept := cands[:0]
	for _, c := range cands {
		candles, err := s.source.Candles(ctx, c.Symbol, s.cfg.ConfirmInterval, s.cfg.ConfirmLookback)
		if err != nil || len(candles) < s.cfg.ConfirmLookback {
			kept = append(kept, c)
			continue
		}
		volumes := market.Volumes(candles)
		sma := talib.Sma(volumes, s.cfg.ConfirmLookback)
		avg := sma[len(sma)-1]
		if avg > 0 && volumes[len(volumes)-1] < avg {
			logger.Debugf("volume scan: dropping %s, volume fading (last=%.2f avg=%.2f)",
				c.Symbol, volumes[len(volumes)-1], avg)
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
