package scanner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trawler/internal/logger"
	"trawler/internal/pkg/circuit"

	"github.com/tidwall/gjson"
)

const defaultTrendingEndpoint = "https://api.coingecko.com/api/v3/search/trending"

// TrendingConfig configures the trending-discovery scanner.
type TrendingConfig struct {
	Endpoint string
	// SymbolMap maps discovery-source coin ids (e.g. "bitcoin") to
	// tradable symbols ("BTC/USDT"). Trending coins without a mapping are
	// not tradable on the venue and are dropped.
	SymbolMap map[string]string
	TopN      int
	Timeout   time.Duration
}

// TrendingScanner ranks candidates by external popularity: the discovery
// feed's own ordering, highest first.
type TrendingScanner struct {
	cfg     TrendingConfig
	client  *http.Client
	breaker *circuit.Breaker
}

func NewTrendingScanner(cfg TrendingConfig) *TrendingScanner {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultTrendingEndpoint
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TrendingScanner{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuit.NewBreaker("scanner.trending", 3, 2*time.Minute),
	}
}

func (s *TrendingScanner) Name() string { return "trending" }

func (s *TrendingScanner) Scan(ctx context.Context) ([]Candidate, error) {
	if !s.breaker.Allow() {
		return nil, fmt.Errorf("trending: circuit open: %w", ErrSourceUnavailable)
	}
	body, err := s.fetch(ctx)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, fmt.Errorf("trending: %v: %w", err, ErrSourceUnavailable)
	}
	s.breaker.RecordSuccess()

	ids := gjson.GetBytes(body, "coins.#.item.id")
	if !ids.Exists() {
		return nil, fmt.Errorf("trending: malformed payload: %w", ErrSourceUnavailable)
	}
	var out []Candidate
	seen := 0
	for rank, id := range ids.Array() {
		seen++
		sym, ok := s.cfg.SymbolMap[strings.ToLower(id.String())]
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Symbol: sym,
			Source: s.Name(),
			Score:  1.0 / float64(1+rank),
		})
		if len(out) >= s.cfg.TopN {
			break
		}
	}
	sortCandidates(out)
	logger.Infof("trending scan: %d/%d trending coins tradable", len(out), seen)
	return out, nil
}

func (s *TrendingScanner) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
