// Package sentiment annotates candidates with an external social-sentiment
// score in [-1, 1]. The source is rate-limited and unreliable; every call
// is bounded by a timeout and scores are cached.
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"trawler/internal/logger"
	"trawler/internal/pkg/circuit"

	"github.com/tidwall/gjson"
)

// ErrUnavailable marks a sentiment score that could not be obtained.
// Strategies with a sentiment threshold treat it as fail-closed unless
// configured to ignore sentiment.
var ErrUnavailable = errors.New("sentiment unavailable")

// Provider returns a sentiment score in [-1, 1] for a symbol.
type Provider interface {
	Score(ctx context.Context, symbol string) (float64, error)
}

// Config for the HTTP sentiment provider. The endpoint is queried as
// endpoint?slug=<slug> and must answer JSON carrying the raw score at
// ValuePath. Raw scores are normalized by RawScale then clamped.
type Config struct {
	Endpoint  string
	ValuePath string
	// SlugMap maps tradable symbols to the provider's asset slugs
	// ("BTC/USDT" -> "bitcoin"). Symbols without slugs score as unavailable.
	SlugMap  map[string]string
	RawScale float64
	Timeout  time.Duration
	CacheTTL time.Duration
}

type cacheEntry struct {
	at    time.Time
	score float64
}

// HTTPProvider fetches sentiment over HTTP with a TTL cache and a circuit
// breaker so a dead upstream fails fast for the rest of the window.
type HTTPProvider struct {
	cfg     Config
	client  *http.Client
	breaker *circuit.Breaker

	mu    sync.RWMutex
	cache map[string]cacheEntry
	clock func() time.Time
}

func NewHTTPProvider(cfg Config) *HTTPProvider {
	if cfg.ValuePath == "" {
		cfg.ValuePath = "data.value"
	}
	if cfg.RawScale <= 0 {
		cfg.RawScale = 3.0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &HTTPProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuit.NewBreaker("sentiment", 3, 2*time.Minute),
		cache:   make(map[string]cacheEntry),
		clock:   time.Now,
	}
}

func (p *HTTPProvider) Score(ctx context.Context, symbol string) (float64, error) {
	slug, ok := p.cfg.SlugMap[symbol]
	if !ok || strings.TrimSpace(slug) == "" {
		return 0, fmt.Errorf("no slug for %s: %w", symbol, ErrUnavailable)
	}
	now := p.clock()
	p.mu.RLock()
	entry, hit := p.cache[slug]
	p.mu.RUnlock()
	if hit && now.Sub(entry.at) <= p.cfg.CacheTTL {
		return entry.score, nil
	}
	if !p.breaker.Allow() {
		return 0, fmt.Errorf("circuit open: %w", ErrUnavailable)
	}
	score, err := p.fetch(ctx, slug)
	if err != nil {
		p.breaker.RecordFailure()
		return 0, fmt.Errorf("%v: %w", err, ErrUnavailable)
	}
	p.breaker.RecordSuccess()
	p.mu.Lock()
	p.cache[slug] = cacheEntry{at: now, score: score}
	p.mu.Unlock()
	return score, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, slug string) (float64, error) {
	url := strings.TrimRight(p.cfg.Endpoint, "/") + "?slug=" + slug
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	raw := gjson.GetBytes(body, p.cfg.ValuePath)
	if !raw.Exists() {
		return 0, fmt.Errorf("missing %s in payload", p.cfg.ValuePath)
	}
	return clamp(raw.Float()/p.cfg.RawScale, -1, 1), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Gate applies the pass/fail sentiment check to a candidate.
type Gate struct {
	Provider          Provider
	Threshold         float64
	IgnoreUnavailable bool
}

// Allows reports whether the candidate passes the sentiment gate for the
// given direction ("long" requires score >= threshold, "short" requires
// score <= -threshold). Unavailable scores fail closed unless configured
// otherwise. The returned score pointer is nil when unavailable.
func (g Gate) Allows(ctx context.Context, symbol, direction string) (bool, *float64) {
	if g.Provider == nil || g.Threshold <= 0 {
		return true, nil
	}
	score, err := g.Provider.Score(ctx, symbol)
	if err != nil {
		if errors.Is(err, ErrUnavailable) && g.IgnoreUnavailable {
			logger.Debugf("sentiment: ignoring unavailable score for %s", symbol)
			return true, nil
		}
		logger.Warnf("sentiment: %s fails closed: %v", symbol, err)
		return false, nil
	}
	pass := score >= g.Threshold
	if direction == "short" {
		pass = score <= -g.Threshold
	}
	return pass, &score
}
