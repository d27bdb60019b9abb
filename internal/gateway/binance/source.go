package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trawler/internal/market"
	symbolpkg "trawler/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

// Gateway implements market.Source and exchange.Exchange against Binance
// USDⓈ-M futures.
type Gateway struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Gateway, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Gateway{cfg: final, client: client}, nil
}

func (g *Gateway) Name() string { return "binance" }

func (g *Gateway) Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	// Binance wants symbols without slashes (e.g. ETHUSDT)
	clean := symbolpkg.ToExchange(symbol)
	kls, err := g.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return market.DropUnclosed(out, time.Now().UnixMilli()), nil
}

func (g *Gateway) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	clean := symbolpkg.ToExchange(symbol)
	prices, err := g.client.NewListPricesService().Symbol(clean).Do(ctx)
	if err != nil {
		return market.Quote{}, err
	}
	for _, p := range prices {
		if p == nil {
			continue
		}
		return market.Quote{
			Symbol: symbolpkg.Normalize(p.Symbol),
			Price:  parseFloat(p.Price),
			At:     time.Now().UnixMilli(),
		}, nil
	}
	return market.Quote{}, fmt.Errorf("no price for %s", symbol)
}

func (g *Gateway) TickerStats(ctx context.Context) ([]market.TickerStats, error) {
	stats, err := g.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.TickerStats, 0, len(stats))
	for _, st := range stats {
		if st == nil {
			continue
		}
		sym := symbolpkg.Parse(st.Symbol)
		if sym.Quote != g.cfg.QuoteAsset {
			continue
		}
		out = append(out, market.TickerStats{
			Symbol:         sym.Internal(),
			LastPrice:      parseFloat(st.LastPrice),
			Volume:         parseFloat(st.Volume),
			QuoteVolume:    parseFloat(st.QuoteVolume),
			PriceChangePct: parseFloat(st.PriceChangePercent),
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
