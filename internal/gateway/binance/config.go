package binance

import (
	"strings"
	"time"
)

// Config holds venue connectivity settings.
type Config struct {
	APIKey       string
	APISecret    string
	RESTBaseURL  string
	HTTPTimeout  time.Duration
	ProxyEnabled bool
	ProxyURL     string
	QuoteAsset   string
}

func (c Config) withDefaults() Config {
	out := c
	if strings.TrimSpace(out.RESTBaseURL) == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 10 * time.Second
	}
	if strings.TrimSpace(out.QuoteAsset) == "" {
		out.QuoteAsset = "USDT"
	}
	return out
}
