package config

import (
	"fmt"
	"strings"

	"trawler/internal/scheduler"
)

func validate(c *Config) error {
	if _, err := scheduler.ParseIntervalDuration(c.Agent.Interval); err != nil {
		return fmt.Errorf("agent.interval invalid: %w", err)
	}
	if _, err := scheduler.ParseIntervalDuration(c.Agent.CandleInterval); err != nil {
		return fmt.Errorf("agent.candle_interval invalid: %w", err)
	}
	if c.Agent.CandleLimit < 30 {
		return fmt.Errorf("agent.candle_limit must be at least 30, got %d", c.Agent.CandleLimit)
	}

	switch strings.ToLower(c.Exchange.Name) {
	case "binance":
	default:
		return fmt.Errorf("exchange.name unsupported: %q", c.Exchange.Name)
	}

	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 100 {
		return fmt.Errorf("risk.risk_per_trade_pct must be in (0, 100], got %v", c.Risk.RiskPerTradePct)
	}
	if c.Risk.DailyLossLimitPct < 0 || c.Risk.DailyLossLimitPct > 100 {
		return fmt.Errorf("risk.daily_loss_limit_pct must be in [0, 100], got %v", c.Risk.DailyLossLimitPct)
	}
	if c.Risk.MaxNotionalPerTrade < 0 {
		return fmt.Errorf("risk.max_notional_per_trade cannot be negative")
	}

	switch c.Strategy.Name {
	case "scalping", "pullback":
	default:
		return fmt.Errorf("strategy.name unsupported: %q", c.Strategy.Name)
	}

	if c.Sentiment.Enabled && c.Sentiment.Endpoint == "" {
		return fmt.Errorf("sentiment.endpoint required when sentiment is enabled")
	}

	if c.Scanner.Volume.MinQuoteVolume < 0 {
		return fmt.Errorf("scanner.volume.min_quote_volume cannot be negative")
	}

	if c.Server.Enabled && !strings.Contains(c.Server.Listen, ":") {
		return fmt.Errorf("server.listen must be host:port, got %q", c.Server.Listen)
	}
	return nil
}
