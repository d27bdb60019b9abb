package config

import "time"

// applyDefaults fills unset keys. setKeys distinguishes "omitted" from
// "explicitly zero" so an operator can switch a default off.
func (c *Config) applyDefaults(setKeys keySet) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if !c.Agent.AutoStart && !setKeys.has("agent.auto_start") {
		c.Agent.AutoStart = true
	}
	if c.Agent.Interval == "" {
		c.Agent.Interval = "3m"
	}
	if c.Agent.CandleInterval == "" {
		c.Agent.CandleInterval = "5m"
	}
	if c.Agent.CandleLimit <= 0 {
		c.Agent.CandleLimit = 150
	}
	if c.Agent.MaxOpensPerCycle <= 0 && !setKeys.has("agent.max_opens_per_cycle") {
		c.Agent.MaxOpensPerCycle = 2
	}
	if c.Agent.ScanTimeout <= 0 {
		c.Agent.ScanTimeout = 15 * time.Second
	}
	if c.Agent.EvalTimeout <= 0 {
		c.Agent.EvalTimeout = 30 * time.Second
	}
	if len(c.Agent.FallbackSymbols) == 0 && !setKeys.has("agent.fallback_symbols") {
		c.Agent.FallbackSymbols = []string{"BTC/USDT", "ETH/USDT"}
	}

	if c.Exchange.Name == "" {
		c.Exchange.Name = "binance"
	}
	if c.Exchange.QuoteAsset == "" {
		c.Exchange.QuoteAsset = "USDT"
	}
	if c.Exchange.HTTPTimeout <= 0 {
		c.Exchange.HTTPTimeout = 10 * time.Second
	}

	if c.Scanner.Trending.TopN <= 0 {
		c.Scanner.Trending.TopN = 10
	}
	if c.Scanner.Volume.TopN <= 0 {
		c.Scanner.Volume.TopN = 10
	}
	if c.Scanner.Volume.ConfirmInterval == "" {
		c.Scanner.Volume.ConfirmInterval = "1h"
	}

	if c.Sentiment.ValuePath == "" {
		c.Sentiment.ValuePath = "data.value"
	}
	if c.Sentiment.RawScale <= 0 {
		c.Sentiment.RawScale = 3.0
	}
	if c.Sentiment.Timeout <= 0 {
		c.Sentiment.Timeout = 5 * time.Second
	}
	if c.Sentiment.CacheTTL <= 0 {
		c.Sentiment.CacheTTL = 10 * time.Minute
	}

	if c.Strategy.Name == "" {
		c.Strategy.Name = "scalping"
	}

	if c.Risk.RiskPerTradePct <= 0 {
		c.Risk.RiskPerTradePct = 1.0
	}
	if c.Risk.MaxOpenTrades <= 0 && !setKeys.has("risk.max_open_trades") {
		c.Risk.MaxOpenTrades = 3
	}
	if c.Risk.DailyLossLimitPct <= 0 && !setKeys.has("risk.daily_loss_limit_pct") {
		c.Risk.DailyLossLimitPct = 3.0
	}
	if c.Risk.MinQuantity <= 0 {
		c.Risk.MinQuantity = 0.001
	}

	if c.Ledger.Path == "" {
		c.Ledger.Path = "data/trawler.db"
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
}
