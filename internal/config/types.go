package config

import (
	"time"

	"trawler/internal/executor"
	"trawler/internal/risk"
)

// Config is the merged runtime configuration.
type Config struct {
	Include   []string        `mapstructure:"include"`
	Log       LogConfig       `mapstructure:"log"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      risk.Config     `mapstructure:"risk"`
	Executor  executor.Config `mapstructure:"executor"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Server    ServerConfig    `mapstructure:"server"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AgentConfig drives the decision loop cadence and per-cycle bounds.
type AgentConfig struct {
	AutoStart        bool          `mapstructure:"auto_start"`      // begin trading on launch
	Interval         string        `mapstructure:"interval"`        // cycle cadence, e.g. "3m"
	Offset           time.Duration `mapstructure:"offset"`          // delay past the aligned boundary
	RunImmediately   bool          `mapstructure:"run_immediately"` // fire a cycle on start
	CandleInterval   string        `mapstructure:"candle_interval"` // kline timeframe fed to strategies
	CandleLimit      int           `mapstructure:"candle_limit"`
	MaxOpensPerCycle int           `mapstructure:"max_opens_per_cycle"`
	ScanTimeout      time.Duration `mapstructure:"scan_timeout"`
	EvalTimeout      time.Duration `mapstructure:"eval_timeout"`
	// FallbackSymbols are evaluated when every scanner comes back empty
	// or unavailable, so the agent never goes blind.
	FallbackSymbols []string `mapstructure:"fallback_symbols"`
	FlattenOnStop   bool     `mapstructure:"flatten_on_stop"`
}

type ExchangeConfig struct {
	Name         string        `mapstructure:"name"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	RESTBaseURL  string        `mapstructure:"rest_base_url"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	ProxyEnabled bool          `mapstructure:"proxy_enabled"`
	ProxyURL     string        `mapstructure:"proxy_url"`
	QuoteAsset   string        `mapstructure:"quote_asset"`
}

type ScannerConfig struct {
	Trending TrendingConfig `mapstructure:"trending"`
	Volume   VolumeConfig   `mapstructure:"volume"`
}

type TrendingConfig struct {
	Enabled   bool              `mapstructure:"enabled"`
	Endpoint  string            `mapstructure:"endpoint"`
	TopN      int               `mapstructure:"top_n"`
	SymbolMap map[string]string `mapstructure:"symbol_map"`
}

type VolumeConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	MinQuoteVolume  float64 `mapstructure:"min_quote_volume"`
	TopN            int     `mapstructure:"top_n"`
	ConfirmLookback int     `mapstructure:"confirm_lookback"`
	ConfirmInterval string  `mapstructure:"confirm_interval"`
}

type SentimentConfig struct {
	Enabled           bool              `mapstructure:"enabled"`
	Endpoint          string            `mapstructure:"endpoint"`
	ValuePath         string            `mapstructure:"value_path"`
	Threshold         float64           `mapstructure:"threshold"`
	IgnoreUnavailable bool              `mapstructure:"ignore_unavailable"`
	RawScale          float64           `mapstructure:"raw_scale"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	CacheTTL          time.Duration     `mapstructure:"cache_ttl"`
	SlugMap           map[string]string `mapstructure:"slug_map"`
}

type StrategyConfig struct {
	// Name selects the built-in strategy when no profile dir is set.
	Name string `mapstructure:"name"`
	// ProfileDir holds hot-reloadable strategy profiles; the latest valid
	// profile wins.
	ProfileDir string `mapstructure:"profile_dir"`
	Profile    string `mapstructure:"profile"` // active profile file name
}

type LedgerConfig struct {
	Path string `mapstructure:"path"`
	// Retain bounds how long closed trades are kept; zero keeps everything.
	Retain time.Duration `mapstructure:"retain"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type NotifierConfig struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`
}
