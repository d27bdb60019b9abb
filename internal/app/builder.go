package app

import (
	"fmt"

	"trawler/internal/agent"
	"trawler/internal/config"
	"trawler/internal/config/loader"
	"trawler/internal/executor"
	"trawler/internal/gateway/binance"
	"trawler/internal/ledger"
	"trawler/internal/logger"
	"trawler/internal/market"
	"trawler/internal/notifier"
	"trawler/internal/position"
	"trawler/internal/risk"
	"trawler/internal/scanner"
	"trawler/internal/sentiment"
	"trawler/internal/strategy"
	transporthttp "trawler/internal/transport/http"
)

// build wires the whole system from config. Construction order follows the
// dependency direction: gateway first, agent last.
func build(cfg *config.Config) (*App, error) {
	gw, err := binance.New(binance.Config{
		APIKey:       cfg.Exchange.APIKey,
		APISecret:    cfg.Exchange.APISecret,
		RESTBaseURL:  cfg.Exchange.RESTBaseURL,
		HTTPTimeout:  cfg.Exchange.HTTPTimeout,
		ProxyEnabled: cfg.Exchange.ProxyEnabled,
		ProxyURL:     cfg.Exchange.ProxyURL,
		QuoteAsset:   cfg.Exchange.QuoteAsset,
	})
	if err != nil {
		return nil, fmt.Errorf("binance gateway: %w", err)
	}

	store := market.NewStore(cfg.Agent.CandleLimit * 2)
	tracker := position.NewTracker()

	trades, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("trade ledger: %w", err)
	}

	var scanners []scanner.Scanner
	if cfg.Scanner.Trending.Enabled {
		scanners = append(scanners, scanner.NewTrendingScanner(scanner.TrendingConfig{
			Endpoint:  cfg.Scanner.Trending.Endpoint,
			SymbolMap: cfg.Scanner.Trending.SymbolMap,
			TopN:      cfg.Scanner.Trending.TopN,
		}))
	}
	if cfg.Scanner.Volume.Enabled {
		scanners = append(scanners, scanner.NewVolumeScanner(gw, scanner.VolumeConfig{
			MinQuoteVolume:  cfg.Scanner.Volume.MinQuoteVolume,
			TopN:            cfg.Scanner.Volume.TopN,
			ConfirmLookback: cfg.Scanner.Volume.ConfirmLookback,
			ConfirmInterval: cfg.Scanner.Volume.ConfirmInterval,
		}))
	}

	gate := sentiment.Gate{}
	if cfg.Sentiment.Enabled {
		gate = sentiment.Gate{
			Provider: sentiment.NewHTTPProvider(sentiment.Config{
				Endpoint:  cfg.Sentiment.Endpoint,
				ValuePath: cfg.Sentiment.ValuePath,
				SlugMap:   cfg.Sentiment.SlugMap,
				RawScale:  cfg.Sentiment.RawScale,
				Timeout:   cfg.Sentiment.Timeout,
				CacheTTL:  cfg.Sentiment.CacheTTL,
			}),
			Threshold:         cfg.Sentiment.Threshold,
			IgnoreUnavailable: cfg.Sentiment.IgnoreUnavailable,
		}
	}

	var alerts notifier.Notifier = notifier.Noop{}
	if cfg.Notifier.TelegramBotToken != "" {
		alerts = notifier.NewFanout(notifier.NewTelegram(cfg.Notifier.TelegramBotToken, cfg.Notifier.TelegramChatID))
	}

	riskMgr := risk.NewManager(cfg.Risk)
	exec := executor.New(gw, tracker, trades, alerts, cfg.Executor)

	// The initial strategy comes from a profile when a profile file is
	// configured, else from the plain strategy.name.
	var profiles *loader.ProfileLoader
	spec := strategy.Spec{Name: cfg.Strategy.Name}
	if cfg.Strategy.Profile != "" {
		profiles, err = loader.NewProfileLoader(cfg.Strategy.Profile)
		if err != nil {
			trades.Close()
			return nil, fmt.Errorf("profile loader: %w", err)
		}
		snap := profiles.Snapshot()
		if p, ok := snap.DefaultProfile(); ok {
			spec = p.Spec()
		} else {
			logger.Warnf("app: no default profile in %s, using strategy.name=%s", cfg.Strategy.Profile, cfg.Strategy.Name)
		}
	}
	strat, err := strategy.New(spec)
	if err != nil {
		trades.Close()
		return nil, fmt.Errorf("strategy: %w", err)
	}

	core, err := agent.New(agent.Deps{
		Exchange: gw,
		Market:   gw,
		Store:    store,
		Scanners: scanners,
		Gate:     gate,
		Strategy: strat,
		Risk:     riskMgr,
		Executor: exec,
		Tracker:  tracker,
		Trades:   trades,
		Cfg:      cfg.Agent,
	})
	if err != nil {
		trades.Close()
		return nil, fmt.Errorf("agent: %w", err)
	}

	var srv *transporthttp.Server
	if cfg.Server.Enabled {
		srv, err = transporthttp.NewServer(transporthttp.ServerConfig{
			Addr:   cfg.Server.Listen,
			Agent:  core,
			Trades: trades,
		})
		if err != nil {
			trades.Close()
			return nil, fmt.Errorf("http server: %w", err)
		}
	}

	return &App{
		cfg:      cfg,
		agent:    core,
		server:   srv,
		trades:   trades,
		profiles: profiles,
	}, nil
}
