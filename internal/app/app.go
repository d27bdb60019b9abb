// Package app assembles and supervises the process: agent loop, HTTP
// control surface, profile hot reload, and graceful shutdown.
package app

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"trawler/internal/agent"
	"trawler/internal/config"
	"trawler/internal/config/loader"
	"trawler/internal/ledger"
	"trawler/internal/logger"
	transporthttp "trawler/internal/transport/http"
)

type App struct {
	cfg      *config.Config
	agent    *agent.Agent
	server   *transporthttp.Server
	trades   *ledger.Ledger
	profiles *loader.ProfileLoader
}

func NewApp(cfg *config.Config) (*App, error) {
	return build(cfg)
}

// Run blocks until SIGINT/SIGTERM or a fatal component error. Shutdown
// order: stop taking commands, let the current cycle finish, stop HTTP,
// close stores.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.agent.Run(gctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	if a.server != nil {
		g.Go(func() error {
			logger.Infof("app: control surface on %s", a.server.Addr())
			return a.server.Start(gctx)
		})
	}

	// Profile edits land as commands and apply at cycle boundaries.
	if a.profiles != nil {
		a.profiles.Subscribe(func(snap loader.Snapshot) {
			p, ok := snap.DefaultProfile()
			if !ok {
				logger.Warnf("app: profile snapshot v%d has no default, ignoring", snap.Version)
				return
			}
			applyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.agent.ApplyProfile(applyCtx, p.Spec(), snap.Version); err != nil {
				logger.Errorf("app: profile v%d not applied: %v", snap.Version, err)
			}
		})
	}

	if a.cfg.Agent.AutoStart {
		startCtx, cancel := context.WithTimeout(gctx, 30*time.Second)
		if err := a.agent.Start(startCtx); err != nil {
			cancel()
			logger.Errorf("app: agent autostart failed: %v", err)
		} else {
			cancel()
		}
	}

	err := g.Wait()
	a.close()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (a *App) close() {
	if a.profiles != nil {
		if cerr := a.profiles.Close(); cerr != nil {
			logger.Warnf("app: profile loader close: %v", cerr)
		}
	}
	if a.trades != nil {
		if cerr := a.trades.Close(); cerr != nil {
			logger.Warnf("app: ledger close: %v", cerr)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := ledger.Compact(ctx, a.cfg.Ledger.Path, a.cfg.Ledger.Retain); cerr != nil {
			logger.Warnf("app: ledger compact: %v", cerr)
		}
	}
}
