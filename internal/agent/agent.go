// Package agent runs the decision loop. A single actor goroutine owns all
// mutable state; control arrives as messages and is consumed at cycle
// boundaries, so a cycle in flight always finishes what it started.
package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"trawler/internal/config"
	"trawler/internal/executor"
	"trawler/internal/gateway/exchange"
	"trawler/internal/logger"
	"trawler/internal/market"
	"trawler/internal/position"
	"trawler/internal/risk"
	"trawler/internal/scanner"
	"trawler/internal/scheduler"
	"trawler/internal/sentiment"
	"trawler/internal/strategy"
)

// TradeStore is the slice of the ledger the agent reads and closes out on.
type TradeStore interface {
	DailyAggregate(ctx context.Context, day time.Time) (risk.DailyAggregate, error)
	CloseOut(ctx context.Context, symbol string, exitPrice, realized float64, reason string, closedAt time.Time) error
}

// Deps wires the agent to the rest of the system.
type Deps struct {
	Exchange exchange.Exchange
	Market   market.Source
	Store    *market.Store
	Scanners []scanner.Scanner
	Gate     sentiment.Gate
	Strategy strategy.Strategy
	Risk     *risk.Manager
	Executor *executor.Executor
	Tracker  *position.Tracker
	Trades   TradeStore
	Cfg      config.AgentConfig
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdProfile
	cmdTick
	cmdManualClose
)

type command struct {
	kind    cmdKind
	spec    strategy.Spec
	version int64
	symbol  string
	reply   chan error
}

// Agent is the decision loop actor.
type Agent struct {
	deps Deps
	hub  *Hub

	cmds   chan command
	status atomic.Value // Status

	// Loop-owned state below; touched only from Run's goroutine.
	state          string
	strat          strategy.Strategy
	profileVersion int64
	cycleCount     uint64
	lastErr        string
	lastFaulted    bool
	lastCycleAt    time.Time
	account        exchange.AccountState
	dailyRealized  float64
	tickCancel     context.CancelFunc
}

func New(deps Deps) (*Agent, error) {
	if deps.Exchange == nil || deps.Market == nil || deps.Strategy == nil ||
		deps.Risk == nil || deps.Executor == nil || deps.Tracker == nil || deps.Trades == nil {
		return nil, fmt.Errorf("agent: missing dependency")
	}
	if deps.Store == nil {
		deps.Store = market.NewStore(0)
	}
	a := &Agent{
		deps:  deps,
		hub:   NewHub(128),
		cmds:  make(chan command, 16),
		state: StateStopped,
		strat: deps.Strategy,
	}
	a.publishStatus()
	return a, nil
}

// Events exposes the agent's event hub.
func (a *Agent) Events() *Hub { return a.hub }

// Status returns the latest immutable snapshot.
func (a *Agent) Status() Status {
	if v := a.status.Load(); v != nil {
		return v.(Status)
	}
	return Status{State: StateStopped}
}

// Start asks the loop to begin trading. Errors if already running.
func (a *Agent) Start(ctx context.Context) error { return a.send(ctx, command{kind: cmdStart}) }

// Stop asks the loop to stop at the next cycle boundary.
func (a *Agent) Stop(ctx context.Context) error { return a.send(ctx, command{kind: cmdStop}) }

// ApplyProfile swaps the strategy parameterisation between cycles. Open
// positions and their stops are untouched.
func (a *Agent) ApplyProfile(ctx context.Context, spec strategy.Spec, version int64) error {
	return a.send(ctx, command{kind: cmdProfile, spec: spec, version: version})
}

// CloseSymbol requests a manual market close of an open position.
func (a *Agent) CloseSymbol(ctx context.Context, symbol string) error {
	return a.send(ctx, command{kind: cmdManualClose, symbol: symbol})
}

func (a *Agent) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case a.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the actor loop. It returns when ctx is cancelled, after shutting
// the trading cadence down cleanly.
func (a *Agent) Run(ctx context.Context) error {
	logger.Infof("agent: loop started")
	defer a.hub.Close()
	for {
		select {
		case <-ctx.Done():
			if a.state == StateRunning || a.state == StateFaulted {
				a.shutdown(context.Background())
			}
			a.setState(StateStopped)
			logger.Infof("agent: loop exited")
			return ctx.Err()
		case cmd := <-a.cmds:
			a.handle(ctx, cmd)
		}
	}
}

func (a *Agent) handle(ctx context.Context, cmd command) {
	var err error
	switch cmd.kind {
	case cmdStart:
		err = a.start(ctx)
	case cmdStop:
		if a.state != StateRunning && a.state != StateFaulted {
			err = fmt.Errorf("agent is not running")
		} else {
			a.shutdown(ctx)
		}
	case cmdProfile:
		err = a.applyProfile(cmd.spec, cmd.version)
	case cmdManualClose:
		err = a.manualClose(ctx, cmd.symbol)
	case cmdTick:
		if a.state == StateRunning || a.state == StateFaulted {
			a.runCycle(ctx)
		}
	}
	if cmd.reply != nil {
		cmd.reply <- err
	}
}

func (a *Agent) start(ctx context.Context) error {
	if a.state != StateStopped {
		return fmt.Errorf("agent already %s", a.state)
	}
	a.setState(StateStarting)

	interval, err := scheduler.ParseIntervalDuration(a.deps.Cfg.Interval)
	if err != nil {
		a.setState(StateStopped)
		return fmt.Errorf("agent interval: %w", err)
	}

	// Recover positions from the venue before the first cycle so restarts
	// pick up where they left off.
	if err := a.reconcile(ctx); err != nil {
		logger.Warnf("agent: startup reconcile failed: %v", err)
	}

	tickCtx, cancel := context.WithCancel(ctx)
	a.tickCancel = cancel
	sched := scheduler.NewCadenceScheduler(tickCtx, interval, a.deps.Cfg.Offset)
	sched.RunImmediately = a.deps.Cfg.RunImmediately
	go sched.Start(func() {
		select {
		case a.cmds <- command{kind: cmdTick}:
		case <-tickCtx.Done():
		}
	})

	a.setState(StateRunning)
	logger.Infof("agent: started, cadence %s", interval)
	return nil
}

func (a *Agent) shutdown(ctx context.Context) {
	a.setState(StateStopping)
	if a.tickCancel != nil {
		a.tickCancel()
		a.tickCancel = nil
	}
	if a.deps.Cfg.FlattenOnStop {
		for _, pos := range a.deps.Tracker.Snapshot() {
			if _, err := a.deps.Executor.CloseAndRecord(ctx, pos, "agent stopping"); err != nil {
				logger.Errorf("agent: flatten %s on stop failed: %v", pos.Symbol, err)
			}
		}
	}
	a.setState(StateStopped)
	logger.Infof("agent: stopped")
}

func (a *Agent) applyProfile(spec strategy.Spec, version int64) error {
	next, err := strategy.New(spec)
	if err != nil {
		return fmt.Errorf("agent: profile rejected: %w", err)
	}
	a.strat = next
	a.profileVersion = version
	a.publishStatus()
	logger.Infof("agent: strategy profile applied: %s v%d", next.Name(), version)
	return nil
}

func (a *Agent) manualClose(ctx context.Context, symbol string) error {
	pos, ok := a.deps.Tracker.Get(symbol)
	if !ok {
		return fmt.Errorf("no open position on %s", symbol)
	}
	closed, err := a.deps.Executor.CloseAndRecord(ctx, pos, "manual close")
	if err != nil {
		return err
	}
	a.hub.Publish(EventClosed, closed)
	a.publishStatus()
	return nil
}

func (a *Agent) setState(s string) {
	if a.state == s {
		return
	}
	a.state = s
	a.hub.Publish(EventStateChange, map[string]string{"state": s})
	a.publishStatus()
}

func (a *Agent) publishStatus() {
	positions := a.deps.Tracker.Snapshot()
	a.status.Store(Status{
		State:            a.state,
		CycleCount:       a.cycleCount,
		LastCycleAt:      a.lastCycleAt,
		LastCycleFaulted: a.lastFaulted,
		LastError:        a.lastErr,
		Equity:           a.account.Equity,
		BuyingPower:      a.account.BuyingPower,
		Deployed:         a.deps.Tracker.Deployed(),
		DailyRealized:    a.dailyRealized,
		OpenCount:        len(positions),
		Positions:        positions,
		Strategy:         a.strat.Name(),
		ProfileVersion:   a.profileVersion,
		UpdatedAt:        time.Now().UTC(),
	})
}
