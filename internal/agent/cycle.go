package agent

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"trawler/internal/executor"
	"trawler/internal/gateway/exchange"
	"trawler/internal/indicator"
	"trawler/internal/ledger"
	"trawler/internal/logger"
	"trawler/internal/market"
	"trawler/internal/risk"
	"trawler/internal/scanner"
	"trawler/internal/strategy"
)

const evalConcurrency = 4

// adoptedStopATRMult protects positions adopted from the venue that have
// no stop of their own.
const adoptedStopATRMult = 2.0

type candidateSignal struct {
	signal    strategy.Signal
	candidate scanner.Candidate
	lastClose float64
	snapshot  indicator.Snapshot
	sentiment *float64
}

// runCycle is one full decision pass. Operational errors mark the cycle
// faulted and are absorbed; the loop keeps its cadence either way.
func (a *Agent) runCycle(ctx context.Context) {
	started := time.Now().UTC()
	a.hub.Publish(EventCycleStart, map[string]uint64{"cycle": a.cycleCount + 1})

	err := a.cycle(ctx)

	a.cycleCount++
	a.lastCycleAt = started
	if err != nil {
		a.lastFaulted = true
		a.lastErr = err.Error()
		a.state = StateFaulted
		a.hub.Publish(EventFault, map[string]string{"error": err.Error()})
		logger.Errorf("agent: cycle %d faulted: %v", a.cycleCount, err)
	} else {
		a.lastFaulted = false
		a.lastErr = ""
		a.state = StateRunning
	}
	a.publishStatus()
	a.hub.Publish(EventCycleEnd, map[string]any{
		"cycle":    a.cycleCount,
		"faulted":  a.lastFaulted,
		"duration": time.Since(started).String(),
	})
}

func (a *Agent) cycle(ctx context.Context) error {
	// 1. Account refresh. Without it the risk math is stale, so this is
	// the one step that faults the whole cycle.
	account, err := a.deps.Exchange.AccountState(ctx)
	if err != nil {
		return err
	}
	a.account = account

	// 2. Reconcile the tracker against the venue.
	if err := a.reconcile(ctx); err != nil {
		logger.Warnf("agent: reconcile failed, keeping local view: %v", err)
	}

	// 3. Risk state for the UTC day.
	state, err := risk.BuildState(ctx, a.deps.Trades, a.deps.Tracker.Snapshot(), time.Now())
	if err != nil {
		return err
	}
	a.dailyRealized = state.DailyRealized

	// 4. Exits before entries: freed slots become available this cycle.
	a.manageExits(ctx)

	// 5. Discover candidates.
	candidates := a.scan(ctx)
	if len(candidates) == 0 {
		logger.Debugf("agent: no candidates this cycle")
	}

	// 6. Evaluate candidates in parallel; strategies are pure, so only
	// the collection slice needs a lock.
	signals := a.evaluate(ctx, candidates)

	// 7. Entries are serialized: each approval sees the positions the
	// previous one opened.
	a.enter(ctx, signals, state)

	// 8. Mark open positions before publishing.
	a.markToMarket(ctx)
	return nil
}

func (a *Agent) reconcile(ctx context.Context) error {
	remote, err := a.deps.Exchange.OpenPositions(ctx)
	if err != nil {
		return err
	}
	dropped, adopted := a.deps.Tracker.Reconcile(remote)
	for _, d := range dropped {
		if err := a.deps.Trades.CloseOut(ctx, d.Symbol, d.ExitPrice, d.Realized, d.Reason, d.ClosedAt); err != nil {
			logger.Warnf("agent: ledger close-out for dropped %s: %v", d.Symbol, err)
		}
		a.hub.Publish(EventClosed, d)
	}
	for _, p := range adopted {
		a.hub.Publish(EventOpened, p)
	}
	return nil
}

// manageExits walks open positions: adopted ones get a stop, strategy
// exits close, survivors may trail.
func (a *Agent) manageExits(ctx context.Context) {
	for _, pos := range a.deps.Tracker.Snapshot() {
		candles := a.candles(ctx, pos.Symbol)
		snap, err := indicator.Build(pos.Symbol, candles, a.strat.Periods())
		if err != nil {
			if !errors.Is(err, indicator.ErrInsufficientData) {
				logger.Warnf("agent: exit snapshot for %s: %v", pos.Symbol, err)
			}
			continue
		}
		atr, _ := snap.Get("atr")

		if pos.StopLoss <= 0 && atr > 0 {
			stop := pos.EntryPrice - adoptedStopATRMult*atr
			if pos.Side == exchange.SideShort {
				stop = pos.EntryPrice + adoptedStopATRMult*atr
			}
			if err := a.deps.Executor.Protect(ctx, pos, stop); err != nil {
				logger.Errorf("agent: protecting adopted %s failed: %v", pos.Symbol, err)
			}
			continue
		}

		exit, reason := a.strat.ShouldExit(strategy.ExitInput{
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			EntryPrice: pos.EntryPrice,
			Candles:    candles,
			Snapshot:   snap,
		})
		if exit {
			closed, err := a.deps.Executor.CloseAndRecord(ctx, pos, reason)
			if err != nil {
				logger.Errorf("agent: exit close %s failed: %v", pos.Symbol, err)
				continue
			}
			a.hub.Publish(EventClosed, closed)
			continue
		}

		if err := a.deps.Executor.MaybeTrailStop(ctx, pos, atr); err != nil {
			logger.Warnf("agent: trail stop %s: %v", pos.Symbol, err)
		}
	}
}

// scan runs every scanner, degrading per source. An empty merged list
// falls back to the configured symbols so the agent never goes blind.
func (a *Agent) scan(ctx context.Context) []scanner.Candidate {
	scanCtx, cancel := context.WithTimeout(ctx, a.deps.Cfg.ScanTimeout)
	defer cancel()

	lists := make([][]scanner.Candidate, 0, len(a.deps.Scanners))
	for _, s := range a.deps.Scanners {
		found, err := s.Scan(scanCtx)
		if err != nil {
			logger.Warnf("agent: scanner %s unavailable: %v", s.Name(), err)
			continue
		}
		lists = append(lists, found)
	}
	merged := scanner.Merge(lists...)
	if len(merged) > 0 {
		return merged
	}

	fallback := make([]scanner.Candidate, 0, len(a.deps.Cfg.FallbackSymbols))
	for _, sym := range a.deps.Cfg.FallbackSymbols {
		fallback = append(fallback, scanner.Candidate{Symbol: sym, Source: "fallback"})
	}
	if len(fallback) > 0 {
		logger.Infof("agent: all scanners empty, using %d fallback symbols", len(fallback))
	}
	return fallback
}

// evaluate runs the strategy over candidates with bounded parallelism and
// applies the sentiment gate to the resulting signals. Output is ordered
// by candidate score, then symbol.
func (a *Agent) evaluate(ctx context.Context, candidates []scanner.Candidate) []candidateSignal {
	evalCtx, cancel := context.WithTimeout(ctx, a.deps.Cfg.EvalTimeout)
	defer cancel()

	var mu sync.Mutex
	var signals []candidateSignal

	g, gctx := errgroup.WithContext(evalCtx)
	g.SetLimit(evalConcurrency)
	for _, cand := range candidates {
		cand := cand
		if a.deps.Tracker.Has(cand.Symbol) {
			continue // risk would reject anyway, skip the work
		}
		g.Go(func() error {
			candles := a.candles(gctx, cand.Symbol)
			snap, err := indicator.Build(cand.Symbol, candles, a.strat.Periods())
			if err != nil {
				if !errors.Is(err, indicator.ErrInsufficientData) {
					logger.Warnf("agent: snapshot %s: %v", cand.Symbol, err)
				}
				return nil
			}
			sig, err := a.strat.Evaluate(strategy.Input{
				Symbol:    cand.Symbol,
				Candles:   candles,
				Snapshot:  snap,
				Candidate: cand,
			})
			if err != nil || sig == nil {
				if err != nil {
					logger.Warnf("agent: evaluate %s: %v", cand.Symbol, err)
				}
				return nil
			}

			allowed, score := a.deps.Gate.Allows(gctx, sig.Symbol, sig.Direction)
			if !allowed {
				logger.Infof("agent: sentiment gate blocked %s %s", sig.Symbol, sig.Direction)
				return nil
			}

			mu.Lock()
			signals = append(signals, candidateSignal{
				signal:    *sig,
				candidate: cand,
				lastClose: candles[len(candles)-1].Close,
				snapshot:  snap,
				sentiment: score,
			})
			mu.Unlock()
			a.hub.Publish(EventSignal, sig)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; the group bounds and scopes them

	sort.Slice(signals, func(i, j int) bool {
		if signals[i].candidate.Score != signals[j].candidate.Score {
			return signals[i].candidate.Score > signals[j].candidate.Score
		}
		return signals[i].signal.Symbol < signals[j].signal.Symbol
	})
	return signals
}

// enter pushes signals through risk and execution one at a time, best
// candidates first, capped per cycle.
func (a *Agent) enter(ctx context.Context, signals []candidateSignal, state risk.State) {
	opened := 0
	for _, cs := range signals {
		if a.deps.Cfg.MaxOpensPerCycle > 0 && opened >= a.deps.Cfg.MaxOpensPerCycle {
			break
		}
		plan, err := a.deps.Risk.Approve(cs.signal, cs.lastClose, a.account, state, a.deps.Tracker.Snapshot())
		if err != nil {
			var rej *risk.Rejection
			if errors.As(err, &rej) {
				logger.Infof("agent: %s %s rejected: %s", cs.signal.Symbol, cs.signal.Direction, rej.Reason)
				a.hub.Publish(EventRejected, map[string]string{"symbol": cs.signal.Symbol, "reason": rej.Reason})
				// Account-level halts reject everything after them too.
				if rej.Reason == risk.ReasonDailyLossLimit || rej.Reason == risk.ReasonConsecutiveLosses {
					return
				}
				continue
			}
			logger.Errorf("agent: risk check %s: %v", cs.signal.Symbol, err)
			continue
		}

		fill, err := a.deps.Executor.Execute(ctx, plan, ledger.EntryContext{
			Confidence: cs.signal.Confidence,
			Score:      cs.candidate.Score,
			Sentiment:  cs.sentiment,
			Source:     cs.candidate.Source,
			Indicators: cs.snapshot.Values,
		})
		if err != nil {
			var gap *executor.ProtectionGapError
			if errors.As(err, &gap) {
				// Loud, already alerted; the position is live and counted.
				opened++
				a.hub.Publish(EventOpened, fill)
				continue
			}
			logger.Errorf("agent: execute %s: %v", cs.signal.Symbol, err)
			continue
		}
		opened++
		state.OpenRisk += plan.RiskAmount
		a.hub.Publish(EventOpened, fill)
	}
}

func (a *Agent) markToMarket(ctx context.Context) {
	open := a.deps.Tracker.Snapshot()
	if len(open) == 0 {
		return
	}
	quotes := make(map[string]float64, len(open))
	for _, pos := range open {
		q, err := a.deps.Market.Quote(ctx, pos.Symbol)
		if err != nil {
			logger.Debugf("agent: quote %s: %v", pos.Symbol, err)
			continue
		}
		quotes[pos.Symbol] = q.Price
	}
	a.deps.Tracker.MarkToMarket(quotes)
}

// candles fetches the working timeframe for symbol, refreshing the shared
// store so scanners and exits reuse the same data within a cycle.
func (a *Agent) candles(ctx context.Context, symbol string) []market.Candle {
	fresh, err := a.deps.Market.Candles(ctx, symbol, a.deps.Cfg.CandleInterval, a.deps.Cfg.CandleLimit)
	if err != nil {
		logger.Warnf("agent: candles %s: %v", symbol, err)
		return a.deps.Store.Get(symbol, a.deps.Cfg.CandleInterval)
	}
	a.deps.Store.Put(symbol, a.deps.Cfg.CandleInterval, fresh)
	return a.deps.Store.Get(symbol, a.deps.Cfg.CandleInterval)
}
