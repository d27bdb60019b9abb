package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trawler/internal/config"
	"trawler/internal/executor"
	"trawler/internal/gateway/exchange"
	"trawler/internal/indicator"
	"trawler/internal/ledger"
	"trawler/internal/market"
	"trawler/internal/position"
	"trawler/internal/risk"
	"trawler/internal/scanner"
	"trawler/internal/sentiment"
	"trawler/internal/strategy"
)

// fakeExchange is a minimal scripted venue: orders always fill at the
// given price.
type fakeExchange struct {
	mu        sync.Mutex
	account   exchange.AccountState
	positions []exchange.Position
	fillPrice float64
	nextID    int
	markets   int // market orders placed
	stops     int // stop orders placed
	accountErr error
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) AccountState(context.Context) (exchange.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return exchange.AccountState{}, f.accountErr
	}
	return f.account, nil
}

func (f *fakeExchange) OpenPositions(context.Context) ([]exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.Position(nil), f.positions...), nil
}

func (f *fakeExchange) PlaceMarketOrder(_ context.Context, req exchange.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.markets++
	return fmt.Sprintf("%d", f.nextID), nil
}

func (f *fakeExchange) PlaceStopOrder(_ context.Context, req exchange.StopRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.stops++
	return fmt.Sprintf("%d", f.nextID), nil
}

func (f *fakeExchange) CancelOrder(context.Context, string, string) error { return nil }

func (f *fakeExchange) GetOrder(_ context.Context, _ string, orderID string) (exchange.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return exchange.OrderStatus{
		OrderID: orderID, Status: "FILLED", FilledQty: 1,
		AvgPrice: f.fillPrice, IsTerminal: true, IsFilled: true,
	}, nil
}

func (f *fakeExchange) ClosePosition(context.Context, string, string, float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("%d", f.nextID), nil
}

// fakeSource serves the same synthetic candle history for every symbol.
type fakeSource struct {
	candles []market.Candle
	price   float64
}

func (s *fakeSource) Candles(context.Context, string, string, int) ([]market.Candle, error) {
	return append([]market.Candle(nil), s.candles...), nil
}

func (s *fakeSource) Quote(_ context.Context, symbol string) (market.Quote, error) {
	return market.Quote{Symbol: symbol, Price: s.price}, nil
}

func (s *fakeSource) TickerStats(context.Context) ([]market.TickerStats, error) {
	return nil, nil
}

// scriptedStrategy signals on the symbols it is told to; everything it
// evaluates is recorded.
type scriptedStrategy struct {
	mu        sync.Mutex
	signalFor map[string]strategy.Signal
	evaluated []string
}

func (s *scriptedStrategy) Name() string               { return "scripted" }
func (s *scriptedStrategy) Periods() indicator.Periods { return indicator.Periods{ATR: 3} }

func (s *scriptedStrategy) Evaluate(in strategy.Input) (*strategy.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluated = append(s.evaluated, in.Symbol)
	if sig, ok := s.signalFor[in.Symbol]; ok {
		return &sig, nil
	}
	return nil, nil
}

func (s *scriptedStrategy) ShouldExit(strategy.ExitInput) (bool, string) { return false, "" }

func (s *scriptedStrategy) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.evaluated...)
}

type stubTrades struct {
	mu     sync.Mutex
	agg    risk.DailyAggregate
	closed []string
}

func (s *stubTrades) DailyAggregate(context.Context, time.Time) (risk.DailyAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg, nil
}

func (s *stubTrades) CloseOut(_ context.Context, symbol string, _, _ float64, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, symbol)
	return nil
}

// ledgerAdapter lets the executor write to the same stub.
type ledgerAdapter struct{ *stubTrades }

func (l ledgerAdapter) Append(context.Context, ledger.TradeRecord, ledger.EntryContext) (uint, error) {
	return 1, nil
}

// slowScanner blocks until its context dies, then reports unavailable.
type slowScanner struct{}

func (slowScanner) Name() string { return "slow" }

func (slowScanner) Scan(ctx context.Context) ([]scanner.Candidate, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %v", scanner.ErrSourceUnavailable, ctx.Err())
}

type listScanner struct {
	name  string
	items []scanner.Candidate
}

func (s listScanner) Name() string                                    { return s.name }
func (s listScanner) Scan(context.Context) ([]scanner.Candidate, error) { return s.items, nil }

func testCandles(n int, price float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i+1)*60_000 - 1,
			Open:      price, High: price + 1, Low: price - 1, Close: price,
			Volume: 100,
		}
	}
	return out
}

type harness struct {
	agent    *Agent
	exchange *fakeExchange
	strat    *scriptedStrategy
	trades   *stubTrades
	tracker  *position.Tracker
}

func newHarness(t *testing.T, scanners []scanner.Scanner, mutate func(*Deps)) *harness {
	t.Helper()
	ex := &fakeExchange{
		account:   exchange.AccountState{Equity: 10000, BuyingPower: 20000},
		fillPrice: 100,
	}
	strat := &scriptedStrategy{signalFor: map[string]strategy.Signal{}}
	trades := &stubTrades{}
	tracker := position.NewTracker()
	exec := executor.New(ex, tracker, ledgerAdapter{trades}, nil, executor.Config{
		ConfirmInterval: time.Millisecond,
		OrderTimeout:    time.Second,
	})
	deps := Deps{
		Exchange: ex,
		Market:   &fakeSource{candles: testCandles(30, 100), price: 100},
		Store:    market.NewStore(0),
		Scanners: scanners,
		Gate:     sentiment.Gate{},
		Strategy: strat,
		Risk: risk.NewManager(risk.Config{
			RiskPerTradePct: 1.0, MaxOpenTrades: 3, DailyLossLimitPct: 3.0,
			MinQuantity: 0.001, AllowShort: true,
		}),
		Executor: exec,
		Tracker:  tracker,
		Trades:   trades,
		Cfg: config.AgentConfig{
			Interval: "1m", CandleInterval: "1m", CandleLimit: 30,
			MaxOpensPerCycle: 2, ScanTimeout: 50 * time.Millisecond,
			EvalTimeout:     5 * time.Second,
			FallbackSymbols: []string{"BTC/USDT", "ETH/USDT"},
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	a, err := New(deps)
	require.NoError(t, err)
	return &harness{agent: a, exchange: ex, strat: strat, trades: trades, tracker: tracker}
}

func TestCycleSurvivesScannerTimeout(t *testing.T) {
	h := newHarness(t, []scanner.Scanner{slowScanner{}}, nil)
	h.agent.state = StateRunning

	done := make(chan struct{})
	go func() {
		h.agent.runCycle(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("cycle did not complete after scanner timeout")
	}

	st := h.agent.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.False(t, st.LastCycleFaulted)
	assert.Equal(t, uint64(1), st.CycleCount)
	// The fallback symbols were still evaluated.
	assert.ElementsMatch(t, []string{"BTC/USDT", "ETH/USDT"}, h.strat.seen())
}

func TestCycleOpensApprovedSignal(t *testing.T) {
	h := newHarness(t, []scanner.Scanner{listScanner{
		name:  "list",
		items: []scanner.Candidate{{Symbol: "BTC/USDT", Source: "list", Score: 1}},
	}}, nil)
	h.agent.state = StateRunning
	h.strat.signalFor["BTC/USDT"] = strategy.Signal{
		Symbol: "BTC/USDT", Direction: strategy.DirectionLong, StopLoss: 98, Strategy: "scripted",
	}

	events, cancelSub := h.agent.Events().Subscribe()
	defer cancelSub()

	h.agent.runCycle(context.Background())

	pos, ok := h.tracker.Get("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, strategy.DirectionLong, pos.Side)
	assert.NotEmpty(t, pos.StopOrderID)
	assert.Equal(t, 1, h.exchange.markets)
	assert.Equal(t, 1, h.exchange.stops)

	var opened bool
	for len(events) > 0 {
		if evt := <-events; evt.Type == EventOpened {
			opened = true
		}
	}
	assert.True(t, opened)
}

func TestMaxOpensPerCycle(t *testing.T) {
	cands := []scanner.Candidate{
		{Symbol: "A/USDT", Score: 3}, {Symbol: "B/USDT", Score: 2}, {Symbol: "C/USDT", Score: 1},
	}
	h := newHarness(t, []scanner.Scanner{listScanner{name: "list", items: cands}}, func(d *Deps) {
		d.Cfg.MaxOpensPerCycle = 1
	})
	h.agent.state = StateRunning
	for _, c := range cands {
		h.strat.signalFor[c.Symbol] = strategy.Signal{
			Symbol: c.Symbol, Direction: strategy.DirectionLong, StopLoss: 98, Strategy: "scripted",
		}
	}

	h.agent.runCycle(context.Background())

	assert.Equal(t, 1, h.tracker.Count())
	// Highest score wins the single slot.
	assert.True(t, h.tracker.Has("A/USDT"))
}

func TestDailyLossHaltBlocksEntries(t *testing.T) {
	h := newHarness(t, []scanner.Scanner{listScanner{
		name:  "list",
		items: []scanner.Candidate{{Symbol: "BTC/USDT", Score: 1}},
	}}, nil)
	h.agent.state = StateRunning
	h.trades.agg = risk.DailyAggregate{Realized: -400} // past the 3% of 10000 cap
	h.strat.signalFor["BTC/USDT"] = strategy.Signal{
		Symbol: "BTC/USDT", Direction: strategy.DirectionLong, StopLoss: 98, Strategy: "scripted",
	}

	h.agent.runCycle(context.Background())

	assert.Zero(t, h.tracker.Count())
	assert.Zero(t, h.exchange.markets)
	// The cycle itself is healthy; refusing to trade is not a fault.
	assert.False(t, h.agent.Status().LastCycleFaulted)
}

func TestAccountFailureFaultsCycle(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.agent.state = StateRunning
	h.exchange.accountErr = fmt.Errorf("venue 503")

	h.agent.runCycle(context.Background())

	st := h.agent.Status()
	assert.Equal(t, StateFaulted, st.State)
	assert.True(t, st.LastCycleFaulted)
	assert.Contains(t, st.LastError, "503")

	// A clean cycle returns the agent to running.
	h.exchange.mu.Lock()
	h.exchange.accountErr = nil
	h.exchange.mu.Unlock()
	h.agent.runCycle(context.Background())
	assert.Equal(t, StateRunning, h.agent.Status().State)
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- h.agent.Run(ctx) }()

	require.NoError(t, h.agent.Start(ctx))
	assert.Equal(t, StateRunning, h.agent.Status().State)

	// Starting twice is refused.
	require.Error(t, h.agent.Start(ctx))

	require.NoError(t, h.agent.Stop(ctx))
	assert.Equal(t, StateStopped, h.agent.Status().State)

	// Stopping again is refused.
	require.Error(t, h.agent.Stop(ctx))

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit")
	}
}

func TestApplyProfileKeepsOpenStops(t *testing.T) {
	h := newHarness(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.agent.Run(ctx) }()

	require.NoError(t, h.tracker.Open(position.Position{
		Symbol: "BTC/USDT", Side: exchange.SideLong,
		EntryPrice: 100, Quantity: 1, StopLoss: 97, StopOrderID: "77",
	}))

	require.NoError(t, h.agent.ApplyProfile(ctx, strategy.Spec{Name: "pullback"}, 2))

	st := h.agent.Status()
	assert.Equal(t, "pullback", st.Strategy)
	assert.Equal(t, int64(2), st.ProfileVersion)

	pos, _ := h.tracker.Get("BTC/USDT")
	assert.Equal(t, 97.0, pos.StopLoss)
	assert.Equal(t, "77", pos.StopOrderID)

	// A bad profile is rejected and the old strategy stays.
	require.Error(t, h.agent.ApplyProfile(ctx, strategy.Spec{Name: "nope"}, 3))
	assert.Equal(t, "pullback", h.agent.Status().Strategy)
}
