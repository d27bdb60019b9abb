package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trawler/internal/gateway/exchange"
	"trawler/internal/ledger"
	"trawler/internal/position"
	"trawler/internal/risk"
)

type mockExchange struct{ mock.Mock }

func (m *mockExchange) Name() string { return "mock" }

func (m *mockExchange) AccountState(ctx context.Context) (exchange.AccountState, error) {
	args := m.Called(ctx)
	return args.Get(0).(exchange.AccountState), args.Error(1)
}

func (m *mockExchange) OpenPositions(ctx context.Context) ([]exchange.Position, error) {
	args := m.Called(ctx)
	return args.Get(0).([]exchange.Position), args.Error(1)
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockExchange) PlaceStopOrder(ctx context.Context, req exchange.StopRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return m.Called(ctx, symbol, orderID).Error(0)
}

func (m *mockExchange) GetOrder(ctx context.Context, symbol, orderID string) (exchange.OrderStatus, error) {
	args := m.Called(ctx, symbol, orderID)
	return args.Get(0).(exchange.OrderStatus), args.Error(1)
}

func (m *mockExchange) ClosePosition(ctx context.Context, symbol, side string, qty float64) (string, error) {
	args := m.Called(ctx, symbol, side, qty)
	return args.String(0), args.Error(1)
}

type memTradeLog struct {
	appended []ledger.TradeRecord
	closed   []string
}

func (l *memTradeLog) Append(_ context.Context, rec ledger.TradeRecord, _ ledger.EntryContext) (uint, error) {
	l.appended = append(l.appended, rec)
	return uint(len(l.appended)), nil
}

func (l *memTradeLog) CloseOut(_ context.Context, symbol string, _, _ float64, _ string, _ time.Time) error {
	l.closed = append(l.closed, symbol)
	return nil
}

type memNotifier struct{ alerts []string }

func (n *memNotifier) Alert(text string) error {
	n.alerts = append(n.alerts, text)
	return nil
}

func filledStatus(orderID string, qty, price float64) exchange.OrderStatus {
	return exchange.OrderStatus{OrderID: orderID, Status: "FILLED", FilledQty: qty, AvgPrice: price, IsTerminal: true, IsFilled: true}
}

func newTestExecutor(ex exchange.Exchange) (*Executor, *position.Tracker, *memTradeLog, *memNotifier) {
	tracker := position.NewTracker()
	trades := &memTradeLog{}
	alerts := &memNotifier{}
	e := New(ex, tracker, trades, alerts, Config{StopRetries: 2, ConfirmInterval: time.Millisecond, OrderTimeout: time.Second})
	e.sleep = func(time.Duration) {} // no real backoff in tests
	return e, tracker, trades, alerts
}

func testPlan() *risk.OrderPlan {
	return &risk.OrderPlan{
		Symbol: "BTC/USDT", Direction: exchange.SideLong,
		EntryPrice: 100, Quantity: 50, StopLoss: 98, Strategy: "scalping",
	}
}

func TestExecuteStopSucceedsOnThirdAttempt(t *testing.T) {
	ex := &mockExchange{}
	e, tracker, trades, alerts := newTestExecutor(ex)

	ex.On("PlaceMarketOrder", mock.Anything, mock.Anything).Return("1", nil).Once()
	ex.On("GetOrder", mock.Anything, "BTC/USDT", "1").Return(filledStatus("1", 50, 100.2), nil).Once()
	ex.On("PlaceStopOrder", mock.Anything, mock.Anything).Return("", errors.New("timeout")).Twice()
	ex.On("PlaceStopOrder", mock.Anything, mock.Anything).Return("77", nil).Once()

	fill, err := e.Execute(context.Background(), testPlan(), ledger.EntryContext{})
	require.NoError(t, err)
	assert.True(t, fill.Protected)
	assert.Equal(t, "77", fill.StopOrderID)
	assert.InDelta(t, 100.2, fill.AvgPrice, 1e-9)

	pos, ok := tracker.Get("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, "77", pos.StopOrderID)
	assert.Equal(t, 98.0, pos.StopLoss)

	require.Len(t, trades.appended, 1)
	assert.Empty(t, alerts.alerts)
	ex.AssertExpectations(t)
}

func TestExecuteProtectionGap(t *testing.T) {
	ex := &mockExchange{}
	e, tracker, _, alerts := newTestExecutor(ex)

	ex.On("PlaceMarketOrder", mock.Anything, mock.Anything).Return("1", nil).Once()
	ex.On("GetOrder", mock.Anything, "BTC/USDT", "1").Return(filledStatus("1", 50, 100), nil).Once()
	ex.On("PlaceStopOrder", mock.Anything, mock.Anything).Return("", errors.New("venue down")).Times(3)

	fill, err := e.Execute(context.Background(), testPlan(), ledger.EntryContext{})

	var gap *ProtectionGapError
	require.ErrorAs(t, err, &gap)
	assert.Equal(t, 3, gap.Attempts)
	require.NotNil(t, fill)
	assert.False(t, fill.Protected)

	// Position is tracked despite the gap, with no working stop.
	pos, ok := tracker.Get("BTC/USDT")
	require.True(t, ok)
	assert.Zero(t, pos.StopLoss)
	assert.Empty(t, pos.StopOrderID)

	require.Len(t, alerts.alerts, 1)
	assert.Contains(t, alerts.alerts[0], "UNPROTECTED")
	ex.AssertExpectations(t)
}

func TestExecuteOrderRejected(t *testing.T) {
	ex := &mockExchange{}
	e, tracker, trades, alerts := newTestExecutor(ex)

	ex.On("PlaceMarketOrder", mock.Anything, mock.Anything).Return("1", nil).Once()
	ex.On("GetOrder", mock.Anything, "BTC/USDT", "1").Return(exchange.OrderStatus{
		OrderID: "1", Status: "REJECTED", IsTerminal: true, IsRejected: true,
	}, nil).Once()

	_, err := e.Execute(context.Background(), testPlan(), ledger.EntryContext{})

	var exe *ExecError
	require.ErrorAs(t, err, &exe)
	assert.Equal(t, "confirm", exe.Stage)
	assert.False(t, exe.Ambiguous)
	assert.Zero(t, tracker.Count())
	assert.Empty(t, trades.appended)
	require.Len(t, alerts.alerts, 1)
	assert.Contains(t, alerts.alerts[0], "EXECUTION FAILED")
}

func TestExecuteSubmitRetriesThenFills(t *testing.T) {
	ex := &mockExchange{}
	e, tracker, _, alerts := newTestExecutor(ex)

	ex.On("PlaceMarketOrder", mock.Anything, mock.Anything).Return("", errors.New("socket hang up")).Twice()
	ex.On("PlaceMarketOrder", mock.Anything, mock.Anything).Return("1", nil).Once()
	ex.On("GetOrder", mock.Anything, "BTC/USDT", "1").Return(filledStatus("1", 50, 100), nil).Once()
	ex.On("PlaceStopOrder", mock.Anything, mock.Anything).Return("77", nil).Once()

	fill, err := e.Execute(context.Background(), testPlan(), ledger.EntryContext{})
	require.NoError(t, err)
	assert.True(t, fill.Protected)
	assert.Equal(t, 1, tracker.Count())
	assert.Empty(t, alerts.alerts)
}

func TestExecuteSubmitErrorAlertsAfterRetries(t *testing.T) {
	ex := &mockExchange{}
	e, tracker, _, alerts := newTestExecutor(ex)

	ex.On("PlaceMarketOrder", mock.Anything, mock.Anything).Return("", errors.New("insufficient margin")).Times(3)

	_, err := e.Execute(context.Background(), testPlan(), ledger.EntryContext{})

	var exe *ExecError
	require.ErrorAs(t, err, &exe)
	assert.Equal(t, "submit", exe.Stage)
	assert.False(t, exe.Ambiguous)
	assert.Zero(t, tracker.Count())
	require.Len(t, alerts.alerts, 1)
	assert.Contains(t, alerts.alerts[0], "EXECUTION FAILED")
	assert.Contains(t, alerts.alerts[0], "BTC/USDT")
	ex.AssertExpectations(t)
}

func TestCloseAndRecord(t *testing.T) {
	ex := &mockExchange{}
	e, tracker, trades, _ := newTestExecutor(ex)

	pos := position.Position{
		Symbol: "BTC/USDT", Side: exchange.SideLong,
		EntryPrice: 100, Quantity: 2, StopLoss: 98, StopOrderID: "77", MarkPrice: 104,
	}
	require.NoError(t, tracker.Open(pos))

	ex.On("CancelOrder", mock.Anything, "BTC/USDT", "77").Return(nil).Once()
	ex.On("ClosePosition", mock.Anything, "BTC/USDT", exchange.SideLong, 2.0).Return("9", nil).Once()
	ex.On("GetOrder", mock.Anything, "BTC/USDT", "9").Return(filledStatus("9", 2, 105), nil).Once()

	closed, err := e.CloseAndRecord(context.Background(), pos, "exit signal")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, closed.Realized, 1e-9)
	assert.Zero(t, tracker.Count())
	assert.Equal(t, []string{"BTC/USDT"}, trades.closed)
	ex.AssertExpectations(t)
}

func TestTrailStopTightensOnly(t *testing.T) {
	ex := &mockExchange{}
	tracker := position.NewTracker()
	e := New(ex, tracker, &memTradeLog{}, nil, Config{TrailingEnabled: true, TrailTriggerATR: 1.0})
	e.sleep = func(time.Duration) {}

	pos := position.Position{
		Symbol: "BTC/USDT", Side: exchange.SideLong,
		EntryPrice: 100, Quantity: 2, StopLoss: 97, StopOrderID: "77", MarkPrice: 104,
	}
	require.NoError(t, tracker.Open(pos))

	// 4 above entry with ATR 2: trail to 104-2 = 102.
	ex.On("PlaceStopOrder", mock.Anything, mock.MatchedBy(func(req exchange.StopRequest) bool {
		return req.StopPrice == 102.0
	})).Return("88", nil).Once()
	ex.On("CancelOrder", mock.Anything, "BTC/USDT", "77").Return(nil).Once()

	require.NoError(t, e.MaybeTrailStop(context.Background(), pos, 2.0))
	got, _ := tracker.Get("BTC/USDT")
	assert.Equal(t, 102.0, got.StopLoss)
	assert.Equal(t, "88", got.StopOrderID)

	// Price falls back: proposed stop would loosen, so nothing happens.
	got.MarkPrice = 102.5
	require.NoError(t, e.MaybeTrailStop(context.Background(), got, 2.0))
	after, _ := tracker.Get("BTC/USDT")
	assert.Equal(t, 102.0, after.StopLoss)
	ex.AssertExpectations(t)
}

func TestTrailStopBelowTriggerDoesNothing(t *testing.T) {
	ex := &mockExchange{}
	tracker := position.NewTracker()
	e := New(ex, tracker, &memTradeLog{}, nil, Config{TrailingEnabled: true, TrailTriggerATR: 1.0})

	pos := position.Position{
		Symbol: "BTC/USDT", Side: exchange.SideLong,
		EntryPrice: 100, Quantity: 2, StopLoss: 97, MarkPrice: 101,
	}
	require.NoError(t, tracker.Open(pos))

	// Only 1 above entry with ATR 2: below the trigger, no venue calls.
	require.NoError(t, e.MaybeTrailStop(context.Background(), pos, 2.0))
	ex.AssertExpectations(t)
}
