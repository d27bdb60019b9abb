package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	// One database file per test; shared in-memory DSNs leak across tests.
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ledger.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	l, err := OpenFromDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAndCloseOut(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	id, err := l.Append(ctx, TradeRecord{
		Symbol: "BTC/USDT", Side: "long", Strategy: "scalping",
		Quantity: 2, EntryPrice: 100, StopLoss: 97,
		OpenedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}, EntryContext{Confidence: 0.8, Indicators: map[string]float64{"rsi": 28}})
	require.NoError(t, err)
	assert.NotZero(t, id)

	open, err := l.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Contains(t, string(open[0].Context), `"rsi":28`)

	closedAt := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, l.CloseOut(ctx, "BTC/USDT", 105, 10, "take profit", closedAt))

	open, err = l.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	recent, err := l.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 10.0, recent[0].Realized)
	assert.Equal(t, "take profit", recent[0].ExitReason)
}

func TestCloseOutUnknownSymbol(t *testing.T) {
	l := openTestLedger(t)
	err := l.CloseOut(context.Background(), "SOL/USDT", 30, 0, "exit", time.Now())
	require.Error(t, err)
}

func TestDailyAggregate(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	seed := func(sym string, realized float64, at time.Time) {
		_, err := l.Append(ctx, TradeRecord{Symbol: sym, Side: "long", Quantity: 1, EntryPrice: 100, OpenedAt: at.Add(-time.Hour)}, EntryContext{})
		require.NoError(t, err)
		require.NoError(t, l.CloseOut(ctx, sym, 100+realized, realized, "exit", at))
	}

	// Yesterday's loss must not bleed into today's aggregate.
	seed("OLD/USDT", -500, day.Add(-2*time.Hour))
	seed("A/USDT", 40, day.Add(1*time.Hour))
	seed("B/USDT", -30, day.Add(2*time.Hour))
	seed("C/USDT", -20, day.Add(3*time.Hour))

	agg, err := l.DailyAggregate(ctx, day)
	require.NoError(t, err)
	assert.InDelta(t, -10.0, agg.Realized, 1e-9)
	// Two losing closes at the tail of the day.
	assert.Equal(t, 2, agg.ConsecutiveLosses)
}

func TestDailyAggregateStreakResetsOnWin(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	seed := func(sym string, realized float64, at time.Time) {
		_, err := l.Append(ctx, TradeRecord{Symbol: sym, Side: "long", Quantity: 1, EntryPrice: 100, OpenedAt: at.Add(-time.Hour)}, EntryContext{})
		require.NoError(t, err)
		require.NoError(t, l.CloseOut(ctx, sym, 100+realized, realized, "exit", at))
	}

	seed("A/USDT", -10, day.Add(1*time.Hour))
	seed("B/USDT", -10, day.Add(2*time.Hour))
	seed("C/USDT", 25, day.Add(3*time.Hour))

	agg, err := l.DailyAggregate(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 0, agg.ConsecutiveLosses)
}

func TestCompactPrunesOldClosedTrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	seed := func(sym string, closedAt time.Time) {
		_, aerr := l.Append(ctx, TradeRecord{Symbol: sym, Side: "long", Quantity: 1, EntryPrice: 100, OpenedAt: closedAt.Add(-time.Hour)}, EntryContext{})
		require.NoError(t, aerr)
		require.NoError(t, l.CloseOut(ctx, sym, 101, 1, "exit", closedAt))
	}

	seed("OLD/USDT", time.Now().UTC().Add(-60*24*time.Hour))
	seed("NEW/USDT", time.Now().UTC().Add(-time.Hour))
	_, err = l.Append(ctx, TradeRecord{Symbol: "LIVE/USDT", Side: "long", Quantity: 1, EntryPrice: 100, OpenedAt: time.Now().UTC().Add(-90 * 24 * time.Hour)}, EntryContext{})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	require.NoError(t, Compact(ctx, path, 30*24*time.Hour))

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	recent, err := l.RecentTrades(ctx, 10)
	require.NoError(t, err)
	symbols := make([]string, 0, len(recent))
	for _, r := range recent {
		symbols = append(symbols, r.Symbol)
	}
	assert.NotContains(t, symbols, "OLD/USDT")
	assert.Contains(t, symbols, "NEW/USDT")

	// Open trades survive pruning no matter how old.
	open, err := l.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "LIVE/USDT", open[0].Symbol)
}
