package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trawler/internal/gateway/exchange"
)

func newTestTracker() *Tracker {
	t := NewTracker()
	t.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return t
}

func TestOpenCloseReopen(t *testing.T) {
	tr := newTestTracker()

	require.NoError(t, tr.Open(Position{Symbol: "BTC/USDT", Side: exchange.SideLong, EntryPrice: 100, Quantity: 2, StopLoss: 97}))
	assert.True(t, tr.Has("BTC/USDT"))
	assert.Equal(t, 1, tr.Count())

	closed, ok := tr.Close("BTC/USDT", 110, "take profit")
	require.True(t, ok)
	assert.Equal(t, 20.0, closed.Realized)
	assert.False(t, tr.Has("BTC/USDT"))

	// The slot is free again immediately after close.
	require.NoError(t, tr.Open(Position{Symbol: "BTC/USDT", Side: exchange.SideShort, EntryPrice: 110, Quantity: 1, StopLoss: 113}))
	assert.Equal(t, 1, tr.Count())
}

func TestOpenDuplicateRejected(t *testing.T) {
	tr := newTestTracker()

	require.NoError(t, tr.Open(Position{Symbol: "ETH/USDT", Side: exchange.SideLong, EntryPrice: 50, Quantity: 4}))
	err := tr.Open(Position{Symbol: "ETH/USDT", Side: exchange.SideLong, EntryPrice: 51, Quantity: 4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	// Original position untouched.
	p, ok := tr.Get("ETH/USDT")
	require.True(t, ok)
	assert.Equal(t, 50.0, p.EntryPrice)
}

func TestCloseUnknownIsIdempotent(t *testing.T) {
	tr := newTestTracker()

	_, ok := tr.Close("SOL/USDT", 30, "stop filled")
	assert.False(t, ok)
	// Nothing else changed.
	assert.Equal(t, 0, tr.Count())
}

func TestShortPnL(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Open(Position{Symbol: "XRP/USDT", Side: exchange.SideShort, EntryPrice: 2.0, Quantity: 100}))

	closed, ok := tr.Close("XRP/USDT", 1.5, "exit signal")
	require.True(t, ok)
	assert.InDelta(t, 50.0, closed.Realized, 1e-9)
}

func TestMarkToMarketAndDeployed(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Open(Position{Symbol: "BTC/USDT", Side: exchange.SideLong, EntryPrice: 100, Quantity: 2}))
	require.NoError(t, tr.Open(Position{Symbol: "ETH/USDT", Side: exchange.SideShort, EntryPrice: 50, Quantity: 10}))

	assert.Equal(t, 700.0, tr.Deployed())

	tr.MarkToMarket(map[string]float64{"BTC/USDT": 105, "ETH/USDT": 48})

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	// Sorted by symbol.
	assert.Equal(t, "BTC/USDT", snap[0].Symbol)
	assert.Equal(t, 10.0, snap[0].Unrealized)
	assert.Equal(t, "ETH/USDT", snap[1].Symbol)
	assert.Equal(t, 20.0, snap[1].Unrealized)
}

func TestReconcileTrustsGateway(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Open(Position{Symbol: "BTC/USDT", Side: exchange.SideLong, EntryPrice: 100, Quantity: 2, MarkPrice: 104}))
	require.NoError(t, tr.Open(Position{Symbol: "ETH/USDT", Side: exchange.SideLong, EntryPrice: 50, Quantity: 10}))

	dropped, adopted := tr.Reconcile([]exchange.Position{
		{Symbol: "ETH/USDT", Side: exchange.SideLong, Quantity: 8, EntryPrice: 50, MarkPrice: 52, Unrealized: 16},
		{Symbol: "SOL/USDT", Side: exchange.SideShort, Quantity: 5, EntryPrice: 30, MarkPrice: 29, Unrealized: 5},
	})

	// BTC vanished upstream: dropped at last mark.
	require.Len(t, dropped, 1)
	assert.Equal(t, "BTC/USDT", dropped[0].Symbol)
	assert.Equal(t, 104.0, dropped[0].ExitPrice)
	assert.Equal(t, 8.0, dropped[0].Realized)

	// SOL unknown locally: adopted without a stop.
	require.Len(t, adopted, 1)
	assert.Equal(t, "SOL/USDT", adopted[0].Symbol)
	assert.Zero(t, adopted[0].StopLoss)

	// ETH quantity corrected to the gateway's number.
	eth, ok := tr.Get("ETH/USDT")
	require.True(t, ok)
	assert.Equal(t, 8.0, eth.Quantity)
	assert.Equal(t, 52.0, eth.MarkPrice)
	assert.Equal(t, 2, tr.Count())
}
