package exchange

import "context"

// Exchange is the order/account boundary of the trading venue. Every call
// carries a context; implementations must honor its deadline so that a slow
// venue can never wedge an agent cycle.
type Exchange interface {
	Name() string

	AccountState(ctx context.Context) (AccountState, error)

	OpenPositions(ctx context.Context) ([]Position, error)

	// PlaceMarketOrder submits a market order and returns the venue order id.
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (string, error)

	// PlaceStopOrder submits a reduce-only stop-market order protecting an
	// open position.
	PlaceStopOrder(ctx context.Context, req StopRequest) (string, error)

	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOrder returns the current state of a previously submitted order.
	GetOrder(ctx context.Context, symbol, orderID string) (OrderStatus, error)

	// ClosePosition closes the full open position on symbol at market.
	ClosePosition(ctx context.Context, symbol, side string, qty float64) (string, error)
}
