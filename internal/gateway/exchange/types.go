package exchange

import "time"

// Side of an order or position.
const (
	SideLong  = "long"
	SideShort = "short"
)

// EntrySide maps a position side to the order side opening it.
func EntrySide(side string) string {
	if side == SideShort {
		return "SELL"
	}
	return "BUY"
}

// ExitSide maps a position side to the order side closing it.
func ExitSide(side string) string {
	if side == SideShort {
		return "BUY"
	}
	return "SELL"
}

// AccountState is the venue's view of the account.
type AccountState struct {
	Equity      float64   `json:"equity"`
	BuyingPower float64   `json:"buying_power"`
	Currency    string    `json:"currency"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Position is the venue's view of an open position. The position tracker
// treats this as the source of truth during reconciliation.
type Position struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	MarkPrice  float64 `json:"mark_price"`
	Unrealized float64 `json:"unrealized"`
}

// OrderRequest describes a market entry order.
type OrderRequest struct {
	Symbol        string
	Side          string // BUY / SELL
	Quantity      float64
	ClientOrderID string
}

// StopRequest describes a protective stop-market order.
type StopRequest struct {
	Symbol        string
	Side          string // order side that closes the position
	Quantity      float64
	StopPrice     float64
	ClientOrderID string
}

// OrderStatus reports what actually happened to a submitted order.
type OrderStatus struct {
	OrderID     string
	Symbol      string
	Status      string // NEW / FILLED / PARTIALLY_FILLED / CANCELED / REJECTED / EXPIRED
	FilledQty   float64
	AvgPrice    float64
	UpdatedAt   time.Time
	IsTerminal  bool
	IsFilled    bool
	IsRejected  bool
	RawResponse string
}
