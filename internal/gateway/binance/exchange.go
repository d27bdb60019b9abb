package binance

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"trawler/internal/gateway/exchange"
	symbolpkg "trawler/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

func (g *Gateway) AccountState(ctx context.Context) (exchange.AccountState, error) {
	acct, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.AccountState{}, err
	}
	return exchange.AccountState{
		Equity:      parseFloat(acct.TotalMarginBalance),
		BuyingPower: parseFloat(acct.AvailableBalance),
		Currency:    g.cfg.QuoteAsset,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

func (g *Gateway) OpenPositions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := exchange.SideLong
		if amt < 0 {
			side = exchange.SideShort
		}
		out = append(out, exchange.Position{
			Symbol:     symbolpkg.Normalize(r.Symbol),
			Side:       side,
			Quantity:   math.Abs(amt),
			EntryPrice: parseFloat(r.EntryPrice),
			MarkPrice:  parseFloat(r.MarkPrice),
			Unrealized: parseFloat(r.UnRealizedProfit),
		})
	}
	return out, nil
}

func (g *Gateway) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	svc := g.client.NewCreateOrderService().
		Symbol(symbolpkg.ToExchange(req.Symbol)).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(req.Quantity))
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

func (g *Gateway) PlaceStopOrder(ctx context.Context, req exchange.StopRequest) (string, error) {
	svc := g.client.NewCreateOrderService().
		Symbol(symbolpkg.ToExchange(req.Symbol)).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatPrice(req.StopPrice)).
		Quantity(formatQty(req.Quantity)).
		ReduceOnly(true)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	_, err = g.client.NewCancelOrderService().
		Symbol(symbolpkg.ToExchange(symbol)).
		OrderID(id).
		Do(ctx)
	return err
}

func (g *Gateway) GetOrder(ctx context.Context, symbol, orderID string) (exchange.OrderStatus, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.OrderStatus{}, fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	ord, err := g.client.NewGetOrderService().
		Symbol(symbolpkg.ToExchange(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return exchange.OrderStatus{}, err
	}
	status := string(ord.Status)
	return exchange.OrderStatus{
		OrderID:    orderID,
		Symbol:     symbolpkg.Normalize(ord.Symbol),
		Status:     status,
		FilledQty:  parseFloat(ord.ExecutedQuantity),
		AvgPrice:   parseFloat(ord.AvgPrice),
		UpdatedAt:  time.UnixMilli(ord.UpdateTime),
		IsTerminal: isTerminal(ord.Status),
		IsFilled:   ord.Status == futures.OrderStatusTypeFilled,
		IsRejected: ord.Status == futures.OrderStatusTypeRejected || ord.Status == futures.OrderStatusTypeExpired,
	}, nil
}

func (g *Gateway) ClosePosition(ctx context.Context, symbol, side string, qty float64) (string, error) {
	resp, err := g.client.NewCreateOrderService().
		Symbol(symbolpkg.ToExchange(symbol)).
		Side(futures.SideType(exchange.ExitSide(side))).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(qty)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

func isTerminal(s futures.OrderStatusType) bool {
	switch s {
	case futures.OrderStatusTypeFilled, futures.OrderStatusTypeCanceled,
		futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
		return true
	}
	return false
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
