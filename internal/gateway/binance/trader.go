package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stratus/internal/gateway/exchange"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// Binance error code for ReduceOnly orders rejected because the position is
// already flat.
const codeReduceOnlyRejected = -2022

// Trader implements exchange.Exchange with market orders on USDT-M futures.
type Trader struct {
	cfg    Config
	client *futures.Client
}

func NewTrader(cfg Config) (*Trader, error) {
	final := cfg.withDefaults()
	if final.APIKey == "" || final.APISecret == "" {
		return nil, fmt.Errorf("binance trader requires api key and secret")
	}
	src, err := NewSource(final)
	if err != nil {
		return nil, err
	}
	return &Trader{cfg: final, client: src.client}, nil
}

func (t *Trader) Name() string { return "binance-futures" }

func (t *Trader) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	symbol := cleanSymbol(req.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	side, err := orderSide(req.Side)
	if err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %v", req.Quantity)
	}
	qty := decimal.NewFromFloat(req.Quantity).String()

	svc := t.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeReduceOnlyRejected {
			return nil, exchange.ErrNoPositionToClose
		}
		return nil, fmt.Errorf("place %s %s order: %w", req.Side, symbol, err)
	}
	return &exchange.OrderResult{
		OrderID:      fmt.Sprintf("%d", res.OrderID),
		AvgFillPrice: parseFloat(res.AvgPrice),
		ExecutedQty:  parseFloat(res.ExecutedQuantity),
	}, nil
}

func (t *Trader) RecentTrades(ctx context.Context, symbol string, since time.Time) ([]exchange.Trade, error) {
	symbol = cleanSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	svc := t.client.NewListAccountTradeService().Symbol(symbol)
	if !since.IsZero() {
		svc = svc.StartTime(since.UnixMilli())
	}
	fills, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trades %s: %w", symbol, err)
	}
	out := make([]exchange.Trade, 0, len(fills))
	for _, f := range fills {
		if f == nil {
			continue
		}
		realized := parseFloat(f.RealizedPnl)
		out = append(out, exchange.Trade{
			Timestamp: time.UnixMilli(f.Time),
			Price:     parseFloat(f.Price),
			Quantity:  parseFloat(f.Quantity),
			Side:      strings.ToLower(string(f.Side)),
			// Opening fills realize nothing; any realized pnl means this
			// fill reduced an existing position.
			IsClose:     realized != 0,
			RealizedPnL: realized,
			OrderID:     fmt.Sprintf("%d", f.OrderID),
		})
	}
	return out, nil
}

func (t *Trader) Balance(ctx context.Context) (float64, error) {
	balances, err := t.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}
	for _, b := range balances {
		if b == nil {
			continue
		}
		if strings.EqualFold(b.Asset, "USDT") {
			return parseFloat(b.Balance), nil
		}
	}
	return 0, fmt.Errorf("no USDT balance in account")
}

func orderSide(side string) (futures.SideType, error) {
	switch strings.ToLower(strings.TrimSpace(side)) {
	case "buy":
		return futures.SideTypeBuy, nil
	case "sell":
		return futures.SideTypeSell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", side)
	}
}
