package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stacker/internal/domain"
)

const simOrderPrefix = "SIM-"

// SimulatedGateway fills every order instantly against real public market
// data. Balances are synthesized from the configured capital; no private
// network call is ever made.
type SimulatedGateway struct {
	market MarketData
	logger *zap.Logger

	mu     sync.RWMutex
	wallet map[string]decimal.Decimal
	orders map[string]string

	quote        string
	qtyPrecision int32
}

// NewSimulatedGateway creates a simulated gateway holding the configured
// capital in the quote currency.
func NewSimulatedGateway(market MarketData, quote string, capital decimal.Decimal, qtyPrecision int32, logger *zap.Logger) *SimulatedGateway {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SimulatedGateway{
		market:       market,
		logger:       logger,
		wallet:       map[string]decimal.Decimal{quote: capital},
		orders:       make(map[string]string),
		quote:        quote,
		qtyPrecision: qtyPrecision,
	}
}

// GetPrice returns the current price for a symbol from public market data.
func (g *SimulatedGateway) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return g.market.GetPrice(ctx, symbol)
}

// GetCandles fetches recent candles from public market data.
func (g *SimulatedGateway) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.MarketCandle, error) {
	return g.market.GetCandles(ctx, symbol, timeframe, limit)
}

// GetBalances returns a copy of the synthesized wallet.
func (g *SimulatedGateway) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	balances := make(map[string]decimal.Decimal, len(g.wallet))
	for asset, amount := range g.wallet {
		balances[asset] = amount
	}
	return balances, nil
}

// PlaceMarketBuy fills a buy instantly at the last fetched price.
func (g *SimulatedGateway) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*OrderResult, error) {
	if quoteAmount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Wrapf(ErrOrderRejected, "buy amount must be positive, got %s", quoteAmount.String())
	}

	price, err := g.market.GetPrice(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to price simulated buy for %s", symbol)
	}

	quantity := quoteAmount.Div(price).RoundFloor(g.qtyPrecision)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Wrapf(ErrOrderRejected, "quote amount %s converts to zero quantity", quoteAmount.String())
	}

	base := g.baseAsset(symbol)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.wallet[g.quote].LessThan(quoteAmount) {
		return nil, errors.Wrapf(ErrOrderRejected, "insufficient %s balance: have %s need %s",
			g.quote, g.wallet[g.quote].String(), quoteAmount.String())
	}

	g.wallet[g.quote] = g.wallet[g.quote].Sub(quoteAmount)
	g.wallet[base] = g.wallet[base].Add(quantity)

	orderID := simOrderPrefix + uuid.NewString()
	g.orders[orderID] = "FILLED"

	g.logger.Info("simulated buy filled",
		zap.String("symbol", symbol),
		zap.String("quote_amount", quoteAmount.String()),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()))

	return &OrderResult{
		OrderID:     orderID,
		ExecutedQty: quantity,
		FillPrice:   price,
		Simulated:   true,
	}, nil
}

// PlaceMarketSell fills a sell instantly at the last fetched price.
func (g *SimulatedGateway) PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal) (*OrderResult, error) {
	quantity = quantity.RoundFloor(g.qtyPrecision)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Wrap(ErrOrderRejected, "sell quantity rounds to zero")
	}

	price, err := g.market.GetPrice(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to price simulated sell for %s", symbol)
	}

	base := g.baseAsset(symbol)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.wallet[base].LessThan(quantity) {
		return nil, errors.Wrapf(ErrOrderRejected, "insufficient %s balance: have %s need %s",
			base, g.wallet[base].String(), quantity.String())
	}

	g.wallet[base] = g.wallet[base].Sub(quantity)
	g.wallet[g.quote] = g.wallet[g.quote].Add(quantity.Mul(price))

	orderID := simOrderPrefix + uuid.NewString()
	g.orders[orderID] = "FILLED"

	g.logger.Info("simulated sell filled",
		zap.String("symbol", symbol),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()))

	return &OrderResult{
		OrderID:     orderID,
		ExecutedQty: quantity,
		FillPrice:   price,
		Simulated:   true,
	}, nil
}

// GetOrderStatus reports the status of a simulated order.
func (g *SimulatedGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if status, ok := g.orders[orderID]; ok {
		return status, nil
	}
	// simulated orders fill instantly, unknown ids are treated as filled
	return "FILLED", nil
}

// CancelOrder marks a simulated order cancelled.
func (g *SimulatedGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.orders[orderID] = "CANCELED"
	return nil
}

func (g *SimulatedGateway) baseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, g.quote)
}
