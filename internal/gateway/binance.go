package gateway

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/pkg/ratelimit"
	"github.com/vadiminshakov/stacker/pkg/retrier"
)

const testnetBaseURL = "https://testnet.binance.vision"

// BinanceGateway talks to a real Binance venue. The sandboxed mode differs
// from production only in credentials and base URL; the call contract is the
// same.
type BinanceGateway struct {
	market  *BinanceMarketData
	client  *binance.Client
	limiter *ratelimit.Limiter
	retrier *retrier.Retrier
	logger  *zap.Logger

	qtyPrecision int32
}

// NewBinanceGateway creates a gateway against the production venue, or the
// testnet when sandbox is set.
func NewBinanceGateway(apiKey, apiSecret string, sandbox bool, qtyPrecision int32,
	limiter *ratelimit.Limiter, retr *retrier.Retrier, logger *zap.Logger) *BinanceGateway {

	if logger == nil {
		logger = zap.NewNop()
	}

	client := binance.NewClient(apiKey, apiSecret)
	if sandbox {
		client.BaseURL = testnetBaseURL
	}

	return &BinanceGateway{
		market:       NewBinanceMarketData(client, limiter, retr),
		client:       client,
		limiter:      limiter,
		retrier:      retr,
		logger:       logger,
		qtyPrecision: qtyPrecision,
	}
}

// GetPrice returns the current price for a symbol.
func (g *BinanceGateway) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return g.market.GetPrice(ctx, symbol)
}

// GetCandles fetches recent klines for a symbol.
func (g *BinanceGateway) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.MarketCandle, error) {
	return g.market.GetCandles(ctx, symbol, timeframe, limit)
}

// GetBalances returns all non-zero free balances of the account.
func (g *BinanceGateway) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	account, err := retrier.DoWithData(g.retrier, ctx, func(ctx context.Context) (*binance.Account, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return g.client.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch account balances")
	}

	balances := make(map[string]decimal.Decimal)
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s balance", b.Asset)
		}
		if free.GreaterThan(decimal.Zero) {
			balances[b.Asset] = free
		}
	}

	return balances, nil
}

// PlaceMarketBuy converts a quote amount into a base quantity at the current
// price, floors it to the venue precision and submits a market buy.
func (g *BinanceGateway) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*OrderResult, error) {
	price, err := g.GetPrice(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to price market buy for %s", symbol)
	}

	quantity := quoteAmount.Div(price).RoundFloor(g.qtyPrecision)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Wrapf(ErrOrderRejected, "quote amount %s converts to zero quantity at price %s",
			quoteAmount.String(), price.String())
	}

	clientOrderID := uuid.NewString()

	g.logger.Info("placing market buy",
		zap.String("symbol", symbol),
		zap.String("quote_amount", quoteAmount.String()),
		zap.String("quantity", quantity.String()))

	order, err := retrier.DoWithData(g.retrier, ctx, func(ctx context.Context) (*binance.CreateOrderResponse, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		// a submission already on the wire must run to completion even if
		// the caller shuts down; only waits are cancellable
		return g.client.NewCreateOrderService().
			Symbol(symbol).
			Side(binance.SideTypeBuy).
			Type(binance.OrderTypeMarket).
			Quantity(quantity.String()).
			NewClientOrderID(clientOrderID).
			Do(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, errors.Wrapf(ErrOrderRejected, "market buy for %s failed: %v", symbol, err)
	}

	return g.orderResult(order, quantity, price)
}

// PlaceMarketSell submits a market sell for a base quantity.
func (g *BinanceGateway) PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal) (*OrderResult, error) {
	quantity = quantity.RoundFloor(g.qtyPrecision)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Wrap(ErrOrderRejected, "sell quantity rounds to zero")
	}

	price, err := g.GetPrice(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to price market sell for %s", symbol)
	}

	clientOrderID := uuid.NewString()

	order, err := retrier.DoWithData(g.retrier, ctx, func(ctx context.Context) (*binance.CreateOrderResponse, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return g.client.NewCreateOrderService().
			Symbol(symbol).
			Side(binance.SideTypeSell).
			Type(binance.OrderTypeMarket).
			Quantity(quantity.String()).
			NewClientOrderID(clientOrderID).
			Do(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, errors.Wrapf(ErrOrderRejected, "market sell for %s failed: %v", symbol, err)
	}

	return g.orderResult(order, quantity, price)
}

// GetOrderStatus queries an order by its client order id.
func (g *BinanceGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (string, error) {
	order, err := retrier.DoWithData(g.retrier, ctx, func(ctx context.Context) (*binance.Order, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return g.client.NewGetOrderService().
			Symbol(symbol).
			OrigClientOrderID(orderID).
			Do(ctx)
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to query order %s", orderID)
	}

	return string(order.Status), nil
}

// CancelOrder cancels an open order by its client order id.
func (g *BinanceGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	err := g.retrier.Do(ctx, func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := g.client.NewCancelOrderService().
			Symbol(symbol).
			OrigClientOrderID(orderID).
			Do(ctx)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to cancel order %s", orderID)
	}

	return nil
}

func (g *BinanceGateway) orderResult(order *binance.CreateOrderResponse, requestedQty, referencePrice decimal.Decimal) (*OrderResult, error) {
	executedQty := requestedQty
	if order.ExecutedQuantity != "" {
		parsed, err := decimal.NewFromString(order.ExecutedQuantity)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse executed quantity")
		}
		if parsed.GreaterThan(decimal.Zero) {
			executedQty = parsed
		}
	}

	fillPrice := referencePrice
	if order.CummulativeQuoteQuantity != "" && executedQty.GreaterThan(decimal.Zero) {
		cumQuote, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
		if err == nil && cumQuote.GreaterThan(decimal.Zero) {
			fillPrice = cumQuote.Div(executedQty)
		}
	}

	return &OrderResult{
		OrderID:     order.ClientOrderID,
		ExecutedQty: executedQty,
		FillPrice:   fillPrice,
		Simulated:   false,
	}, nil
}
