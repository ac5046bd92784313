// Package gateway is the resilient exchange boundary. Every network-bound
// operation funnels through a shared rate governor and a bounded retry
// wrapper; the call contract is identical across the simulated, sandboxed and
// production modes.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/stacker/internal/domain"
)

// ErrNoData indicates the venue returned no market data for a symbol.
// Evaluation skips that asset only.
var ErrNoData = errors.New("no market data available")

// ErrOrderRejected indicates the venue refused an order after retries were
// exhausted. The caller reports it and consumes no budget.
var ErrOrderRejected = errors.New("order rejected by venue")

// OrderResult confirms an executed order.
type OrderResult struct {
	OrderID     string
	ExecutedQty decimal.Decimal
	FillPrice   decimal.Decimal
	Simulated   bool
}

// ExchangeGateway exposes the exchange operations the strategies run on.
type ExchangeGateway interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.MarketCandle, error)
	GetBalances(ctx context.Context) (map[string]decimal.Decimal, error)
	PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*OrderResult, error)
	PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal) (*OrderResult, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

const priceCacheTTL = 5 * time.Second

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// priceCache bounds ticker call volume with a short per-symbol cache.
type priceCache struct {
	mu      sync.Mutex
	entries map[string]cachedPrice
	ttl     time.Duration
	now     func() time.Time
}

func newPriceCache(now func() time.Time) *priceCache {
	if now == nil {
		now = time.Now
	}
	return &priceCache{
		entries: make(map[string]cachedPrice),
		ttl:     priceCacheTTL,
		now:     now,
	}
}

func (c *priceCache) get(symbol string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[symbol]
	if !ok || c.now().Sub(entry.at) >= c.ttl {
		return decimal.Zero, false
	}
	return entry.price, true
}

func (c *priceCache) put(symbol string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = cachedPrice{price: price, at: c.now()}
}
