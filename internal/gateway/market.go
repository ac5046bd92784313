package gateway

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/pkg/ratelimit"
	"github.com/vadiminshakov/stacker/pkg/retrier"
)

// MarketData provides public price and candle data. The simulated gateway
// consumes real market data through this interface without credentials.
type MarketData interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.MarketCandle, error)
}

// BinanceMarketData reads ticker and kline data from the Binance public API.
type BinanceMarketData struct {
	client  *binance.Client
	limiter *ratelimit.Limiter
	retrier *retrier.Retrier
	cache   *priceCache
}

// NewBinanceMarketData wraps a Binance client with rate governance, retries
// and the short price cache.
func NewBinanceMarketData(client *binance.Client, limiter *ratelimit.Limiter, retr *retrier.Retrier) *BinanceMarketData {
	return &BinanceMarketData{
		client:  client,
		limiter: limiter,
		retrier: retr,
		cache:   newPriceCache(nil),
	}
}

// GetPrice returns the current price for a symbol, cached for five seconds.
func (m *BinanceMarketData) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, ok := m.cache.get(symbol); ok {
		return price, nil
	}

	prices, err := retrier.DoWithData(m.retrier, ctx, func(ctx context.Context) ([]*binance.SymbolPrice, error) {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return m.client.NewListPricesService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to fetch price for %s", symbol)
	}

	// an empty ticker means no data for the symbol, not a transient fault
	if len(prices) == 0 {
		return decimal.Zero, errors.Wrapf(ErrNoData, "empty ticker response for %s", symbol)
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to parse price for %s", symbol)
	}

	m.cache.put(symbol, price)

	return price, nil
}

// GetCandles fetches the most recent klines for a symbol and timeframe.
func (m *BinanceMarketData) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.MarketCandle, error) {
	klines, err := retrier.DoWithData(m.retrier, ctx, func(ctx context.Context) ([]*binance.Kline, error) {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		return m.client.NewKlinesService().
			Symbol(symbol).
			Interval(timeframe).
			Limit(limit).
			Do(ctx)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines for %s", symbol)
	}

	if len(klines) == 0 {
		return nil, errors.Wrapf(ErrNoData, "no klines for %s %s", symbol, timeframe)
	}

	return parseKlines(klines)
}

func parseKlines(klines []*binance.Kline) ([]domain.MarketCandle, error) {
	result := make([]domain.MarketCandle, len(klines))
	for i, k := range klines {
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse open price at index %d", i)
		}
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse high price at index %d", i)
		}
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse low price at index %d", i)
		}
		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse close price at index %d", i)
		}
		volume, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse volume at index %d", i)
		}

		result[i] = domain.MarketCandle{
			OpenTime:  time.Unix(0, k.OpenTime*int64(time.Millisecond)),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: time.Unix(0, k.CloseTime*int64(time.Millisecond)),
		}
	}

	return result, nil
}
