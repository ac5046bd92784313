package dca

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/internal/gateway"
	"github.com/vadiminshakov/stacker/internal/notifier"
)

type buyCall struct {
	symbol string
	amount decimal.Decimal
}

type fakeExchange struct {
	closes     map[string][]float64
	prices     map[string]decimal.Decimal
	candleErrs map[string]error
	buyErrs    map[string]error
	buys       []buyCall
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		closes:     make(map[string][]float64),
		prices:     make(map[string]decimal.Decimal),
		candleErrs: make(map[string]error),
		buyErrs:    make(map[string]error),
	}
}

// setRSI arranges a candle series that yields exactly the given RSI for
// period 2: with only the seed deltas, RSI = 100*gain/(gain+loss), so a
// gain of rsi followed by a loss of 100-rsi lands exactly on rsi.
func (f *fakeExchange) setRSI(symbol string, rsi float64) {
	f.closes[symbol] = []float64{100, 100 + rsi, 2 * rsi}
}

func (f *fakeExchange) GetCandles(_ context.Context, symbol, _ string, _ int) ([]domain.MarketCandle, error) {
	if err := f.candleErrs[symbol]; err != nil {
		return nil, err
	}
	closes, ok := f.closes[symbol]
	if !ok {
		return nil, gateway.ErrNoData
	}

	candles := make([]domain.MarketCandle, len(closes))
	for i, c := range closes {
		candles[i] = domain.MarketCandle{Close: decimal.NewFromFloat(c)}
	}
	return candles, nil
}

func (f *fakeExchange) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	price, ok := f.prices[symbol]
	if !ok {
		return decimal.RequireFromString("50000"), nil
	}
	return price, nil
}

func (f *fakeExchange) PlaceMarketBuy(_ context.Context, symbol string, quoteAmount decimal.Decimal) (*gateway.OrderResult, error) {
	if err := f.buyErrs[symbol]; err != nil {
		return nil, err
	}
	f.buys = append(f.buys, buyCall{symbol: symbol, amount: quoteAmount})

	price, _ := f.GetPrice(context.Background(), symbol)
	return &gateway.OrderResult{
		OrderID:     "order-" + symbol,
		ExecutedQty: quoteAmount.Div(price),
		FillPrice:   price,
		Simulated:   true,
	}, nil
}

type fakeLedger struct {
	trades    []domain.Trade
	appendErr error
}

func (f *fakeLedger) Append(trade domain.Trade) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.trades = append(f.trades, trade)
	return nil
}

func (f *fakeLedger) Trades() []domain.Trade {
	return f.trades
}

func (f *fakeLedger) SpentOn(day time.Time) decimal.Decimal {
	y, m, d := day.Date()
	total := decimal.Zero
	for _, trade := range f.trades {
		ty, tm, td := trade.Timestamp.Date()
		if ty == y && tm == m && td == d {
			total = total.Add(trade.AmountQuote)
		}
	}
	return total
}

type recordedEvent struct {
	level  notifier.Level
	event  string
	fields map[string]string
}

type fakeNotifier struct {
	events []recordedEvent
}

func (f *fakeNotifier) Notify(level notifier.Level, event string, fields map[string]string) {
	f.events = append(f.events, recordedEvent{level: level, event: event, fields: fields})
}

func (f *fakeNotifier) byLevel(level notifier.Level) []recordedEvent {
	var out []recordedEvent
	for _, e := range f.events {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}

func mustTiers(t *testing.T) domain.TierTable {
	tiers, err := domain.NewTierTable([]domain.Tier{
		{Threshold: 30, Amount: decimal.RequireFromString("40")},
		{Threshold: 40, Amount: decimal.RequireFromString("25")},
		{Threshold: 50, Amount: decimal.RequireFromString("15")},
	})
	require.NoError(t, err)
	return tiers
}

func testSettings(t *testing.T, assets ...string) Settings {
	allocations := make([]domain.Allocation, len(assets))
	fraction := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(assets))))
	for i, asset := range assets {
		allocations[i] = domain.Allocation{Asset: asset, Fraction: fraction}
	}

	return Settings{
		QuoteCurrency: "USDT",
		Allocations:   allocations,
		Tiers:         mustTiers(t),
		RSIPeriod:     2,
		Timeframe:     "4h",
		CandleLimit:   100,
		DailyCap:      decimal.RequireFromString("40"),
		MinTradeSize:  decimal.RequireFromString("5"),
	}
}

func newTestEngine(t *testing.T, settings Settings, exch *fakeExchange, ledger *fakeLedger,
	notif *fakeNotifier, now func() time.Time) *Engine {

	e, err := NewEngine("dca", settings, exch, ledger, notif, zap.NewNop(), now)
	require.NoError(t, err)
	return e
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

var testDay = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestEngine_MostOversoldAssetBuysFirst(t *testing.T) {
	exch := newFakeExchange()
	exch.setRSI("ETHUSDT", 25)
	exch.setRSI("BTCUSDT", 35)

	ledger := &fakeLedger{}
	notif := &fakeNotifier{}
	// BTC enumerated first, but ETH is more oversold
	e := newTestEngine(t, testSettings(t, "BTC", "ETH"), exch, ledger, notif, fixedClock(testDay))

	require.NoError(t, e.runCycle(context.Background()))

	require.Len(t, exch.buys, 1)
	assert.Equal(t, "ETHUSDT", exch.buys[0].symbol)
}

func TestEngine_OneBuyPerCycle(t *testing.T) {
	exch := newFakeExchange()
	exch.setRSI("BTCUSDT", 28)
	exch.setRSI("ETHUSDT", 35)

	ledger := &fakeLedger{}
	notif := &fakeNotifier{}

	settings := testSettings(t, "BTC", "ETH")
	// full tier amounts per asset: BTC proposes 40, ETH proposes 25
	settings.Allocations = []domain.Allocation{
		{Asset: "BTC", Fraction: decimal.NewFromInt(1)},
		{Asset: "ETH", Fraction: decimal.NewFromInt(1)},
	}
	e := newTestEngine(t, settings, exch, ledger, notif, fixedClock(testDay))

	require.NoError(t, e.runCycle(context.Background()))

	// exactly one buy even though the second proposal would still fit a
	// differently clamped budget
	require.Len(t, exch.buys, 1)
	assert.Equal(t, "BTCUSDT", exch.buys[0].symbol)
	assert.True(t, exch.buys[0].amount.Equal(decimal.RequireFromString("40")))

	stats := e.Stats()
	assert.True(t, stats.RemainingToday.IsZero(), "remaining %s", stats.RemainingToday)
	assert.Equal(t, 1, stats.TodayTrades)
}

func TestEngine_ClampsToRemainingBudget(t *testing.T) {
	exch := newFakeExchange()
	exch.setRSI("BTCUSDT", 28)

	ledger := &fakeLedger{
		trades: []domain.Trade{{
			Timestamp:   testDay.Add(-2 * time.Hour),
			Asset:       "BTC",
			AmountQuote: decimal.RequireFromString("30"),
		}},
	}
	notif := &fakeNotifier{}

	settings := testSettings(t, "BTC")
	e := newTestEngine(t, settings, exch, ledger, notif, fixedClock(testDay))

	require.NoError(t, e.runCycle(context.Background()))

	// tier proposes 40 but only 10 of the 40 cap is left
	require.Len(t, exch.buys, 1)
	assert.True(t, exch.buys[0].amount.Equal(decimal.RequireFromString("10")),
		"bought %s", exch.buys[0].amount)
}

func TestEngine_CapReachedSkipsCycle(t *testing.T) {
	exch := newFakeExchange()
	exch.setRSI("BTCUSDT", 28)

	ledger := &fakeLedger{
		trades: []domain.Trade{{
			Timestamp:   testDay.Add(-time.Hour),
			Asset:       "BTC",
			AmountQuote: decimal.RequireFromString("40"),
		}},
	}
	notif := &fakeNotifier{}
	e := newTestEngine(t, testSettings(t, "BTC"), exch, ledger, notif, fixedClock(testDay))

	require.NoError(t, e.runCycle(context.Background()))
	assert.Empty(t, exch.buys)
}

func TestEngine_BudgetRollsOverAtMidnight(t *testing.T) {
	exch := newFakeExchange()
	exch.setRSI("BTCUSDT", 28)

	ledger := &fakeLedger{
		trades: []domain.Trade{{
			Timestamp:   testDay,
			Asset:       "BTC",
			AmountQuote: decimal.RequireFromString("40"),
		}},
	}
	notif := &fakeNotifier{}

	now := testDay
	settings := testSettings(t, "BTC")
	e := newTestEngine(t, settings, exch, ledger, notif, func() time.Time { return now })

	// cap exhausted today
	require.NoError(t, e.runCycle(context.Background()))
	assert.Empty(t, exch.buys)

	// next day, the full cap is available again
	now = testDay.AddDate(0, 0, 1)
	require.NoError(t, e.runCycle(context.Background()))
	require.Len(t, exch.buys, 1)
	assert.True(t, exch.buys[0].amount.Equal(decimal.RequireFromString("40")))
}

func TestEngine_AssetFailureIsIsolated(t *testing.T) {
	exch := newFakeExchange()
	exch.candleErrs["BTCUSDT"] = gateway.ErrNoData
	exch.setRSI("ETHUSDT", 28)

	ledger := &fakeLedger{}
	notif := &fakeNotifier{}

	settings := testSettings(t, "BTC", "ETH")
	settings.Allocations = []domain.Allocation{
		{Asset: "BTC", Fraction: decimal.NewFromInt(1)},
		{Asset: "ETH", Fraction: decimal.NewFromInt(1)},
	}
	e := newTestEngine(t, settings, exch, ledger, notif, fixedClock(testDay))

	require.NoError(t, e.runCycle(context.Background()))

	require.Len(t, exch.buys, 1)
	assert.Equal(t, "ETHUSDT", exch.buys[0].symbol)
}

func TestEngine_RSIAboveAllTiersMeansNoBuy(t *testing.T) {
	exch := newFakeExchange()
	exch.setRSI("BTCUSDT", 55)

	ledger := &fakeLedger{}
	notif := &fakeNotifier{}
	e := newTestEngine(t, testSettings(t, "BTC"), exch, ledger, notif, fixedClock(testDay))

	require.NoError(t, e.runCycle(context.Background()))
	assert.Empty(t, exch.buys)
	assert.Empty(t, notif.byLevel(notifier.LevelOpportunity))
}

func TestEngine_ProposalBelowMinimumIsDiscarded(t *testing.T) {
	exch := newFakeExchange()
	exch.setRSI("BTCUSDT", 45)

	ledger := &fakeLedger{}
	notif := &fakeNotifier{}

	settings := testSettings(t, "BTC")
	// tier proposes 15, scaled by 0.1 to 1.5, below the 5 floor
	settings.Allocations = []domain.Allocation{
		{Asset: "BTC", Fraction: decimal.RequireFromString("0.1")},
	}
	e := newTestEngine(t, settings, exch, ledger, notif, fixedClock(testDay))

	require.NoError(t, e.runCycle(context.Background()))
	assert.Empty(t, exch.buys)
}

func TestEngine_RejectedOrderConsumesNoBudget(t *testing.T) {
	exch := newFakeExchange()
	exch.setRSI("BTCUSDT", 28)
	exch.setRSI("ETHUSDT", 35)
	exch.buyErrs["BTCUSDT"] = gateway.ErrOrderRejected

	ledger := &fakeLedger{}
	notif := &fakeNotifier{}

	settings := testSettings(t, "BTC", "ETH")
	settings.Allocations = []domain.Allocation{
		{Asset: "BTC", Fraction: decimal.NewFromInt(1)},
		{Asset: "ETH", Fraction: decimal.NewFromInt(1)},
	}
	e := newTestEngine(t, settings, exch, ledger, notif, fixedClock(testDay))

	require.NoError(t, e.runCycle(context.Background()))

	// rejected BTC buy left the full budget for the next candidate
	require.Len(t, exch.buys, 1)
	assert.Equal(t, "ETHUSDT", exch.buys[0].symbol)
	assert.True(t, exch.buys[0].amount.Equal(decimal.RequireFromString("25")))
	require.Len(t, notif.byLevel(notifier.LevelError), 1)
}

func TestEngine_PersistenceFailureAbortsCycle(t *testing.T) {
	exch := newFakeExchange()
	exch.setRSI("BTCUSDT", 28)

	ledger := &fakeLedger{appendErr: errors.New("disk full")}
	notif := &fakeNotifier{}
	e := newTestEngine(t, testSettings(t, "BTC"), exch, ledger, notif, fixedClock(testDay))

	err := e.runCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, notif.byLevel(notifier.LevelTrade))
}

func TestEngine_TradeRecordsExecutionContext(t *testing.T) {
	exch := newFakeExchange()
	exch.setRSI("BTCUSDT", 28)
	exch.prices["BTCUSDT"] = decimal.RequireFromString("50000")

	ledger := &fakeLedger{}
	notif := &fakeNotifier{}

	settings := testSettings(t, "BTC")
	e := newTestEngine(t, settings, exch, ledger, notif, fixedClock(testDay))

	require.NoError(t, e.runCycle(context.Background()))

	require.Len(t, ledger.trades, 1)
	trade := ledger.trades[0]
	assert.Equal(t, "BTC", trade.Asset)
	assert.Equal(t, "BTCUSDT", trade.PairSymbol)
	assert.Equal(t, 28.0, trade.RSIAtExecution)
	assert.True(t, trade.AmountQuote.Equal(decimal.RequireFromString("40")))
	assert.True(t, trade.Simulated)
	assert.Equal(t, testDay, trade.Timestamp)

	trades := notif.byLevel(notifier.LevelTrade)
	require.Len(t, trades, 1)
	assert.Equal(t, "purchase executed", trades[0].event)
}

func TestEngine_Stats(t *testing.T) {
	exch := newFakeExchange()
	ledger := &fakeLedger{
		trades: []domain.Trade{
			{Timestamp: testDay.AddDate(0, 0, -1), AmountQuote: decimal.RequireFromString("40")},
			{Timestamp: testDay, AmountQuote: decimal.RequireFromString("25")},
		},
	}
	notif := &fakeNotifier{}
	e := newTestEngine(t, testSettings(t, "BTC"), exch, ledger, notif, fixedClock(testDay))

	stats := e.Stats()
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 1, stats.TodayTrades)
	assert.True(t, stats.TotalInvested.Equal(decimal.RequireFromString("65")))
	assert.True(t, stats.TodayInvested.Equal(decimal.RequireFromString("25")))
	assert.True(t, stats.RemainingToday.Equal(decimal.RequireFromString("15")))
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	exch := newFakeExchange()
	exch.setRSI("BTCUSDT", 55)

	ledger := &fakeLedger{}
	notif := &fakeNotifier{}

	settings := testSettings(t, "BTC")
	settings.CheckInterval = 10 * time.Millisecond
	e := newTestEngine(t, settings, exch, ledger, notif, fixedClock(testDay))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestNewEngine_Validation(t *testing.T) {
	exch := newFakeExchange()
	ledger := &fakeLedger{}
	notif := &fakeNotifier{}

	settings := testSettings(t, "BTC")
	settings.DailyCap = decimal.RequireFromString("2")
	_, err := NewEngine("dca", settings, exch, ledger, notif, zap.NewNop(), nil)
	assert.Error(t, err)

	settings = testSettings(t, "BTC")
	settings.Allocations = nil
	_, err = NewEngine("dca", settings, exch, ledger, notif, zap.NewNop(), nil)
	assert.Error(t, err)
}
