// Package dca implements an RSI-weighted accumulation strategy: each cycle it
// evaluates every configured asset, ranks the most oversold ones first and
// executes at most one budget-constrained market buy.
package dca

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/internal/gateway"
	"github.com/vadiminshakov/stacker/internal/notifier"
	"github.com/vadiminshakov/stacker/pkg/indicators"
)

const (
	defaultCheckInterval = 4 * time.Hour
	defaultErrorCooldown = time.Minute
	defaultRSIPeriod     = 14
	defaultCandleLimit   = 100
)

type exchange interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.MarketCandle, error)
	PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*gateway.OrderResult, error)
}

type tradeLedger interface {
	Append(trade domain.Trade) error
	Trades() []domain.Trade
	SpentOn(day time.Time) decimal.Decimal
}

// Settings configures one accumulation strategy.
type Settings struct {
	QuoteCurrency string
	Allocations   []domain.Allocation
	Tiers         domain.TierTable
	RSIPeriod     int
	Timeframe     string
	CandleLimit   int
	CheckInterval time.Duration
	DailyCap      decimal.Decimal
	MinTradeSize  decimal.Decimal
	ErrorCooldown time.Duration
}

func (s *Settings) applyDefaults() {
	if s.CheckInterval <= 0 {
		s.CheckInterval = defaultCheckInterval
	}
	if s.ErrorCooldown <= 0 {
		s.ErrorCooldown = defaultErrorCooldown
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = defaultRSIPeriod
	}
	if s.CandleLimit <= 0 {
		s.CandleLimit = defaultCandleLimit
	}
}

// Engine runs the accumulation loop for one strategy.
type Engine struct {
	name     string
	settings Settings
	exchange exchange
	ledger   tradeLedger
	notifier notifier.Notifier
	l        *zap.Logger

	// injected clock, wall time in production
	now func() time.Time

	spentToday    decimal.Decimal
	lastSpendDate time.Time
}

// NewEngine builds an engine. Pass nil for the clock to use wall time.
func NewEngine(name string, settings Settings, exch exchange, ledger tradeLedger,
	notif notifier.Notifier, l *zap.Logger, now func() time.Time) (*Engine, error) {

	if settings.Tiers.Len() == 0 {
		return nil, errors.New("tier table must not be empty")
	}
	if len(settings.Allocations) == 0 {
		return nil, errors.New("at least one asset allocation is required")
	}
	if settings.DailyCap.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("daily cap must be positive")
	}
	if settings.DailyCap.LessThan(settings.MinTradeSize) {
		return nil, fmt.Errorf("daily cap %s is below the minimum trade size %s",
			settings.DailyCap.String(), settings.MinTradeSize.String())
	}
	settings.applyDefaults()

	if now == nil {
		now = time.Now
	}

	e := &Engine{
		name:     name,
		settings: settings,
		exchange: exch,
		ledger:   ledger,
		notifier: notif,
		l:        l,
		now:      now,
	}
	e.restoreBudget()

	return e, nil
}

// Name returns the strategy name used as the ledger partition key.
func (e *Engine) Name() string {
	return e.name
}

// restoreBudget rebuilds today's spend from the ledger.
func (e *Engine) restoreBudget() {
	today := e.now()
	e.spentToday = e.ledger.SpentOn(today)
	if e.spentToday.IsPositive() {
		e.lastSpendDate = today
	}
}

// Run executes cycles until the context is cancelled. The first cycle runs
// immediately; a failed cycle is logged, notified and retried after a
// cooldown, never terminating the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.l.Info("starting accumulation strategy",
		zap.String("strategy", e.name),
		zap.Duration("interval", e.settings.CheckInterval),
		zap.String("daily_cap", e.settings.DailyCap.String()))

	ticker := time.NewTicker(e.settings.CheckInterval)
	defer ticker.Stop()

	for {
		if err := e.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			e.l.Error("cycle failed", zap.String("strategy", e.name), zap.Error(err))
			e.notifier.Notify(notifier.LevelError, "cycle failed", map[string]string{
				"strategy": e.name,
				"cause":    err.Error(),
			})

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.settings.ErrorCooldown):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// safeCycle runs one cycle, converting panics into errors so a single
// cycle's fault can never take the process down.
func (e *Engine) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	return e.runCycle(ctx)
}

func (e *Engine) runCycle(ctx context.Context) error {
	today := e.now()
	if !sameDay(e.lastSpendDate, today) {
		e.spentToday = decimal.Zero
	}

	remaining := e.settings.DailyCap.Sub(e.spentToday)
	if remaining.LessThan(e.settings.MinTradeSize) {
		e.l.Info("daily cap reached, skipping cycle",
			zap.String("strategy", e.name),
			zap.String("spent_today", e.spentToday.String()))
		return nil
	}

	opportunities := e.evaluate(ctx)
	if len(opportunities) == 0 {
		e.l.Info("no buy opportunities this cycle", zap.String("strategy", e.name))
		return nil
	}

	// most oversold first; ties keep configuration order
	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].RSI < opportunities[j].RSI
	})

	executed, err := e.execute(ctx, opportunities, remaining, today)
	if err != nil {
		return err
	}

	e.l.Info("cycle complete",
		zap.String("strategy", e.name),
		zap.Int("opportunities", len(opportunities)),
		zap.Bool("executed", executed),
		zap.String("spent_today", e.spentToday.String()))

	return nil
}

// evaluate builds buy proposals for every configured asset. A failure on one
// asset is logged and skipped, never aborting the rest.
func (e *Engine) evaluate(ctx context.Context) []domain.Opportunity {
	opportunities := make([]domain.Opportunity, 0, len(e.settings.Allocations))

	for _, alloc := range e.settings.Allocations {
		pair := domain.NewPair(alloc.Asset, e.settings.QuoteCurrency)

		opp, err := e.evaluateAsset(ctx, pair, alloc)
		if err != nil {
			e.l.Warn("skipping asset",
				zap.String("strategy", e.name),
				zap.String("asset", alloc.Asset),
				zap.Error(err))
			continue
		}
		if opp == nil {
			continue
		}

		opportunities = append(opportunities, *opp)
	}

	return opportunities
}

func (e *Engine) evaluateAsset(ctx context.Context, pair domain.Pair, alloc domain.Allocation) (*domain.Opportunity, error) {
	candles, err := e.exchange.GetCandles(ctx, pair.Symbol(), e.settings.Timeframe, e.settings.CandleLimit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch candles for %s", pair.Symbol())
	}

	rsi := indicators.RSI(indicators.ExtractCloses(candles), e.settings.RSIPeriod)

	tierAmount, ok := e.settings.Tiers.AmountFor(rsi)
	if !ok {
		e.l.Debug("rsi above all tiers",
			zap.String("asset", alloc.Asset),
			zap.Float64("rsi", rsi))
		return nil, nil
	}

	amount := tierAmount.Mul(alloc.Fraction)
	if amount.LessThan(e.settings.MinTradeSize) {
		e.l.Debug("proposal below minimum trade size",
			zap.String("asset", alloc.Asset),
			zap.String("amount", amount.String()))
		return nil, nil
	}

	price, err := e.exchange.GetPrice(ctx, pair.Symbol())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch price for %s", pair.Symbol())
	}

	return &domain.Opportunity{
		Asset:    alloc.Asset,
		Pair:     pair,
		Price:    price,
		RSI:      rsi,
		Amount:   amount,
		Strength: domain.StrengthForRSI(rsi),
	}, nil
}

// execute walks the ranked proposals once and stops after the first
// successful purchase. Rejected orders consume no budget; a ledger write
// failure aborts the cycle because the budget state would no longer match
// what is on disk.
func (e *Engine) execute(ctx context.Context, opportunities []domain.Opportunity,
	remaining decimal.Decimal, today time.Time) (bool, error) {

	for _, opp := range opportunities {
		if remaining.LessThan(e.settings.MinTradeSize) {
			e.l.Info("remaining budget below minimum trade size, stopping",
				zap.String("strategy", e.name),
				zap.String("remaining", remaining.String()))
			return false, nil
		}

		amount := opp.Amount
		if amount.GreaterThan(remaining) {
			amount = remaining
		}

		e.notifier.Notify(notifier.LevelOpportunity, "buy opportunity", map[string]string{
			"strategy": e.name,
			"asset":    opp.Asset,
			"rsi":      fmt.Sprintf("%.2f", opp.RSI),
			"strength": string(opp.Strength),
			"amount":   amount.String() + " " + e.settings.QuoteCurrency,
		})

		result, err := e.exchange.PlaceMarketBuy(ctx, opp.Pair.Symbol(), amount)
		if err != nil {
			e.l.Error("buy failed",
				zap.String("strategy", e.name),
				zap.String("asset", opp.Asset),
				zap.Error(err))
			e.notifier.Notify(notifier.LevelError, "buy failed", map[string]string{
				"strategy": e.name,
				"asset":    opp.Asset,
				"cause":    err.Error(),
			})
			continue
		}

		trade := domain.Trade{
			Timestamp:      e.now(),
			Asset:          opp.Asset,
			PairSymbol:     opp.Pair.Symbol(),
			AmountQuote:    amount,
			Price:          result.FillPrice,
			Quantity:       result.ExecutedQty,
			RSIAtExecution: opp.RSI,
			OrderID:        result.OrderID,
			Simulated:      result.Simulated,
		}

		if err := e.ledger.Append(trade); err != nil {
			return false, errors.Wrapf(err, "failed to persist trade for %s", opp.Asset)
		}

		e.spentToday = e.spentToday.Add(amount)
		e.lastSpendDate = today

		e.l.Info("purchase executed",
			zap.String("strategy", e.name),
			zap.String("asset", opp.Asset),
			zap.String("amount", amount.String()),
			zap.String("price", result.FillPrice.String()),
			zap.String("quantity", result.ExecutedQty.String()),
			zap.Float64("rsi", opp.RSI))
		e.notifier.Notify(notifier.LevelTrade, "purchase executed", map[string]string{
			"strategy": e.name,
			"asset":    opp.Asset,
			"amount":   amount.String() + " " + e.settings.QuoteCurrency,
			"price":    result.FillPrice.String(),
			"quantity": result.ExecutedQty.String(),
			"order_id": result.OrderID,
		})

		// one purchase per cycle, regardless of leftover budget
		return true, nil
	}

	return false, nil
}

// Stats returns a read-only snapshot of the strategy's activity.
func (e *Engine) Stats() domain.StrategyStats {
	today := e.now()
	trades := e.ledger.Trades()

	stats := domain.StrategyStats{
		TotalTrades:   len(trades),
		TotalInvested: decimal.Zero,
		TodayInvested: decimal.Zero,
		DailyBudget:   e.settings.DailyCap,
	}

	for _, trade := range trades {
		stats.TotalInvested = stats.TotalInvested.Add(trade.AmountQuote)
		if sameDay(trade.Timestamp, today) {
			stats.TodayTrades++
			stats.TodayInvested = stats.TodayInvested.Add(trade.AmountQuote)
		}
	}

	stats.RemainingToday = e.settings.DailyCap.Sub(stats.TodayInvested)
	if stats.RemainingToday.IsNegative() {
		stats.RemainingToday = decimal.Zero
	}

	return stats
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
