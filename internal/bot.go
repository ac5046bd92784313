package internal

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/internal/notifier"
)

// Strategy is one independently scheduled accumulation loop.
type Strategy interface {
	Name() string
	Run(ctx context.Context) error
	Stats() domain.StrategyStats
}

// Bot runs a set of strategies concurrently and publishes a daily activity
// report for each of them.
type Bot struct {
	strategies []Strategy
	notifier   notifier.Notifier
	logger     *zap.Logger

	// cron spec for the daily report, e.g. "0 9 * * *"
	reportSchedule string
}

// NewBot creates a bot over the given strategies.
func NewBot(strategies []Strategy, notif notifier.Notifier, reportSchedule string, logger *zap.Logger) *Bot {
	return &Bot{
		strategies:     strategies,
		notifier:       notif,
		logger:         logger,
		reportSchedule: reportSchedule,
	}
}

// Run executes all strategies until the context is cancelled or one of them
// fails fatally.
func (b *Bot) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, strat := range b.strategies {
		strat := strat
		g.Go(func() error {
			return strat.Run(ctx)
		})
	}

	if b.reportSchedule != "" {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(b.reportSchedule, b.report); err != nil {
			return fmt.Errorf("invalid report schedule %q: %w", b.reportSchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	return g.Wait()
}

// report publishes a stats snapshot for every strategy.
func (b *Bot) report() {
	for _, strat := range b.strategies {
		stats := strat.Stats()

		b.logger.Info("daily report",
			zap.String("strategy", strat.Name()),
			zap.Int("total_trades", stats.TotalTrades),
			zap.Int("today_trades", stats.TodayTrades),
			zap.String("total_invested", stats.TotalInvested.String()),
			zap.String("today_invested", stats.TodayInvested.String()),
			zap.String("remaining_today", stats.RemainingToday.String()))

		b.notifier.Notify(notifier.LevelInfo, "daily report", map[string]string{
			"strategy":        strat.Name(),
			"total_trades":    fmt.Sprintf("%d", stats.TotalTrades),
			"today_trades":    fmt.Sprintf("%d", stats.TodayTrades),
			"total_invested":  stats.TotalInvested.String(),
			"today_invested":  stats.TodayInvested.String(),
			"daily_budget":    stats.DailyBudget.String(),
			"remaining_today": stats.RemainingToday.String(),
		})
	}
}
