package internal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/internal/notifier"
)

type stubStrategy struct {
	name string
	runs chan struct{}
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Run(ctx context.Context) error {
	close(s.runs)
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubStrategy) Stats() domain.StrategyStats {
	return domain.StrategyStats{
		TotalTrades:   3,
		TotalInvested: decimal.RequireFromString("120"),
		DailyBudget:   decimal.RequireFromString("40"),
	}
}

type captureNotifier struct {
	events []string
}

func (c *captureNotifier) Notify(_ notifier.Level, event string, _ map[string]string) {
	c.events = append(c.events, event)
}

func TestBot_RunsAllStrategiesUntilCancelled(t *testing.T) {
	first := &stubStrategy{name: "dca", runs: make(chan struct{})}
	second := &stubStrategy{name: "momentum", runs: make(chan struct{})}

	bot := NewBot([]Strategy{first, second}, &captureNotifier{}, "", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	for _, strat := range []*stubStrategy{first, second} {
		select {
		case <-strat.runs:
		case <-time.After(time.Second):
			t.Fatalf("strategy %s was not started", strat.name)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("bot did not stop after cancellation")
	}
}

func TestBot_InvalidReportSchedule(t *testing.T) {
	bot := NewBot(nil, &captureNotifier{}, "not a cron spec", zap.NewNop())
	err := bot.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report schedule")
}

func TestBot_ReportPublishesStats(t *testing.T) {
	strat := &stubStrategy{name: "dca", runs: make(chan struct{})}
	capture := &captureNotifier{}
	bot := NewBot([]Strategy{strat}, capture, "0 9 * * *", zap.NewNop())

	bot.report()
	require.Len(t, capture.events, 1)
	assert.Equal(t, "daily report", capture.events[0])
}
