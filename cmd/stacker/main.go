// Command stacker runs the RSI-weighted crypto accumulation bot.
//
// Usage:
//
//	stacker --config config.yaml
//
// Required environment variables:
//
//	production mode: BINANCE_API_KEY, BINANCE_API_SECRET
//	sandboxed mode:  BINANCE_TESTNET_API_KEY, BINANCE_TESTNET_API_SECRET
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	binance "github.com/adshao/go-binance/v2"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stacker/config"
	"github.com/vadiminshakov/stacker/internal"
	"github.com/vadiminshakov/stacker/internal/gateway"
	"github.com/vadiminshakov/stacker/internal/ledger"
	"github.com/vadiminshakov/stacker/internal/notifier"
	"github.com/vadiminshakov/stacker/internal/services/strategy/dca"
	"github.com/vadiminshakov/stacker/pkg/ratelimit"
	"github.com/vadiminshakov/stacker/pkg/retrier"
)

func main() {
	// .env is optional, real environment wins
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to yaml config")
	flag.Parse()

	cfg, err := config.Get(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("bot terminated", zap.Error(err))
	}

	logger.Info("bot stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	// one governor and one retry policy shared by every exchange call
	limiter := ratelimit.New(cfg.RateLimitPerMin)
	retr := retrier.New(
		retrier.WithMaxAttempts(cfg.RetryAttempts),
		retrier.WithDelay(cfg.RetryDelay),
	)

	exch, err := buildGateway(cfg, limiter, retr, logger)
	if err != nil {
		return err
	}

	store, err := ledger.NewStore(cfg.LedgerPath)
	if err != nil {
		return err
	}

	tradeLedger := ledger.New(store, cfg.StrategyName)
	if err := tradeLedger.Load(); err != nil {
		return errors.Wrap(err, "failed to load trade ledger")
	}

	var notif notifier.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notif = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, logger)
	} else {
		notif = notifier.NewZapNotifier(logger)
	}

	engine, err := dca.NewEngine(cfg.StrategyName, dca.Settings{
		QuoteCurrency: cfg.QuoteCurrency,
		Allocations:   cfg.Allocations,
		Tiers:         cfg.Tiers,
		RSIPeriod:     cfg.RSIPeriod,
		Timeframe:     cfg.Timeframe,
		CandleLimit:   cfg.CandleLimit,
		CheckInterval: cfg.CheckInterval,
		DailyCap:      cfg.DailyCap,
		MinTradeSize:  cfg.MinTradeSize,
	}, exch, tradeLedger, notif, logger.With(zap.String("strategy", cfg.StrategyName)), nil)
	if err != nil {
		return errors.Wrap(err, "failed to create accumulation engine")
	}

	bot := internal.NewBot([]internal.Strategy{engine}, notif, cfg.ReportSchedule, logger)

	logger.Info("starting bot",
		zap.String("mode", string(cfg.Mode)),
		zap.String("strategy", cfg.StrategyName),
		zap.Int("assets", len(cfg.Allocations)))

	return bot.Run(ctx)
}

func buildGateway(cfg config.Config, limiter *ratelimit.Limiter, retr *retrier.Retrier,
	logger *zap.Logger) (gateway.ExchangeGateway, error) {

	switch cfg.Mode {
	case config.ModeSimulated:
		// public market data needs no credentials
		market := gateway.NewBinanceMarketData(binance.NewClient("", ""), limiter, retr)
		return gateway.NewSimulatedGateway(market, cfg.QuoteCurrency, cfg.SimulatedCapital, cfg.QtyPrecision, logger), nil

	case config.ModeSandboxed:
		apiKey := os.Getenv("BINANCE_TESTNET_API_KEY")
		apiSecret := os.Getenv("BINANCE_TESTNET_API_SECRET")
		if apiKey == "" || apiSecret == "" {
			return nil, errors.New("BINANCE_TESTNET_API_KEY and BINANCE_TESTNET_API_SECRET environment variables must be set")
		}
		return gateway.NewBinanceGateway(apiKey, apiSecret, true, cfg.QtyPrecision, limiter, retr, logger), nil

	case config.ModeProduction:
		apiKey := os.Getenv("BINANCE_API_KEY")
		apiSecret := os.Getenv("BINANCE_API_SECRET")
		if apiKey == "" || apiSecret == "" {
			return nil, errors.New("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
		}
		return gateway.NewBinanceGateway(apiKey, apiSecret, false, cfg.QtyPrecision, limiter, retr, logger), nil

	default:
		return nil, errors.Errorf("unsupported mode %q", cfg.Mode)
	}
}
