// Package config loads and validates the bot configuration from YAML.
// Invalid configuration fails fast at startup, never during a running cycle.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/stacker/internal/domain"
)

// Mode selects how the exchange gateway is wired.
type Mode string

const (
	ModeSimulated  Mode = "simulated"
	ModeSandboxed  Mode = "sandboxed"
	ModeProduction Mode = "production"
)

const (
	defaultQuoteCurrency  = "USDT"
	defaultTimeframe      = "4h"
	defaultCandleLimit    = 100
	defaultRSIPeriod      = 14
	defaultCheckInterval  = 4 * time.Hour
	defaultRateLimit      = 20
	defaultRetryAttempts  = 3
	defaultRetryDelay     = 2 * time.Second
	defaultLedgerPath     = "data/trades.json"
	defaultQtyPrecision   = 5
	defaultStrategyName   = "rsi_dca"
	defaultReportSchedule = "0 9 * * *"

	allocationSumTolerance = 0.01
)

// Config is the validated bot configuration.
type Config struct {
	Mode          Mode
	StrategyName  string
	QuoteCurrency string
	Allocations   []domain.Allocation
	Tiers         domain.TierTable
	RSIPeriod     int
	Timeframe     string
	CandleLimit   int
	CheckInterval time.Duration
	DailyCap      decimal.Decimal
	MinTradeSize  decimal.Decimal

	SimulatedCapital decimal.Decimal
	QtyPrecision     int32

	RateLimitPerMin int
	RetryAttempts   int
	RetryDelay      time.Duration

	LedgerPath     string
	ReportSchedule string

	TelegramToken  string
	TelegramChatID string
}

type allocationTmp struct {
	Asset    string `yaml:"asset"`
	Fraction string `yaml:"fraction"`
}

type tierTmp struct {
	Threshold float64 `yaml:"threshold"`
	Amount    string  `yaml:"amount"`
}

type configTmp struct {
	Mode          string          `yaml:"mode"`
	StrategyName  string          `yaml:"strategy_name,omitempty"`
	QuoteCurrency string          `yaml:"quote_currency,omitempty"`
	Allocations   []allocationTmp `yaml:"allocations"`
	Tiers         []tierTmp       `yaml:"rsi_tiers"`
	RSIPeriod     int             `yaml:"rsi_period,omitempty"`
	Timeframe     string          `yaml:"timeframe,omitempty"`
	CandleLimit   int             `yaml:"candle_limit,omitempty"`
	CheckInterval time.Duration   `yaml:"check_interval,omitempty"`
	DailyCap      string          `yaml:"daily_cap"`
	MinTradeSize  string          `yaml:"min_trade_size,omitempty"`

	SimulatedCapital string `yaml:"simulated_capital,omitempty"`
	QtyPrecision     int32  `yaml:"qty_precision,omitempty"`

	RateLimitPerMin int           `yaml:"rate_limit_per_min,omitempty"`
	RetryAttempts   int           `yaml:"retry_attempts,omitempty"`
	RetryDelay      time.Duration `yaml:"retry_delay,omitempty"`

	LedgerPath     string `yaml:"ledger_path,omitempty"`
	ReportSchedule string `yaml:"report_schedule,omitempty"`

	TelegramToken  string `yaml:"telegram_token,omitempty"`
	TelegramChatID string `yaml:"telegram_chat_id,omitempty"`
}

// Get reads and validates the configuration from the given path.
func Get(path string) (Config, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return parse(payload)
}

func parse(payload []byte) (Config, error) {
	var tmp configTmp
	if err := yaml.Unmarshal(payload, &tmp); err != nil {
		return Config{}, fmt.Errorf("failed to parse yaml config: %w", err)
	}

	cfg := Config{
		Mode:            Mode(tmp.Mode),
		StrategyName:    tmp.StrategyName,
		QuoteCurrency:   tmp.QuoteCurrency,
		RSIPeriod:       tmp.RSIPeriod,
		Timeframe:       tmp.Timeframe,
		CandleLimit:     tmp.CandleLimit,
		CheckInterval:   tmp.CheckInterval,
		QtyPrecision:    tmp.QtyPrecision,
		RateLimitPerMin: tmp.RateLimitPerMin,
		RetryAttempts:   tmp.RetryAttempts,
		RetryDelay:      tmp.RetryDelay,
		LedgerPath:      tmp.LedgerPath,
		ReportSchedule:  tmp.ReportSchedule,
		TelegramToken:   tmp.TelegramToken,
		TelegramChatID:  tmp.TelegramChatID,
	}
	applyDefaults(&cfg)

	switch cfg.Mode {
	case ModeSimulated, ModeSandboxed, ModeProduction:
	default:
		return Config{}, fmt.Errorf("incorrect 'mode' param in yaml config: %q (expected simulated, sandboxed or production)", tmp.Mode)
	}

	allocations, err := parseAllocations(tmp.Allocations)
	if err != nil {
		return Config{}, err
	}
	cfg.Allocations = allocations

	tiers, err := parseTiers(tmp.Tiers)
	if err != nil {
		return Config{}, err
	}
	cfg.Tiers = tiers

	if tmp.DailyCap == "" {
		return Config{}, fmt.Errorf("'daily_cap' param is required in yaml config")
	}
	cfg.DailyCap, err = decimal.NewFromString(tmp.DailyCap)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'daily_cap' param in yaml config (must be a decimal): %w", err)
	}
	if cfg.DailyCap.LessThanOrEqual(decimal.Zero) {
		return Config{}, fmt.Errorf("'daily_cap' must be positive, got %s", cfg.DailyCap.String())
	}

	if tmp.MinTradeSize != "" {
		cfg.MinTradeSize, err = decimal.NewFromString(tmp.MinTradeSize)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'min_trade_size' param in yaml config (must be a decimal): %w", err)
		}
	}
	if cfg.DailyCap.LessThan(cfg.MinTradeSize) {
		return Config{}, fmt.Errorf("'daily_cap' (%s) must not be below 'min_trade_size' (%s)",
			cfg.DailyCap.String(), cfg.MinTradeSize.String())
	}

	if tmp.SimulatedCapital != "" {
		cfg.SimulatedCapital, err = decimal.NewFromString(tmp.SimulatedCapital)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'simulated_capital' param in yaml config (must be a decimal): %w", err)
		}
	}
	if cfg.Mode == ModeSimulated && cfg.SimulatedCapital.LessThanOrEqual(decimal.Zero) {
		return Config{}, fmt.Errorf("'simulated_capital' must be positive in simulated mode")
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.StrategyName == "" {
		cfg.StrategyName = defaultStrategyName
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = defaultQuoteCurrency
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = defaultRSIPeriod
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = defaultTimeframe
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = defaultCandleLimit
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.QtyPrecision <= 0 {
		cfg.QtyPrecision = defaultQtyPrecision
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = defaultRateLimit
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = defaultLedgerPath
	}
	if cfg.ReportSchedule == "" {
		cfg.ReportSchedule = defaultReportSchedule
	}
}

func parseAllocations(tmp []allocationTmp) ([]domain.Allocation, error) {
	if len(tmp) == 0 {
		return nil, fmt.Errorf("'allocations' param is required in yaml config")
	}

	allocations := make([]domain.Allocation, 0, len(tmp))
	seen := make(map[string]bool, len(tmp))
	sum := decimal.Zero

	for _, a := range tmp {
		if a.Asset == "" {
			return nil, fmt.Errorf("allocation with empty 'asset' in yaml config")
		}
		if seen[a.Asset] {
			return nil, fmt.Errorf("duplicate allocation for asset %s in yaml config", a.Asset)
		}
		seen[a.Asset] = true

		fraction, err := decimal.NewFromString(a.Fraction)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'fraction' for asset %s in yaml config (must be a decimal): %w", a.Asset, err)
		}
		if fraction.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("'fraction' for asset %s must be positive, got %s", a.Asset, fraction.String())
		}

		sum = sum.Add(fraction)
		allocations = append(allocations, domain.Allocation{Asset: a.Asset, Fraction: fraction})
	}

	diff, _ := sum.Sub(decimal.NewFromInt(1)).Abs().Float64()
	if diff > allocationSumTolerance {
		return nil, fmt.Errorf("allocation fractions must sum to 1.0, got %s", sum.String())
	}

	return allocations, nil
}

func parseTiers(tmp []tierTmp) (domain.TierTable, error) {
	if len(tmp) == 0 {
		return domain.TierTable{}, fmt.Errorf("'rsi_tiers' param is required in yaml config")
	}

	tiers := make([]domain.Tier, 0, len(tmp))
	for _, t := range tmp {
		amount, err := decimal.NewFromString(t.Amount)
		if err != nil {
			return domain.TierTable{}, fmt.Errorf("incorrect tier 'amount' at threshold %.2f in yaml config (must be a decimal): %w",
				t.Threshold, err)
		}
		tiers = append(tiers, domain.Tier{Threshold: t.Threshold, Amount: amount})
	}

	table, err := domain.NewTierTable(tiers)
	if err != nil {
		return domain.TierTable{}, fmt.Errorf("incorrect 'rsi_tiers' param in yaml config: %w", err)
	}
	return table, nil
}
