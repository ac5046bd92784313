package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable record of one confirmed fill. It is created exactly
// once when a purchase completes and appended to the ledger, never mutated.
type Trade struct {
	Timestamp      time.Time       `json:"timestamp"`
	Asset          string          `json:"asset"`
	PairSymbol     string          `json:"pairSymbol"`
	AmountQuote    decimal.Decimal `json:"amountQuote"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	RSIAtExecution float64         `json:"rsiAtExecution"`
	OrderID        string          `json:"orderId"`
	Simulated      bool            `json:"simulated"`
}

// String returns a human-readable representation.
func (t *Trade) String() string {
	return fmt.Sprintf("%s %s for %s (qty %s @ %s)",
		t.PairSymbol, t.Timestamp.Format(time.RFC3339), t.AmountQuote.String(), t.Quantity.String(), t.Price.String())
}

// StrategyStats is a read-only snapshot of a strategy's activity.
type StrategyStats struct {
	TotalTrades    int
	TodayTrades    int
	TotalInvested  decimal.Decimal
	TodayInvested  decimal.Decimal
	DailyBudget    decimal.Decimal
	RemainingToday decimal.Decimal
}
