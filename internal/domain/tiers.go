package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier maps an RSI threshold to a quote-currency buy amount.
type Tier struct {
	Threshold float64
	Amount    decimal.Decimal
}

// TierTable is an ordered set of tiers with strictly increasing thresholds.
// The first threshold strictly greater than the current RSI determines the
// buy amount; an RSI above every threshold means no buy.
type TierTable struct {
	tiers []Tier
}

// NewTierTable validates and builds a tier table.
func NewTierTable(tiers []Tier) (TierTable, error) {
	if len(tiers) == 0 {
		return TierTable{}, fmt.Errorf("tier table must contain at least one tier")
	}

	prev := -1.0
	for i, tier := range tiers {
		if tier.Threshold <= prev {
			return TierTable{}, fmt.Errorf("tier thresholds must be strictly increasing, got %.2f after %.2f at index %d",
				tier.Threshold, prev, i)
		}
		if tier.Amount.LessThanOrEqual(decimal.Zero) {
			return TierTable{}, fmt.Errorf("tier amount must be positive, got %s at threshold %.2f",
				tier.Amount.String(), tier.Threshold)
		}
		prev = tier.Threshold
	}

	out := make([]Tier, len(tiers))
	copy(out, tiers)

	return TierTable{tiers: out}, nil
}

// AmountFor returns the buy amount for the given RSI value.
// The second return value is false when the RSI exceeds every threshold.
func (t TierTable) AmountFor(rsi float64) (decimal.Decimal, bool) {
	for _, tier := range t.tiers {
		if rsi < tier.Threshold {
			return tier.Amount, true
		}
	}
	return decimal.Zero, false
}

// Len returns the number of tiers.
func (t TierTable) Len() int {
	return len(t.tiers)
}
