package domain

import "github.com/shopspring/decimal"

// SignalStrength is a qualitative bucket for how oversold an asset is.
type SignalStrength string

const (
	SignalStrong   SignalStrength = "strong"
	SignalModerate SignalStrength = "moderate"
	SignalWeak     SignalStrength = "weak"
	SignalNone     SignalStrength = "none"
)

// StrengthForRSI buckets an RSI value into a buy-signal strength.
func StrengthForRSI(rsi float64) SignalStrength {
	switch {
	case rsi < 25:
		return SignalStrong
	case rsi < 35:
		return SignalModerate
	case rsi < 50:
		return SignalWeak
	default:
		return SignalNone
	}
}

// Opportunity is a transient buy proposal produced during evaluation
// and consumed during execution. It is never persisted.
type Opportunity struct {
	Asset    string
	Pair     Pair
	Price    decimal.Decimal
	RSI      float64
	Amount   decimal.Decimal
	Strength SignalStrength
}

// Allocation is a per-asset fraction of the strategy budget.
type Allocation struct {
	Asset    string
	Fraction decimal.Decimal
}
