// Package domain defines the core data structures of the accumulation bot.
package domain

import "fmt"

// Pair is a trading pair of a base asset quoted in a quote currency.
type Pair struct {
	// Base asset symbol, e.g. BTC.
	Base string
	// Quote currency symbol, e.g. USDT.
	Quote string
}

// NewPair builds a pair from an asset and the configured quote currency.
func NewPair(asset, quote string) Pair {
	return Pair{Base: asset, Quote: quote}
}

// String returns the underscore-separated representation, e.g. BTC_USDT.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.Base, p.Quote)
}

// Symbol returns the exchange symbol representation, e.g. BTCUSDT.
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.Base, p.Quote)
}
