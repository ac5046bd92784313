// Package indicators computes the momentum signals the decision engine runs on.
package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/stacker/internal/domain"
)

const neutralRSI = 50.0

// RSI computes the Wilder-smoothed Relative Strength Index over the given
// period. With fewer than period+1 closes it returns the neutral 50.0 instead
// of failing. A zero smoothed loss yields 100.0. The result is rounded to two
// decimals. Pure and deterministic.
func RSI(closes []decimal.Decimal, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return neutralRSI
	}

	closesFloat := decimalsToFloat64(closes)

	rsi := momentum.NewRsiWithPeriod[float64](period)
	inputChan := helper.SliceToChan(closesFloat)
	outputChan := rsi.Compute(inputChan)
	rsiFloat := helper.ChanToSlice(outputChan)

	if len(rsiFloat) == 0 {
		return neutralRSI
	}

	// a zero smoothed loss makes the gain/loss ratio undefined, which is
	// maximal bullish momentum
	latest := rsiFloat[len(rsiFloat)-1]
	if math.IsNaN(latest) || math.IsInf(latest, 0) {
		return 100.0
	}

	return math.Round(latest*100) / 100
}

// ExtractCloses pulls the closing prices out of an ordered candle series.
func ExtractCloses(candles []domain.MarketCandle) []decimal.Decimal {
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// decimalsToFloat64 converts a slice of decimal.Decimal to []float64.
func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}
