package indicators

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/stacker/internal/domain"
)

func decimals(values ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestRSI_ShortInputReturnsNeutral(t *testing.T) {
	closes := decimals(100, 101, 102)
	assert.Equal(t, 50.0, RSI(closes, 14))
	assert.Equal(t, 50.0, RSI(nil, 14))
	assert.Equal(t, 50.0, RSI(closes, 0))
}

func TestRSI_StrictlyIncreasingIsMaxBullish(t *testing.T) {
	closes := make([]decimal.Decimal, 0, 30)
	for i := 0; i < 30; i++ {
		closes = append(closes, decimal.NewFromInt(int64(100+i)))
	}

	// no losses at all, so the smoothed loss is zero
	assert.Equal(t, 100.0, RSI(closes, 14))
}

func TestRSI_FlatSeriesIsMaxBullish(t *testing.T) {
	closes := make([]decimal.Decimal, 0, 20)
	for i := 0; i < 20; i++ {
		closes = append(closes, decimal.NewFromInt(100))
	}

	// zero gains and zero losses leave the ratio undefined
	assert.Equal(t, 100.0, RSI(closes, 14))
}

func TestRSI_StrictlyDecreasingStaysInRange(t *testing.T) {
	closes := make([]decimal.Decimal, 0, 30)
	for i := 0; i < 30; i++ {
		closes = append(closes, decimal.NewFromInt(int64(1000-i*3)))
	}

	rsi := RSI(closes, 14)
	assert.GreaterOrEqual(t, rsi, 0.0)
	assert.Less(t, rsi, 100.0)
}

func TestRSI_Deterministic(t *testing.T) {
	closes := decimals(44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42,
		45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28, 46.00, 46.03, 46.41, 46.22, 45.64)

	first := RSI(closes, 14)
	second := RSI(closes, 14)
	require.Equal(t, first, second)

	// rounded to two decimals
	assert.Equal(t, math.Round(first*100)/100, first)
}

func TestRSI_MixedSeriesBetweenExtremes(t *testing.T) {
	closes := decimals(100, 102, 101, 103, 102, 104, 103, 105, 104, 106,
		105, 107, 106, 108, 107, 109, 108)

	rsi := RSI(closes, 14)
	assert.Greater(t, rsi, 0.0)
	assert.Less(t, rsi, 100.0)
}

func TestExtractCloses(t *testing.T) {
	candles := []domain.MarketCandle{
		{Close: decimal.NewFromInt(10)},
		{Close: decimal.NewFromInt(11)},
		{Close: decimal.NewFromInt(12)},
	}

	closes := ExtractCloses(candles)
	require.Len(t, closes, 3)
	assert.True(t, closes[0].Equal(decimal.NewFromInt(10)))
	assert.True(t, closes[2].Equal(decimal.NewFromInt(12)))
}
