package service

import (
	"context"
	"testing"
	"time"

	"paycore/internal/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRates() *StaticRateProvider {
	return NewStaticRateProvider(&config.FXConfig{
		Rates:           map[string]float64{"USD_EUR": 0.92},
		ValiditySeconds: 300,
	})
}

func TestStaticRateDirect(t *testing.T) {
	rates := newTestRates()

	quote, err := rates.GetRate(context.Background(), "USD", "EUR")
	require.NoError(t, err)
	assert.True(t, quote.Rate.Equal(decimal.NewFromFloat(0.92)))
	assert.True(t, quote.ValidUntil.After(time.Now()))
}

// 配置只写了 USD_EUR，反方向按倒数推
func TestStaticRateInverse(t *testing.T) {
	rates := newTestRates()

	quote, err := rates.GetRate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	expected := decimal.NewFromInt(1).DivRound(decimal.NewFromFloat(0.92), 8)
	assert.True(t, quote.Rate.Equal(expected))
}

func TestStaticRateSameCurrency(t *testing.T) {
	rates := newTestRates()

	quote, err := rates.GetRate(context.Background(), "USD", "USD")
	require.NoError(t, err)
	assert.True(t, quote.Rate.Equal(decimal.NewFromInt(1)))
}

func TestStaticRateUnavailable(t *testing.T) {
	rates := newTestRates()

	_, err := rates.GetRate(context.Background(), "USD", "JPY")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}
