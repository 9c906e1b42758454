package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neat-trader/internal/exchange"
)

func TestSizePercent(t *testing.T) {
	sizer := NewSizer(ModePercent, nil)
	rules := Rules{QuantityPrecision: 3, MinNotional: 5}

	qty, err := sizer.Size(Request{Balance: 1000, RiskFraction: 0.01, EntryPrice: 100}, rules)
	require.NoError(t, err)
	assert.Equal(t, 0.1, qty)

	minQty, err := MinQuantity(100, rules)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, qty, minQty)
}

func TestSizeRoundsUpToPrecision(t *testing.T) {
	sizer := NewSizer(ModePercent, nil)

	qty, err := sizer.Size(Request{Balance: 10000, RiskFraction: 0.01, EntryPrice: 30000}, Rules{QuantityPrecision: 3})
	require.NoError(t, err)
	assert.Equal(t, 0.004, qty)
}

func TestSizeFloorsAtMinimum(t *testing.T) {
	sizer := NewSizer(ModePercent, nil)

	qty, err := sizer.Size(Request{Balance: 100, RiskFraction: 0.01, EntryPrice: 100}, Rules{QuantityPrecision: 3})
	require.NoError(t, err)
	assert.Equal(t, 0.05, qty)

	qty, err = sizer.Size(Request{Balance: 1000, RiskFraction: 0.01, EntryPrice: 100}, Rules{QuantityPrecision: 3, MinAmount: 0.2})
	require.NoError(t, err)
	assert.Equal(t, 0.2, qty)
}

func TestSizeRiskMode(t *testing.T) {
	stop := 98.0
	rules := Rules{QuantityPrecision: 3, MinNotional: 5}

	qty, err := NewSizer(ModeRisk, nil).Size(Request{Balance: 1000, RiskFraction: 0.01, EntryPrice: 100, StopPrice: &stop}, rules)
	require.NoError(t, err)
	assert.Equal(t, 5.0, qty)

	qty, err = NewSizer(ModeRisk, nil).Size(Request{Balance: 1000, RiskFraction: 0.01, EntryPrice: 100}, rules)
	require.NoError(t, err)
	assert.Equal(t, 0.1, qty, "缺少止损时按比例计算")

	qty, err = NewSizer(ModePercent, nil).Size(Request{Balance: 1000, RiskFraction: 0.01, EntryPrice: 100, StopPrice: &stop}, rules)
	require.NoError(t, err)
	assert.Equal(t, 0.1, qty)
}

func TestSizeRejectsInvalidInput(t *testing.T) {
	sizer := NewSizer(ModePercent, nil)

	_, err := sizer.Size(Request{Balance: 1000, RiskFraction: 0.01, EntryPrice: 0}, Rules{})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = sizer.Size(Request{Balance: -1, RiskFraction: 0.01, EntryPrice: 10}, Rules{})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseModeAndStopPrice(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModePercent, mode)

	mode, err = ParseMode("RISK")
	require.NoError(t, err)
	assert.Equal(t, ModeRisk, mode)

	_, err = ParseMode("kelly")
	require.Error(t, err)

	assert.Nil(t, StopPrice(100, 0, true))
	assert.InDelta(t, 98.0, *StopPrice(100, 0.02, true), 1e-9)
	assert.InDelta(t, 102.0, *StopPrice(100, 0.02, false), 1e-9)
}

func TestRulesFromMarketDefaultsNotional(t *testing.T) {
	rules := RulesFromMarket(exchange.MarketRules{Symbol: "BTC/USDT:USDT", QuantityPrecision: 3})

	qty, err := NewSizer(ModePercent, nil).Size(Request{Balance: 10, RiskFraction: 0.01, EntryPrice: 1000}, rules)
	require.NoError(t, err)
	assert.Equal(t, 0.005, qty)
}
