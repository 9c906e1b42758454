package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neat-trader/internal/decision"
	"neat-trader/internal/position"
	"neat-trader/internal/risk"
)

const pair = "BTC/USDT:USDT"

var (
	buyOutputs   = []float64{0.9, 0.1, 0.1}
	sellOutputs  = []float64{0.1, 0.9, 0.1}
	closeOutputs = []float64{0.1, 0.1, 0.9}
	rules        = risk.Rules{QuantityPrecision: 3, MinNotional: 5}
	base         = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	if cfg.Symbol == "" {
		cfg.Symbol = pair
	}
	if cfg.Policy == (decision.Config{}) {
		cfg.Policy = decision.DefaultConfig()
	}
	if cfg.Risk == 0 {
		cfg.Risk = 0.01
	}
	c, err := NewController(cfg, risk.NewSizer(risk.ModePercent, nil), nil)
	require.NoError(t, err)
	return c
}

func flat() position.Snapshot {
	return position.Snapshot{Pair: pair, AvailableBalance: 1000}
}

func long(size, entry float64) position.Snapshot {
	return position.Snapshot{Pair: pair, Size: size, EntryPrice: entry, AvailableBalance: 900}
}

func TestStepOpensLong(t *testing.T) {
	c := newController(t, Config{})

	intent, ok, err := c.Step(Tick{Snapshot: flat(), Outputs: buyOutputs, Price: 100, Time: base, Rules: rules})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SideBuy, intent.Side)
	assert.Equal(t, OrderTypeMarket, intent.Type)
	assert.Equal(t, ReasonOpenLong, intent.Reason)
	assert.Equal(t, 0.1, intent.Quantity)
	assert.False(t, intent.ReduceOnly())

	intent, ok, err = c.Step(Tick{Snapshot: flat(), Outputs: sellOutputs, Price: 100, Time: base, Rules: rules})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SideSell, intent.Side)
	assert.Equal(t, ReasonOpenShort, intent.Reason)
}

func TestStepDurationForcesCloseAtThirdTick(t *testing.T) {
	c := newController(t, Config{MaxTradeDuration: 3})

	_, ok, err := c.Step(Tick{Snapshot: flat(), Outputs: buyOutputs, Price: 100, Time: base, Rules: rules})
	require.NoError(t, err)
	require.True(t, ok)

	held := long(0.1, 100)
	for i := 1; i <= 2; i++ {
		_, ok, err = c.Step(Tick{Snapshot: held, Outputs: buyOutputs, Price: 100, Time: base.Add(time.Duration(i) * time.Minute), Rules: rules})
		require.NoError(t, err)
		assert.False(t, ok, "tick T+%d", i)
		assert.Equal(t, 3-i, c.Counter().Value())
	}

	intent, ok, err := c.Step(Tick{Snapshot: held, Outputs: buyOutputs, Price: 100, Time: base.Add(3 * time.Minute), Rules: rules})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ReasonDurationExpired, intent.Reason)
	assert.Equal(t, SideSell, intent.Side)
	assert.Equal(t, 0.1, intent.Quantity)
	assert.True(t, intent.ReduceOnly())
	assert.Equal(t, 3, c.Counter().Value())
}

func TestStepResetsCounterWhileFlat(t *testing.T) {
	c := newController(t, Config{MaxTradeDuration: 5})

	_, _, err := c.Step(Tick{Snapshot: long(0.1, 100), Outputs: buyOutputs, Price: 100, Time: base, Rules: rules})
	require.NoError(t, err)
	assert.Equal(t, 4, c.Counter().Value())

	_, _, err = c.Step(Tick{Snapshot: flat(), Outputs: []float64{0.1, 0.1, 0.1}, Price: 100, Time: base, Rules: rules})
	require.NoError(t, err)
	assert.Equal(t, 5, c.Counter().Value())
}

func TestStepCloseNeedsMinimumMove(t *testing.T) {
	c := newController(t, Config{})
	short := position.Snapshot{Pair: pair, Size: -0.2, EntryPrice: 100, AvailableBalance: 500}

	_, ok, err := c.Step(Tick{Snapshot: short, Outputs: closeOutputs, Price: 99.5, Time: base, Rules: rules})
	require.NoError(t, err)
	assert.False(t, ok)

	intent, ok, err := c.Step(Tick{Snapshot: short, Outputs: closeOutputs, Price: 98, Time: base, Rules: rules})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ReasonClose, intent.Reason)
	assert.Equal(t, SideBuy, intent.Side)
	assert.Equal(t, 0.2, intent.Quantity)
}

func TestStepSessionGatesOpening(t *testing.T) {
	session, err := ParseSession("09:00", "17:00", "UTC")
	require.NoError(t, err)
	c := newController(t, Config{Session: session})

	night := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	_, ok, err := c.Step(Tick{Snapshot: flat(), Outputs: buyOutputs, Price: 100, Time: night, Rules: rules})
	require.NoError(t, err)
	assert.False(t, ok)

	intent, ok, err := c.Step(Tick{Snapshot: long(0.1, 100), Outputs: closeOutputs, Price: 110, Time: night, Rules: rules})
	require.NoError(t, err)
	require.True(t, ok, "时段外仍可平仓")
	assert.Equal(t, ReasonClose, intent.Reason)

	_, ok, err = c.Step(Tick{Snapshot: flat(), Outputs: buyOutputs, Price: 100, Time: base, Rules: rules})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStepMissingPosition(t *testing.T) {
	c := newController(t, Config{})

	_, ok, err := c.Step(Tick{Snapshot: position.Snapshot{}, Outputs: buyOutputs, Price: 100, Time: base})
	require.ErrorIs(t, err, position.ErrMissingPosition)
	assert.False(t, ok)
}

func TestStepSizingError(t *testing.T) {
	c := newController(t, Config{})

	_, ok, err := c.Step(Tick{Snapshot: flat(), Outputs: buyOutputs, Price: 0, Time: base})
	require.ErrorIs(t, err, risk.ErrInvalidInput)
	assert.False(t, ok)
}

func TestNewControllerValidation(t *testing.T) {
	_, err := NewController(Config{Symbol: pair}, nil, nil)
	require.Error(t, err)

	_, err = NewController(Config{}, risk.NewSizer(risk.ModePercent, nil), nil)
	require.Error(t, err)
}
