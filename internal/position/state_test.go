package position

import (
	"context"
	"errors"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBalanceClient struct {
	balances  ccxt.Balances
	positions []ccxt.Position
	err       error
}

func (f *fakeBalanceClient) FetchBalance(...interface{}) (ccxt.Balances, error) {
	return f.balances, f.err
}

func (f *fakeBalanceClient) FetchPositions(...ccxt.FetchPositionsOptions) ([]ccxt.Position, error) {
	return f.positions, nil
}

func ptr[T any](v T) *T { return &v }

func TestFetchSnapshotShortPosition(t *testing.T) {
	client := &fakeBalanceClient{
		balances: ccxt.Balances{Free: map[string]*float64{"USDT": ptr(250.0)}},
		positions: []ccxt.Position{
			{Symbol: ptr("ETH/USDT:USDT"), Contracts: ptr(3.0), Side: ptr("long"), EntryPrice: ptr(2000.0)},
			{Symbol: ptr("BTC/USDT:USDT"), Contracts: ptr(0.02), Side: ptr("short"), EntryPrice: ptr(40000.0), UnrealizedPnl: ptr(-4.5)},
		},
	}

	snap, err := NewManager(client, "BTC/USDT:USDT", "", nil).FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT:USDT", snap.Pair)
	assert.Equal(t, -0.02, snap.Size)
	assert.Equal(t, SideShort, snap.Side())
	assert.Equal(t, 40000.0, snap.EntryPrice)
	assert.Equal(t, 250.0, snap.AvailableBalance)
	assert.Equal(t, -4.5, snap.UnrealizedPnL)
}

func TestFetchSnapshotPrefersRawPositionAmount(t *testing.T) {
	client := &fakeBalanceClient{
		balances: ccxt.Balances{Free: map[string]*float64{"USDT": ptr(100.0)}},
		positions: []ccxt.Position{
			{
				Symbol:     ptr("BTC/USDT:USDT"),
				Contracts:  ptr(0.5),
				EntryPrice: ptr(30000.0),
				Info:       map[string]interface{}{"positionAmt": "-0.500"},
			},
		},
	}

	snap, err := NewManager(client, "BTC/USDT:USDT", "USDT", nil).FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -0.5, snap.Size)
}

func TestFetchSnapshotFlat(t *testing.T) {
	client := &fakeBalanceClient{
		balances: ccxt.Balances{Free: map[string]*float64{"USDT": ptr(100.0)}},
	}

	snap, err := NewManager(client, "BTC/USDT:USDT", "", nil).FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SideFlat, snap.Side())
	assert.False(t, snap.Holding())
}

func TestFetchSnapshotMissingQuoteBalance(t *testing.T) {
	client := &fakeBalanceClient{
		balances: ccxt.Balances{Free: map[string]*float64{"BUSD": ptr(100.0)}},
	}

	_, err := NewManager(client, "BTC/USDT:USDT", "", nil).FetchSnapshot(context.Background())
	require.ErrorIs(t, err, ErrMissingPosition)
}

func TestFetchSnapshotPropagatesExchangeError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewManager(&fakeBalanceClient{err: boom}, "BTC/USDT:USDT", "", nil).FetchSnapshot(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestSnapshotValidate(t *testing.T) {
	require.ErrorIs(t, Snapshot{}.Validate(), ErrMissingPosition)
	require.ErrorIs(t, Snapshot{Pair: "X", Size: 1}.Validate(), ErrMissingPosition)
	require.NoError(t, Snapshot{Pair: "X", Size: -1, EntryPrice: 10}.Validate())
}

func TestQuoteAsset(t *testing.T) {
	assert.Equal(t, "USDT", QuoteAsset("BTC/USDT:USDT"))
	assert.Equal(t, "USDC", QuoteAsset("ETH/USDC"))
	assert.Equal(t, "USDT", QuoteAsset("BTCUSDT"))
}
