package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradegate/internal/types"
)

func newTestPortfolio() types.Portfolio {
	return types.Portfolio{
		AccountID:  "ACC-1",
		TotalValue: decimal.NewFromInt(100000),
		Cash:       []types.Cash{{Currency: "USD", Total: decimal.NewFromInt(100000)}},
	}
}

func TestMockAdapterDeterministicSnapshot(t *testing.T) {
	t.Parallel()

	m := NewMock(42, newTestPortfolio(), false)
	instrument := types.Instrument{Symbol: "AAPL", Type: types.InstrumentSTK, Currency: "USD"}

	first, err := m.GetMarketSnapshot(context.Background(), instrument)
	require.NoError(t, err)

	second, err := m.GetMarketSnapshot(context.Background(), instrument)
	require.NoError(t, err)

	assert.True(t, first.Last.Equal(second.Last))
	assert.True(t, first.Bid.LessThan(first.Ask))
}

func TestMockAdapterSameSeedSameSymbolIsStableAcrossInstances(t *testing.T) {
	t.Parallel()

	a := NewMock(7, newTestPortfolio(), false)
	b := NewMock(7, newTestPortfolio(), false)
	instrument := types.Instrument{Symbol: "MSFT", Type: types.InstrumentSTK, Currency: "USD"}

	snapA, err := a.GetMarketSnapshot(context.Background(), instrument)
	require.NoError(t, err)
	snapB, err := b.GetMarketSnapshot(context.Background(), instrument)
	require.NoError(t, err)

	assert.True(t, snapA.Last.Equal(snapB.Last))
}

func TestMockAdapterSubmitOrderRequiresToken(t *testing.T) {
	t.Parallel()

	m := NewMock(1, newTestPortfolio(), false)
	intent := types.OrderIntent{
		Instrument: types.Instrument{Symbol: "AAPL", Type: types.InstrumentSTK},
		Side:       types.Buy,
		OrderType:  types.OrderMKT,
		Quantity:   decimal.NewFromInt(10),
	}

	_, err := m.SubmitOrder(context.Background(), intent, "")
	assert.Error(t, err)

	order, err := m.SubmitOrder(context.Background(), intent, "TOKEN-1")
	require.NoError(t, err)
	assert.Equal(t, types.BrokerFilled, order.Status)
	assert.True(t, order.FilledQty.Equal(decimal.NewFromInt(10)))
}

func TestMockAdapterReadOnlyRefusesWrites(t *testing.T) {
	t.Parallel()

	m := NewMock(1, newTestPortfolio(), true)
	intent := types.OrderIntent{
		Instrument: types.Instrument{Symbol: "AAPL", Type: types.InstrumentSTK},
		Side:       types.Buy,
		OrderType:  types.OrderMKT,
		Quantity:   decimal.NewFromInt(1),
	}

	_, err := m.SubmitOrder(context.Background(), intent, "TOKEN-1")
	require.Error(t, err)
	var roErr *ReadOnlyError
	assert.ErrorAs(t, err, &roErr)
}

func TestMockAdapterCancelUnknownOrder(t *testing.T) {
	t.Parallel()

	m := NewMock(1, newTestPortfolio(), false)
	_, err := m.CancelOrder(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestMockAdapterInstrumentSearchLimit(t *testing.T) {
	t.Parallel()

	m := NewMock(1, newTestPortfolio(), false)
	candidates, err := m.InstrumentSearch(context.Background(), "", SearchFilters{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}
