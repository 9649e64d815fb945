package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradegate/internal/types"
)

// countingBroker wraps a Broker and counts GetMarketSnapshot calls that
// reach it, so tests can tell a cache hit (no call through) from a cache
// bypass (call through) without depending on the value returned.
type countingBroker struct {
	Broker
	snapshotCalls int
}

func (c *countingBroker) GetMarketSnapshot(ctx context.Context, instrument types.Instrument) (types.MarketSnapshot, error) {
	c.snapshotCalls++
	return c.Broker.GetMarketSnapshot(ctx, instrument)
}

func TestCachedBrokerServesSecondCallFromCache(t *testing.T) {
	t.Parallel()

	inner := &countingBroker{Broker: NewMock(1, newTestPortfolio(), false)}
	cached := NewCachedBroker(inner)
	instrument := types.Instrument{Symbol: "AAPL", Type: types.InstrumentSTK}

	_, err := cached.GetMarketSnapshot(context.Background(), instrument)
	require.NoError(t, err)
	_, err = cached.GetMarketSnapshot(context.Background(), instrument)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.snapshotCalls, "second call within the TTL must be served from cache")
}

func TestCachedBrokerSkipCacheAlwaysCallsThrough(t *testing.T) {
	t.Parallel()

	inner := &countingBroker{Broker: NewMock(1, newTestPortfolio(), false)}
	cached := NewCachedBroker(inner)
	instrument := types.Instrument{Symbol: "AAPL", Type: types.InstrumentSTK}
	ctx := WithSkipCache(context.Background())

	_, err := cached.GetMarketSnapshot(ctx, instrument)
	require.NoError(t, err)
	_, err = cached.GetMarketSnapshot(ctx, instrument)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.snapshotCalls, "the simulator's ctx must always bypass the snapshot cache")
}
