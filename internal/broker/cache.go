package broker

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/rustyeddy/tradegate/internal/types"
)

// CachedBroker wraps a Broker with short-lived read caches so a burst of
// simulate/risk calls against the same instrument doesn't hammer the
// upstream adapter (spec.md §4.3 read-latency budget). Writes always pass
// through uncached.
type CachedBroker struct {
	Broker
	snapshots *gocache.Cache
	bars      *gocache.Cache
}

// NewCachedBroker wraps inner with a 60s snapshot TTL and a 5m bar TTL,
// matching the freshness windows spec.md §4.3 expects callers to tolerate.
func NewCachedBroker(inner Broker) *CachedBroker {
	return &CachedBroker{
		Broker:    inner,
		snapshots: gocache.New(60*time.Second, 2*time.Minute),
		bars:      gocache.New(5*time.Minute, 10*time.Minute),
	}
}

type skipCacheKey struct{}

// WithSkipCache marks ctx so CachedBroker.GetMarketSnapshot bypasses its
// read cache and always calls through to the underlying adapter. The
// Trade Simulator must never price against a stale cached quote (spec.md
// §9: "the simulator must accept an explicit market_price argument so
// that decisions do not depend on hidden cache state"), so
// core.Core.SimulateIntent sets this on every fetch.
func WithSkipCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipCacheKey{}, true)
}

func skipCache(ctx context.Context) bool {
	v, _ := ctx.Value(skipCacheKey{}).(bool)
	return v
}

func (c *CachedBroker) GetMarketSnapshot(ctx context.Context, instrument types.Instrument) (types.MarketSnapshot, error) {
	if skipCache(ctx) {
		return c.Broker.GetMarketSnapshot(ctx, instrument)
	}
	key := instrument.Symbol
	if v, ok := c.snapshots.Get(key); ok {
		return v.(types.MarketSnapshot), nil
	}
	snap, err := c.Broker.GetMarketSnapshot(ctx, instrument)
	if err != nil {
		return types.MarketSnapshot{}, err
	}
	c.snapshots.SetDefault(key, snap)
	return snap, nil
}

func (c *CachedBroker) GetMarketBars(ctx context.Context, instrument types.Instrument, tf Timeframe, limit int) ([]types.Bar, error) {
	key := fmt.Sprintf("%s|%s|%d", instrument.Symbol, tf, limit)
	if v, ok := c.bars.Get(key); ok {
		return v.([]types.Bar), nil
	}
	bars, err := c.Broker.GetMarketBars(ctx, instrument, tf, limit)
	if err != nil {
		return nil, err
	}
	c.bars.SetDefault(key, bars)
	return bars, nil
}

// InvalidateSnapshot drops a cached quote; the Order Submitter calls this
// after a fill so the next simulate/risk pass sees a fresh price rather
// than the pre-trade quote.
func (c *CachedBroker) InvalidateSnapshot(symbol string) {
	c.snapshots.Delete(symbol)
}
