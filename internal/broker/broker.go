// Package broker defines the capability set tradegate needs from a
// brokerage back-end (spec.md §4.3), grounded on the teacher's
// pkg/broker.Broker interface but widened to the full read/write surface
// the gateway and submitter need. Two implementations exist: Mock (for
// tests and demos) and OANDAAdapter (a real HTTP adapter).
package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/tradegate/internal/types"
)

// Timeframe selects the bar size for GetMarketBars.
type Timeframe string

const (
	Minute1 Timeframe = "1m"
	Minute5 Timeframe = "5m"
	Hour1   Timeframe = "1h"
	Day1    Timeframe = "1d"
)

// SearchFilters narrows InstrumentSearch results.
type SearchFilters struct {
	Type     types.InstrumentType
	Exchange string
	Currency string
	Limit    int
}

// Broker is the abstract capability set every adapter must implement.
// Every method accepts a context and must honor its deadline/cancellation
// (spec.md §5).
type Broker interface {
	GetPortfolio(ctx context.Context, accountID string) (types.Portfolio, error)
	GetPositions(ctx context.Context, accountID string) ([]types.Position, error)
	GetCash(ctx context.Context, accountID string) ([]types.Cash, error)
	GetOpenOrders(ctx context.Context, accountID string) ([]types.OpenOrder, error)

	GetMarketSnapshot(ctx context.Context, instrument types.Instrument) (types.MarketSnapshot, error)
	GetMarketBars(ctx context.Context, instrument types.Instrument, tf Timeframe, limit int) ([]types.Bar, error)

	InstrumentSearch(ctx context.Context, query string, filters SearchFilters) ([]types.Candidate, error)
	InstrumentResolve(ctx context.Context, hint string) (types.Contract, error)

	// SubmitOrder requires a consumed, valid token id; adapters must not
	// accept an order without one (spec.md §4.3).
	SubmitOrder(ctx context.Context, intent types.OrderIntent, tokenID string) (types.OpenOrder, error)
	CancelOrder(ctx context.Context, brokerOrderID string) (types.OpenOrder, error)
	GetOrderStatus(ctx context.Context, brokerOrderID string) (types.OpenOrder, error)

	// Connected reports whether the adapter currently has a usable
	// connection (used by health checks and the circuit breaker).
	Connected() bool
}

// ReadOnlyError is returned by SubmitOrder/CancelOrder when the adapter is
// configured in read-only mode.
type ReadOnlyError struct{ Op string }

func (e *ReadOnlyError) Error() string { return "broker: read-only mode, refused " + e.Op }

// clock is overridable in tests.
var nowFunc = time.Now

func now() time.Time { return nowFunc() }
