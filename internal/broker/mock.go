package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradegate/internal/types"
)

// MockAdapter is a deterministic, seeded broker used for tests and the
// `demo` CLI subcommand. It is grounded on the teacher's pkg/sim.Engine
// (an in-memory price store plus a trade book) but implements the full
// Broker interface instead of a single market-order path, and produces
// synthetic snapshots/fills instead of replaying a caller-fed price feed.
type MockAdapter struct {
	mu sync.Mutex

	seed   uint64
	rng    *rand.Rand
	prices map[string]types.MarketSnapshot

	portfolio types.Portfolio
	orders    map[string]types.OpenOrder
	nextID    int

	connected bool
	readOnly  bool
}

// NewMock returns a MockAdapter seeded for reproducible test runs.
func NewMock(seed uint64, portfolio types.Portfolio, readOnly bool) *MockAdapter {
	return &MockAdapter{
		seed:      seed,
		rng:       rand.New(rand.NewSource(int64(seed))),
		prices:    make(map[string]types.MarketSnapshot),
		portfolio: portfolio,
		orders:    make(map[string]types.OpenOrder),
		connected: true,
		readOnly:  readOnly,
	}
}

// SeedPrice installs a fixed quote for an instrument, overriding the
// synthetic generator; tests use this to pin exact scenarios.
func (m *MockAdapter) SeedPrice(snap types.MarketSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[snap.Instrument.Symbol] = snap
}

func (m *MockAdapter) Connected() bool { return m.connected }

func (m *MockAdapter) GetPortfolio(ctx context.Context, accountID string) (types.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.portfolio, nil
}

func (m *MockAdapter) GetPositions(ctx context.Context, accountID string) ([]types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Position(nil), m.portfolio.Positions...), nil
}

func (m *MockAdapter) GetCash(ctx context.Context, accountID string) ([]types.Cash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Cash(nil), m.portfolio.Cash...), nil
}

func (m *MockAdapter) GetOpenOrders(ctx context.Context, accountID string) ([]types.OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.OpenOrder, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out, nil
}

// GetMarketSnapshot returns a seeded quote if one was installed, or
// deterministically derives one from the instrument symbol and the
// adapter's seed so repeated calls in one process are stable.
func (m *MockAdapter) GetMarketSnapshot(ctx context.Context, instrument types.Instrument) (types.MarketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if snap, ok := m.prices[instrument.Symbol]; ok {
		return snap, nil
	}

	base := syntheticBase(instrument.Symbol, m.seed)
	spread := base.Mul(decimal.NewFromFloat(0.0005))
	bid := base.Sub(spread.Div(decimal.NewFromInt(2)))
	ask := base.Add(spread.Div(decimal.NewFromInt(2)))

	snap := types.MarketSnapshot{
		Instrument: instrument,
		Bid:        bid,
		Ask:        ask,
		Last:       base,
		Volume:     decimal.NewFromInt(1_000_000),
		OHLC:       types.OHLC{Open: base, High: ask, Low: bid, Close: base},
		PrevClose:  base,
		Timestamp:  time.Now().UTC(),
	}
	m.prices[instrument.Symbol] = snap
	return snap, nil
}

func (m *MockAdapter) GetMarketBars(ctx context.Context, instrument types.Instrument, tf Timeframe, limit int) ([]types.Bar, error) {
	m.mu.Lock()
	base := syntheticBase(instrument.Symbol, m.seed)
	m.mu.Unlock()

	if limit <= 0 {
		limit = 30
	}
	step := barStep(tf)
	now := time.Now().UTC()
	bars := make([]types.Bar, 0, limit)
	price := base
	for i := limit; i > 0; i-- {
		wobble := decimal.NewFromFloat(math.Sin(float64(i)) * 0.002)
		price = price.Add(price.Mul(wobble))
		bars = append(bars, types.Bar{
			Timestamp: now.Add(-time.Duration(i) * step),
			Open:      price,
			High:      price.Mul(decimal.NewFromFloat(1.001)),
			Low:       price.Mul(decimal.NewFromFloat(0.999)),
			Close:     price,
			Volume:    decimal.NewFromInt(10000),
		})
	}
	return bars, nil
}

func barStep(tf Timeframe) time.Duration {
	switch tf {
	case Minute1:
		return time.Minute
	case Minute5:
		return 5 * time.Minute
	case Hour1:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// syntheticBase derives a stable "price" for a symbol from a seed, so the
// same (symbol, seed) pair always yields the same market data.
func syntheticBase(symbol string, seed uint64) decimal.Decimal {
	h := uint64(2166136261)
	for _, c := range symbol {
		h ^= uint64(c)
		h *= 16777619
	}
	h ^= seed
	frac := float64(h%10000) / 10000.0
	price := 20.0 + frac*480.0 // $20 - $500
	return decimal.NewFromFloat(price).Round(2)
}

func (m *MockAdapter) InstrumentSearch(ctx context.Context, query string, filters SearchFilters) ([]types.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := filters.Limit
	if limit <= 0 {
		limit = 10
	}
	candidates := []types.Candidate{
		{Instrument: types.Instrument{Symbol: "AAPL", Type: types.InstrumentSTK, Exchange: "NASDAQ", Currency: "USD"}, Name: "Apple Inc", Score: 1.0},
		{Instrument: types.Instrument{Symbol: "MSFT", Type: types.InstrumentSTK, Exchange: "NASDAQ", Currency: "USD"}, Name: "Microsoft Corp", Score: 0.98},
		{Instrument: types.Instrument{Symbol: "SPY", Type: types.InstrumentETF, Exchange: "ARCA", Currency: "USD"}, Name: "SPDR S&P 500 ETF", Score: 0.95},
	}
	if query == "" {
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		return candidates, nil
	}
	var out []types.Candidate
	for _, c := range candidates {
		if fuzzyScore(query, c.Instrument.Symbol) >= 0.95 || fuzzyScore(query, c.Name) >= 0.95 {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fuzzyScore is a simple case-insensitive prefix/substring heuristic; the
// spec's 0.95 threshold is meant for a fuzzy matcher, not exact equality.
func fuzzyScore(query, target string) float64 {
	q, t := toLower(query), toLower(target)
	if q == t {
		return 1.0
	}
	if len(q) > 0 && (contains(t, q) || contains(q, t)) {
		return 0.96
	}
	return 0.0
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func contains(haystack, needle string) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// InstrumentResolve searches for hint and returns the candidate whose
// symbol matches it exactly, else the first search result. The hint is
// not looked up as a conId.
func (m *MockAdapter) InstrumentResolve(ctx context.Context, hint string) (types.Contract, error) {
	candidates, _ := m.InstrumentSearch(ctx, hint, SearchFilters{Limit: 5})
	for _, c := range candidates {
		if c.Instrument.Symbol == hint {
			return types.Contract{ConID: "CON-" + c.Instrument.Symbol, Instrument: c.Instrument}, nil
		}
	}
	if len(candidates) > 0 {
		return types.Contract{ConID: "CON-" + candidates[0].Instrument.Symbol, Instrument: candidates[0].Instrument}, nil
	}
	return types.Contract{}, fmt.Errorf("no instrument resolved for hint %q", hint)
}

// SubmitOrder requires a non-empty tokenID (the broker does not itself
// validate the token — that is the Order Submitter's job — but it refuses
// to accept an order with no token at all, per spec.md §4.3).
func (m *MockAdapter) SubmitOrder(ctx context.Context, intent types.OrderIntent, tokenID string) (types.OpenOrder, error) {
	if m.readOnly {
		return types.OpenOrder{}, &ReadOnlyError{Op: "submit_order"}
	}
	if tokenID == "" {
		return types.OpenOrder{}, fmt.Errorf("broker: submit_order requires a token")
	}

	snap, err := m.GetMarketSnapshot(ctx, intent.Instrument)
	if err != nil {
		return types.OpenOrder{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	brokerID := fmt.Sprintf("MOCK-%06d", m.nextID)

	fillPrice := snap.Ask
	if intent.Side == types.Sell {
		fillPrice = snap.Bid
	}
	if intent.OrderType == types.OrderLMT && intent.LimitPrice != nil {
		fillPrice = *intent.LimitPrice
	}

	order := types.OpenOrder{
		BrokerOrderID: brokerID,
		Instrument:    intent.Instrument,
		Side:          intent.Side,
		Quantity:      intent.Quantity,
		FilledQty:     intent.Quantity,
		AvgFillPrice:  fillPrice,
		Status:        types.BrokerFilled,
		UpdatedAt:     time.Now().UTC(),
	}
	m.orders[brokerID] = order
	return order, nil
}

func (m *MockAdapter) CancelOrder(ctx context.Context, brokerOrderID string) (types.OpenOrder, error) {
	if m.readOnly {
		return types.OpenOrder{}, &ReadOnlyError{Op: "cancel_order"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[brokerOrderID]
	if !ok {
		return types.OpenOrder{}, fmt.Errorf("broker: unknown order %q", brokerOrderID)
	}
	order.Status = types.BrokerCancelled
	order.UpdatedAt = time.Now().UTC()
	m.orders[brokerOrderID] = order
	return order, nil
}

func (m *MockAdapter) GetOrderStatus(ctx context.Context, brokerOrderID string) (types.OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[brokerOrderID]
	if !ok {
		return types.OpenOrder{}, fmt.Errorf("broker: unknown order %q", brokerOrderID)
	}
	return order, nil
}
