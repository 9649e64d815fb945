package simulate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradegate/internal/types"
)

func aapl() types.Instrument {
	return types.Instrument{Symbol: "AAPL", Type: types.InstrumentSTK, Exchange: "NASDAQ", Currency: "USD"}
}

func TestSimulateHappyPathBuyMarket(t *testing.T) {
	t.Parallel()

	portfolio := types.Portfolio{
		TotalValue: decimal.NewFromInt(50000),
		Cash:       []types.Cash{{Currency: "USD", Total: decimal.NewFromInt(50000)}},
	}
	snapshot := types.MarketSnapshot{
		Instrument: aapl(),
		Bid:        decimal.NewFromFloat(190.28),
		Ask:        decimal.NewFromFloat(190.47),
	}
	intent := types.OrderIntent{
		Instrument: aapl(),
		Side:       types.Buy,
		OrderType:  types.OrderMKT,
		Quantity:   decimal.NewFromInt(10),
		Reason:     "Portfolio rebalance to target allocation",
	}

	result := Simulate(portfolio, &snapshot, intent, DefaultConfig())

	require.Equal(t, types.SimSuccess, result.Status)
	assert.True(t, result.ExecutionPrice.Equal(decimal.NewFromFloat(190.47)))
	assert.Equal(t, "1904.70", result.GrossNotional.StringFixed(2))
	assert.Equal(t, "1.00", result.EstimatedFee.StringFixed(2))
	assert.Equal(t, "0.95", result.EstimatedSlippage.StringFixed(2))
	assert.Equal(t, "1906.65", result.NetNotional.StringFixed(2))
	assert.Equal(t, "48093.35", result.CashAfter.StringFixed(2))
}

func TestSimulateStopLimitPricesAtCurrentAskLikeStop(t *testing.T) {
	t.Parallel()

	portfolio := types.Portfolio{
		TotalValue: decimal.NewFromInt(50000),
		Cash:       []types.Cash{{Currency: "USD", Total: decimal.NewFromInt(50000)}},
	}
	snapshot := types.MarketSnapshot{
		Instrument: aapl(),
		Bid:        decimal.NewFromFloat(190.28),
		Ask:        decimal.NewFromFloat(190.47),
	}
	limitPrice := decimal.NewFromFloat(195.00)
	intent := types.OrderIntent{
		Instrument: aapl(),
		Side:       types.Buy,
		OrderType:  types.OrderSTPLMT,
		Quantity:   decimal.NewFromInt(10),
		StopPrice:  &limitPrice,
		LimitPrice: &limitPrice,
		Reason:     "stop-limit breakout entry",
	}

	result := Simulate(portfolio, &snapshot, intent, DefaultConfig())

	require.Equal(t, types.SimSuccess, result.Status)
	assert.True(t, result.ExecutionPrice.Equal(snapshot.Ask), "STP_LMT BUY must price at the current ask, not the limit price")
	assert.True(t, result.EstimatedSlippage.GreaterThan(decimal.Zero), "STP_LMT accrues slippage like STP/MKT, unlike a plain LMT order")
}

func TestSimulateZeroQuantityIsInvalid(t *testing.T) {
	t.Parallel()

	intent := types.OrderIntent{Instrument: aapl(), Side: types.Buy, OrderType: types.OrderMKT, Quantity: decimal.Zero}
	result := Simulate(types.Portfolio{}, &types.MarketSnapshot{}, intent, DefaultConfig())
	assert.Equal(t, types.SimInvalidQuantity, result.Status)
}

func TestSimulateMissingSnapshotIsPriceUnavailable(t *testing.T) {
	t.Parallel()

	intent := types.OrderIntent{Instrument: aapl(), Side: types.Buy, OrderType: types.OrderMKT, Quantity: decimal.NewFromInt(1)}
	result := Simulate(types.Portfolio{}, nil, intent, DefaultConfig())
	assert.Equal(t, types.SimPriceUnavailable, result.Status)
}

func TestSimulateCashAfterExactlyZeroIsSuccess(t *testing.T) {
	t.Parallel()

	snapshot := types.MarketSnapshot{Instrument: aapl(), Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(100)}
	intent := types.OrderIntent{
		Instrument: aapl(), Side: types.Buy, OrderType: types.OrderLMT,
		Quantity:   decimal.NewFromInt(1),
		LimitPrice: decimalPtr(decimal.NewFromFloat(99)),
	}
	// LMT has zero slippage; fee = max(0.005, 1) = 1, capped at notional*0.01 = 0.99 -> fee = 0.99.
	portfolio := types.Portfolio{
		TotalValue: decimal.NewFromInt(100),
		Cash:       []types.Cash{{Currency: "USD", Total: decimal.NewFromFloat(99.99)}},
	}

	result := Simulate(portfolio, &snapshot, intent, DefaultConfig())
	require.Equal(t, types.SimSuccess, result.Status)
	assert.True(t, result.CashAfter.IsZero(), "cash_after = %s", result.CashAfter.String())
}

func TestSimulateInsufficientCash(t *testing.T) {
	t.Parallel()

	snapshot := types.MarketSnapshot{Instrument: aapl(), Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(100)}
	intent := types.OrderIntent{Instrument: aapl(), Side: types.Buy, OrderType: types.OrderMKT, Quantity: decimal.NewFromInt(100)}
	portfolio := types.Portfolio{Cash: []types.Cash{{Currency: "USD", Total: decimal.NewFromInt(500)}}}

	result := Simulate(portfolio, &snapshot, intent, DefaultConfig())
	assert.Equal(t, types.SimInsufficientCash, result.Status)
}

func TestSimulateSlippageBoundaryAtLimitIsAllowed(t *testing.T) {
	t.Parallel()

	snapshot := types.MarketSnapshot{Instrument: aapl(), Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(100)}
	cfg := DefaultConfig()
	cfg.BaseSlippageBps = decimal.NewFromInt(50) // slippage = 0.5% = 50 bps exactly
	intent := types.OrderIntent{
		Instrument: aapl(), Side: types.Buy, OrderType: types.OrderMKT,
		Quantity: decimal.NewFromInt(10),
		Constraints: types.Constraints{MaxSlippageBps: decimal.NewFromInt(50)},
	}
	portfolio := types.Portfolio{Cash: []types.Cash{{Currency: "USD", Total: decimal.NewFromInt(100000)}}}

	result := Simulate(portfolio, &snapshot, intent, cfg)
	assert.Equal(t, types.SimSuccess, result.Status)
}

func TestSimulateSlippageOneBpAboveLimitIsViolation(t *testing.T) {
	t.Parallel()

	snapshot := types.MarketSnapshot{Instrument: aapl(), Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(100)}
	cfg := DefaultConfig()
	cfg.BaseSlippageBps = decimal.NewFromInt(51)
	intent := types.OrderIntent{
		Instrument: aapl(), Side: types.Buy, OrderType: types.OrderMKT,
		Quantity: decimal.NewFromInt(10),
		Constraints: types.Constraints{MaxSlippageBps: decimal.NewFromInt(50)},
	}
	portfolio := types.Portfolio{Cash: []types.Cash{{Currency: "USD", Total: decimal.NewFromInt(100000)}}}

	result := Simulate(portfolio, &snapshot, intent, cfg)
	assert.Equal(t, types.SimConstraintViolated, result.Status)
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
