package autoapproval

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/tradegate/internal/types"
)

func lmtIntent(symbol string) types.OrderIntent {
	return types.OrderIntent{
		Instrument: types.Instrument{Symbol: symbol, Type: types.InstrumentSTK},
		OrderType:  types.OrderLMT,
	}
}

func TestNotionalExactlyAtThresholdApproves(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	sim := types.SimulationResult{NetNotional: p.MaxNotional}

	allow, _ := p.Allow(context.Background(), lmtIntent("AAPL"), sim)
	assert.True(t, allow, "spec.md boundary: notional exactly at threshold must APPROVE")
}

func TestNotionalOneCentAboveThresholdDoesNotApprove(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	sim := types.SimulationResult{NetNotional: p.MaxNotional.Add(decimal.NewFromFloat(0.01))}

	allow, reason := p.Allow(context.Background(), lmtIntent("AAPL"), sim)
	assert.False(t, allow)
	assert.NotEmpty(t, reason)
}

func TestMaxPositionPctNAVBlocksOversizedPosition(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	p.MaxPositionPctNAV = decimal.NewFromFloat(0.05)
	p.MaxNotional = decimal.NewFromInt(1000000) // isolate the NAV leg from the notional leg
	sim := types.SimulationResult{
		NetNotional:    decimal.NewFromInt(10000),
		GrossNotional:  decimal.NewFromInt(10000),
		ExposureBefore: decimal.NewFromInt(100000),
	}

	allow, reason := p.Allow(context.Background(), lmtIntent("AAPL"), sim)
	assert.False(t, allow, "10000/100000 = 10%% exceeds the 5%% max_position_pct_nav ceiling")
	assert.Contains(t, reason, "max_position_pct_nav")
}

func TestMaxPositionPctNAVAllowsWithinLimit(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	p.MaxPositionPctNAV = decimal.NewFromFloat(0.05)
	p.MaxNotional = decimal.NewFromInt(1000000)
	sim := types.SimulationResult{
		NetNotional:    decimal.NewFromInt(1000),
		GrossNotional:  decimal.NewFromInt(1000),
		ExposureBefore: decimal.NewFromInt(100000),
	}

	allow, _ := p.Allow(context.Background(), lmtIntent("AAPL"), sim)
	assert.True(t, allow, "1000/100000 = 1%% is within the 5%% max_position_pct_nav ceiling")
}

func TestSymbolBlocklistWins(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	p.SymbolBlocklist = []string{"TSLA"}
	sim := types.SimulationResult{NetNotional: decimal.NewFromInt(10)}

	allow, _ := p.Allow(context.Background(), lmtIntent("TSLA"), sim)
	assert.False(t, allow)
}

func TestOrderTypeAllowlistRejectsMarketOrders(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	sim := types.SimulationResult{NetNotional: decimal.NewFromInt(10)}
	intent := lmtIntent("AAPL")
	intent.OrderType = types.OrderMKT

	allow, reason := p.Allow(context.Background(), intent, sim)
	assert.False(t, allow)
	assert.Contains(t, reason, "order type")
}

func TestSymbolAllowlistRestrictsToListedSymbols(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	p.SymbolAllowlist = []string{"AAPL", "MSFT"}
	sim := types.SimulationResult{NetNotional: decimal.NewFromInt(10)}

	allow, _ := p.Allow(context.Background(), lmtIntent("SPY"), sim)
	assert.False(t, allow)

	allow, _ = p.Allow(context.Background(), lmtIntent("AAPL"), sim)
	assert.True(t, allow)
}

func TestTimeWindowRestrictsApproval(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	p.WindowStartUTC = "13:00"
	p.WindowEndUTC = "20:00"
	p.Now = func() time.Time { return time.Date(2026, 8, 6, 21, 0, 0, 0, time.UTC) }
	sim := types.SimulationResult{NetNotional: decimal.NewFromInt(10)}

	allow, reason := p.Allow(context.Background(), lmtIntent("AAPL"), sim)
	assert.False(t, allow)
	assert.Contains(t, reason, "window")
}

func TestDCAScheduleMatchWithinTolerance(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	p.DCASchedules = []DCASchedule{{Symbol: "AAPL", AtUTC: "14:30", ToleranceMinutes: 5}}
	p.Now = func() time.Time { return time.Date(2026, 8, 6, 14, 33, 0, 0, time.UTC) }
	sim := types.SimulationResult{NetNotional: decimal.NewFromInt(10)}

	allow, _ := p.Allow(context.Background(), lmtIntent("AAPL"), sim)
	assert.True(t, allow)

	p.Now = func() time.Time { return time.Date(2026, 8, 6, 15, 30, 0, 0, time.UTC) }
	allow, _ = p.Allow(context.Background(), lmtIntent("AAPL"), sim)
	assert.False(t, allow)
}
