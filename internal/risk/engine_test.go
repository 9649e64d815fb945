package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/tradegate/internal/types"
)

func aaplIntent(qty int64) types.OrderIntent {
	return types.OrderIntent{
		Instrument: types.Instrument{Symbol: "AAPL", Type: types.InstrumentSTK, Currency: "USD"},
		Side:       types.Buy,
		OrderType:  types.OrderMKT,
		Quantity:   decimal.NewFromInt(qty),
	}
}

func TestEvaluateApprovesWithinLimits(t *testing.T) {
	t.Parallel()

	engine := New(DefaultPolicy())
	portfolio := types.Portfolio{TotalValue: decimal.NewFromInt(500000)}
	simulation := types.SimulationResult{
		Status:            types.SimSuccess,
		GrossNotional:     decimal.NewFromFloat(1904.70),
		EstimatedSlippage: decimal.NewFromFloat(0.95),
	}

	decision := engine.Evaluate(aaplIntent(10), portfolio, simulation, EvalContext{Now: noonUTC()})

	assert.Equal(t, types.Approve, decision.Decision)
	assert.Empty(t, decision.ViolatedRules)
}

func TestEvaluateRejectsR1MaxNotional(t *testing.T) {
	t.Parallel()

	engine := New(DefaultPolicy())
	portfolio := types.Portfolio{TotalValue: decimal.NewFromInt(500000)}
	simulation := types.SimulationResult{
		Status:        types.SimSuccess,
		GrossNotional: decimal.NewFromInt(190470),
	}

	decision := engine.Evaluate(aaplIntent(1000), portfolio, simulation, EvalContext{Now: noonUTC()})

	assert.Equal(t, types.Reject, decision.Decision)
	assert.Contains(t, decision.ViolatedRules, "R1")
}

func TestEvaluateKillSwitchAlwaysRejects(t *testing.T) {
	t.Parallel()

	engine := New(DefaultPolicy())
	simulation := types.SimulationResult{Status: types.SimSuccess, GrossNotional: decimal.NewFromInt(100)}

	decision := engine.Evaluate(aaplIntent(1), types.Portfolio{TotalValue: decimal.NewFromInt(1000)}, simulation, EvalContext{
		Now:               noonUTC(),
		KillSwitchEnabled: true,
		KillSwitchReason:  "manual halt",
	})

	assert.Equal(t, types.Reject, decision.Decision)
	assert.Contains(t, decision.ViolatedRules, "KS")
}

func TestEvaluateR9NoOpWithoutVolatilityData(t *testing.T) {
	t.Parallel()

	engine := New(DefaultPolicy())
	portfolio := types.Portfolio{TotalValue: decimal.NewFromInt(1000)}
	simulation := types.SimulationResult{Status: types.SimSuccess, GrossNotional: decimal.NewFromInt(900)}

	decision := engine.Evaluate(aaplIntent(1), portfolio, simulation, EvalContext{Now: noonUTC()})
	assert.NotContains(t, decision.ViolatedRules, "R9")
}

func TestEvaluateR8DailyLossCircuitBreaker(t *testing.T) {
	t.Parallel()

	engine := New(DefaultPolicy())
	portfolio := types.Portfolio{TotalValue: decimal.NewFromInt(500000)}
	simulation := types.SimulationResult{Status: types.SimSuccess, GrossNotional: decimal.NewFromInt(100)}

	decision := engine.Evaluate(aaplIntent(1), portfolio, simulation, EvalContext{
		Now:      noonUTC(),
		DailyPnL: decimal.NewFromInt(-5001),
	})

	assert.Equal(t, types.Reject, decision.Decision)
	assert.Contains(t, decision.ViolatedRules, "R8")
}

func TestEvaluateMajorViolationAloneIsManualReview(t *testing.T) {
	t.Parallel()

	engine := New(DefaultPolicy())
	portfolio := types.Portfolio{TotalValue: decimal.NewFromInt(500000)}
	simulation := types.SimulationResult{
		Status:            types.SimSuccess,
		GrossNotional:     decimal.NewFromFloat(1000),
		EstimatedSlippage: decimal.NewFromFloat(10),
	}

	decision := engine.Evaluate(aaplIntent(10), portfolio, simulation, EvalContext{Now: noonUTC()})

	assert.Equal(t, types.ManualReview, decision.Decision, "R4 is MAJOR severity by default; a lone MAJOR violation must not outright reject")
	assert.Contains(t, decision.ViolatedRules, "R4")
}

func TestEvaluateBlockerViolationOutranksMajor(t *testing.T) {
	t.Parallel()

	engine := New(DefaultPolicy())
	portfolio := types.Portfolio{TotalValue: decimal.NewFromInt(500000)}
	simulation := types.SimulationResult{
		Status:            types.SimSuccess,
		GrossNotional:     decimal.NewFromInt(190470),
		EstimatedSlippage: decimal.NewFromFloat(1000),
	}

	decision := engine.Evaluate(aaplIntent(1000), portfolio, simulation, EvalContext{Now: noonUTC()})

	assert.Equal(t, types.Reject, decision.Decision, "a BLOCKER violation (R1) must reject even alongside a MAJOR one (R4)")
	assert.Contains(t, decision.ViolatedRules, "R1")
	assert.Contains(t, decision.ViolatedRules, "R4")
}

func TestEvaluateFailedSimulationIsRejected(t *testing.T) {
	t.Parallel()

	engine := New(DefaultPolicy())
	simulation := types.SimulationResult{Status: types.SimInsufficientCash, ErrorMessage: "not enough cash"}

	decision := engine.Evaluate(aaplIntent(1), types.Portfolio{}, simulation, EvalContext{Now: noonUTC()})
	assert.Equal(t, types.Reject, decision.Decision)
	assert.Contains(t, decision.ViolatedRules, "SIMULATION_FAILED")
}

func noonUTC() time.Time {
	return time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
}
