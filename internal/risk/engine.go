package risk

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradegate/internal/types"
)

// EvalContext carries the mutable, session-scoped inputs the pure
// Limits/TradingHours policy cannot express: counters, optional
// volatility/sector/correlation/liquidity data, and the kill switch's
// live state. Every optional pointer follows spec.md's "no-op if data is
// absent" rule for R3/R6/R9/R10.
type EvalContext struct {
	Now               time.Time
	DailyTradesCount  int
	DailyPnL          decimal.Decimal
	SymbolVolatility  *decimal.Decimal // annualized, e.g. 0.20 = 20%
	SectorWeight      *decimal.Decimal // exposure_after_for_sector / total_value, if known
	CorrelationWeight *decimal.Decimal
	Liquidity         *decimal.Decimal
	KillSwitchEnabled bool
	KillSwitchReason  string
}

// Engine evaluates orders against a Policy and tracks the one piece of
// genuinely stateful risk data: the drawdown high-water mark (R11),
// mirroring the mutable AdvancedRiskEngine.high_water_mark in
// original_source/packages/risk_engine/advanced.py.
type Engine struct {
	mu            sync.RWMutex
	policy        Policy
	highWaterMark decimal.Decimal
}

func New(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// UpdatePolicy hot-swaps the active policy; called by the fsnotify
// watcher in reload.go.
func (e *Engine) UpdatePolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
}

func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// Evaluate implements the R1-R12 gate (spec.md §4.5). It never mutates
// intent/portfolio/simulation; the only engine-owned state it touches is
// the drawdown high-water mark.
func (e *Engine) Evaluate(intent types.OrderIntent, portfolio types.Portfolio, simulation types.SimulationResult, ctx EvalContext) types.RiskDecision {
	if ctx.KillSwitchEnabled {
		reason := "kill switch is active"
		if ctx.KillSwitchReason != "" {
			reason = fmt.Sprintf("kill switch is active: %s", ctx.KillSwitchReason)
		}
		return types.RiskDecision{
			Decision:      types.Reject,
			Reason:        reason,
			ViolatedRules: []string{"KS"},
		}
	}

	if !simulation.OK() {
		return types.RiskDecision{
			Decision:      types.Reject,
			Reason:        fmt.Sprintf("simulation failed: %s", simulation.ErrorMessage),
			ViolatedRules: []string{"SIMULATION_FAILED"},
		}
	}

	policy := e.Policy()
	if ctx.Now.IsZero() {
		ctx.Now = time.Now().UTC()
	}

	var violated []string
	var warnings []string
	metrics := map[string]float64{}

	grossNotional := simulation.GrossNotional
	metrics["gross_notional"], _ = grossNotional.Float64()

	// R1
	if policy.ruleEnabled("R1") && grossNotional.GreaterThan(policy.Limits.MaxNotionalPerTrade) {
		violated = append(violated, "R1")
	} else if warn80(grossNotional, policy.Limits.MaxNotionalPerTrade) {
		warnings = append(warnings, fmt.Sprintf("notional %s is within 80%% of the %s limit", grossNotional.StringFixed(2), policy.Limits.MaxNotionalPerTrade.StringFixed(2)))
	}

	// R2
	if policy.ruleEnabled("R2") && portfolio.TotalValue.Sign() > 0 {
		current := portfolio.PositionFor(intent.Instrument.Symbol).MarketValue
		var after decimal.Decimal
		if intent.Side == types.Buy {
			after = current.Add(grossNotional)
		} else {
			after = current.Sub(grossNotional)
		}
		positionWeight := after.Abs().Div(portfolio.TotalValue)
		metrics["position_pct"], _ = positionWeight.Mul(decimal.NewFromInt(100)).Float64()
		if positionWeight.GreaterThan(policy.Limits.MaxPositionWeight) {
			violated = append(violated, "R2")
		} else if warn80(positionWeight, policy.Limits.MaxPositionWeight) {
			warnings = append(warnings, fmt.Sprintf("position weight %.1f%% is approaching the %.1f%% limit", positionWeight.Mul(decimal.NewFromInt(100)).InexactFloat64(), policy.Limits.MaxPositionWeight.Mul(decimal.NewFromInt(100)).InexactFloat64()))
		}
	}

	// R3: sector exposure, no-op if sector data absent.
	if policy.ruleEnabled("R3") && ctx.SectorWeight != nil {
		metrics["sector_weight_pct"], _ = ctx.SectorWeight.Mul(decimal.NewFromInt(100)).Float64()
		if ctx.SectorWeight.GreaterThan(policy.Limits.MaxSectorWeight) {
			violated = append(violated, "R3")
		}
	}

	// R4
	if policy.ruleEnabled("R4") && simulation.EstimatedSlippage.Sign() > 0 && grossNotional.Sign() > 0 {
		slippageBps := simulation.EstimatedSlippage.Div(grossNotional).Mul(decimal.NewFromInt(10000))
		metrics["slippage_bps"], _ = slippageBps.Float64()
		if slippageBps.GreaterThan(policy.Limits.MaxSlippageBps) {
			violated = append(violated, "R4")
		} else if warn80(slippageBps, policy.Limits.MaxSlippageBps) {
			warnings = append(warnings, fmt.Sprintf("slippage %.1f bps is approaching the %s bps limit", slippageBps.InexactFloat64(), policy.Limits.MaxSlippageBps.String()))
		}
	}

	// R5: trading hours.
	if policy.ruleEnabled("R5") && !isMarketOpen(ctx.Now, policy.TradingHours) {
		violated = append(violated, "R5")
	}

	// R6: liquidity, no-op if absent.
	if policy.ruleEnabled("R6") && ctx.Liquidity != nil && policy.Limits.MinLiquidity.Sign() > 0 {
		if ctx.Liquidity.LessThan(policy.Limits.MinLiquidity) {
			violated = append(violated, "R6")
		}
	}

	// R7
	metrics["daily_trades_count"] = float64(ctx.DailyTradesCount)
	if policy.ruleEnabled("R7") && ctx.DailyTradesCount >= policy.Limits.MaxDailyTrades {
		violated = append(violated, "R7")
	}

	// R8
	metrics["daily_pnl"], _ = ctx.DailyPnL.Float64()
	if policy.ruleEnabled("R8") && ctx.DailyPnL.LessThan(policy.Limits.MaxDailyLoss.Neg()) {
		violated = append(violated, "R8")
	}

	// R9: volatility-adjusted sizing, no-op if volatility data absent.
	if policy.ruleEnabled("R9") && ctx.SymbolVolatility != nil && portfolio.TotalValue.Sign() > 0 {
		positionRisk := grossNotional.Mul(*ctx.SymbolVolatility)
		riskPct := positionRisk.Div(portfolio.TotalValue)
		metrics["position_risk_pct"], _ = riskPct.Mul(decimal.NewFromInt(100)).Float64()
		if riskPct.GreaterThan(policy.Limits.MaxPositionVolatility) {
			violated = append(violated, "R9")
		}
	}

	// R10: correlation exposure, disabled unless correlation data present.
	if policy.ruleEnabled("R10") && ctx.CorrelationWeight != nil {
		metrics["correlation_weight_pct"], _ = ctx.CorrelationWeight.Mul(decimal.NewFromInt(100)).Float64()
		if ctx.CorrelationWeight.GreaterThan(policy.Limits.MaxCorrelationExposure) {
			violated = append(violated, "R10")
		}
	}

	// R11: drawdown vs high-water mark.
	if policy.ruleEnabled("R11") {
		drawdownPct := e.updateDrawdown(portfolio.TotalValue)
		metrics["drawdown_pct"], _ = drawdownPct.Float64()
		if drawdownPct.GreaterThan(policy.Limits.MaxDrawdownPct) {
			violated = append(violated, "R11")
		}
	}

	// R12: time-of-day exclusion window around open/close.
	if policy.ruleEnabled("R12") && inExclusionWindow(ctx.Now, policy.TradingHours, policy.Limits.TimeOfDayExclusionMinutes) {
		violated = append(violated, "R12")
	}

	if len(violated) > 0 {
		decision := types.ManualReview
		for _, id := range violated {
			if policy.severity(id) == Blocker {
				decision = types.Reject
				break
			}
		}
		return types.RiskDecision{
			Decision:      decision,
			Reason:        buildRejectionReason(violated, policy, metrics),
			ViolatedRules: violated,
			Warnings:      warnings,
			Metrics:       metrics,
		}
	}

	return types.RiskDecision{
		Decision: types.Approve,
		Reason:   "all enabled risk rules passed",
		Warnings: warnings,
		Metrics:  metrics,
	}
}

// updateDrawdown refreshes the high-water mark and returns the current
// drawdown percentage.
func (e *Engine) updateDrawdown(currentValue decimal.Decimal) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.highWaterMark.IsZero() || currentValue.GreaterThan(e.highWaterMark) {
		e.highWaterMark = currentValue
		return decimal.Zero
	}
	if e.highWaterMark.IsZero() {
		return decimal.Zero
	}
	drawdown := e.highWaterMark.Sub(currentValue)
	return drawdown.Div(e.highWaterMark).Mul(decimal.NewFromInt(100))
}

func warn80(value, limit decimal.Decimal) bool {
	if limit.Sign() <= 0 {
		return false
	}
	return value.GreaterThanOrEqual(limit.Mul(decimal.NewFromFloat(0.8)))
}

func isMarketOpen(now time.Time, hours TradingHours) bool {
	open, ok1 := parseHHMM(hours.MarketOpenUTC)
	close_, ok2 := parseHHMM(hours.MarketCloseUTC)
	if !ok1 || !ok2 {
		return true // no configured window means unrestricted
	}
	minutesNow := now.UTC().Hour()*60 + now.UTC().Minute()
	if minutesNow >= open && minutesNow <= close_ {
		return true
	}
	if hours.AllowPreMarket && minutesNow < open {
		return true
	}
	if hours.AllowAfterHours && minutesNow > close_ {
		return true
	}
	return false
}

func inExclusionWindow(now time.Time, hours TradingHours, exclusionMinutes int) bool {
	if exclusionMinutes <= 0 {
		return false
	}
	open, ok1 := parseHHMM(hours.MarketOpenUTC)
	close_, ok2 := parseHHMM(hours.MarketCloseUTC)
	if !ok1 || !ok2 {
		return false
	}
	minutesNow := now.UTC().Hour()*60 + now.UTC().Minute()
	if minutesNow >= open && minutesNow < open+exclusionMinutes {
		return true
	}
	if minutesNow > close_-exclusionMinutes && minutesNow <= close_ {
		return true
	}
	return false
}

func parseHHMM(s string) (int, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return h*60 + m, true
}

func buildRejectionReason(violated []string, policy Policy, metrics map[string]float64) string {
	reasons := make([]string, 0, len(violated))
	for _, id := range violated {
		switch id {
		case "R1":
			reasons = append(reasons, fmt.Sprintf("R1: notional $%.2f exceeds max_notional_per_trade=$%s", metrics["gross_notional"], policy.Limits.MaxNotionalPerTrade.StringFixed(2)))
		case "R2":
			reasons = append(reasons, fmt.Sprintf("R2: position weight %.1f%% exceeds max_position_weight=%.1f%%", metrics["position_pct"], policy.Limits.MaxPositionWeight.Mul(decimal.NewFromInt(100)).InexactFloat64()))
		case "R3":
			reasons = append(reasons, "R3: sector exposure exceeds max_sector_weight")
		case "R4":
			reasons = append(reasons, fmt.Sprintf("R4: slippage %.1f bps exceeds max_slippage_bps=%s", metrics["slippage_bps"], policy.Limits.MaxSlippageBps.String()))
		case "R5":
			reasons = append(reasons, "R5: outside the configured trading window")
		case "R6":
			reasons = append(reasons, "R6: instrument liquidity below min_liquidity")
		case "R7":
			reasons = append(reasons, fmt.Sprintf("R7: daily trade count %.0f reached max_daily_trades=%d", metrics["daily_trades_count"], policy.Limits.MaxDailyTrades))
		case "R8":
			reasons = append(reasons, fmt.Sprintf("R8: daily P&L $%.2f breaches max_daily_loss=$%s", metrics["daily_pnl"], policy.Limits.MaxDailyLoss.StringFixed(2)))
		case "R9":
			reasons = append(reasons, fmt.Sprintf("R9: position risk %.2f%% exceeds max_position_volatility=%.2f%%", metrics["position_risk_pct"], policy.Limits.MaxPositionVolatility.Mul(decimal.NewFromInt(100)).InexactFloat64()))
		case "R10":
			reasons = append(reasons, "R10: correlated exposure exceeds max_correlation_exposure")
		case "R11":
			reasons = append(reasons, fmt.Sprintf("R11: drawdown %.2f%% exceeds max_drawdown_pct=%.1f%%; halt requested", metrics["drawdown_pct"], policy.Limits.MaxDrawdownPct.InexactFloat64()))
		case "R12":
			reasons = append(reasons, "R12: too close to market open/close")
		default:
			reasons = append(reasons, id)
		}
	}
	return strings.Join(reasons, "; ")
}
