package simulate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradegate/internal/types"
)

var (
	hundred = decimal.NewFromInt(100)
	tenK    = decimal.NewFromInt(10000)
	zero    = decimal.Zero
)

// Simulate projects the cash/exposure effect of intent against snapshot
// and portfolio, per spec.md §4.4. It performs no I/O; the caller is
// responsible for fetching a fresh snapshot beforehand.
func Simulate(portfolio types.Portfolio, snapshot *types.MarketSnapshot, intent types.OrderIntent, cfg Config) types.SimulationResult {
	if intent.Quantity.Sign() <= 0 {
		return types.SimulationResult{
			Status:       types.SimInvalidQuantity,
			ErrorMessage: fmt.Sprintf("invalid quantity: %s", intent.Quantity.String()),
		}
	}

	if snapshot == nil {
		return types.SimulationResult{
			Status:       types.SimPriceUnavailable,
			ErrorMessage: "no market snapshot available",
		}
	}

	executionPrice, ok := estimateExecutionPrice(intent, *snapshot)
	if !ok {
		return types.SimulationResult{
			Status:       types.SimPriceUnavailable,
			ErrorMessage: "cannot determine execution price",
		}
	}

	grossNotional := executionPrice.Mul(intent.Quantity)

	slippage := calculateSlippage(intent, grossNotional, cfg)
	fee := calculateFee(intent.Quantity, grossNotional, cfg)

	var netNotional decimal.Decimal
	if intent.Side == types.Buy {
		netNotional = grossNotional.Add(fee).Add(slippage)
	} else {
		netNotional = grossNotional.Sub(fee).Sub(slippage)
	}

	cashBefore := portfolio.CashTotal(intent.Instrument.Currency)
	if cashBefore.IsZero() && len(portfolio.Cash) > 0 {
		// spec.md §4.4 uses "the" cash balance; when the intent's currency
		// has no explicit balance, fall back to the account's primary one.
		cashBefore = portfolio.Cash[0].Total
	}

	var cashAfter decimal.Decimal
	if intent.Side == types.Buy {
		cashAfter = cashBefore.Sub(netNotional)
	} else {
		cashAfter = cashBefore.Add(netNotional)
	}

	if intent.Side == types.Buy && cashAfter.Sign() < 0 {
		return types.SimulationResult{
			Status:         types.SimInsufficientCash,
			ExecutionPrice: executionPrice,
			GrossNotional:  grossNotional,
			EstimatedFee:   fee,
			EstimatedSlippage: slippage,
			NetNotional:    netNotional,
			CashBefore:     cashBefore,
			CashAfter:      cashAfter,
			ErrorMessage:   fmt.Sprintf("insufficient cash: need %s, have %s", netNotional.StringFixed(2), cashBefore.StringFixed(2)),
		}
	}

	exposureBefore := portfolio.TotalValue
	var exposureAfter decimal.Decimal
	if intent.Side == types.Buy {
		exposureAfter = exposureBefore.Add(grossNotional)
	} else {
		exposureAfter = exposureBefore.Sub(grossNotional)
	}

	if msg, violated := checkConstraints(intent, slippage, grossNotional); violated {
		return types.SimulationResult{
			Status:            types.SimConstraintViolated,
			ExecutionPrice:    executionPrice,
			GrossNotional:     grossNotional,
			EstimatedFee:      fee,
			EstimatedSlippage: slippage,
			NetNotional:       netNotional,
			CashBefore:        cashBefore,
			CashAfter:         cashAfter,
			ExposureBefore:    exposureBefore,
			ExposureAfter:     exposureAfter,
			ErrorMessage:      msg,
		}
	}

	var warnings []string
	if intent.OrderType == types.OrderMKT {
		warnings = append(warnings, "market order: slippage is an estimate, not a guarantee")
	}
	if !grossNotional.IsZero() {
		slippageBps := slippage.Div(grossNotional).Mul(tenK)
		if slippageBps.GreaterThan(cfg.SlippageWarnBps) {
			warnings = append(warnings, fmt.Sprintf("estimated slippage %s bps exceeds the %s bps warning threshold", slippageBps.StringFixed(1), cfg.SlippageWarnBps.String()))
		}
	}
	if grossNotional.GreaterThan(cfg.LargeTradeNotional) {
		warnings = append(warnings, fmt.Sprintf("large trade: %s exceeds %s", grossNotional.StringFixed(2), cfg.LargeTradeNotional.StringFixed(2)))
	}

	return types.SimulationResult{
		Status:            types.SimSuccess,
		ExecutionPrice:    executionPrice,
		GrossNotional:     grossNotional,
		EstimatedFee:      fee,
		EstimatedSlippage: slippage,
		NetNotional:       netNotional,
		CashBefore:        cashBefore,
		CashAfter:         cashAfter,
		ExposureBefore:    exposureBefore,
		ExposureAfter:     exposureAfter,
		Warnings:          warnings,
	}
}

// STP_LMT is priced with STP/MKT (current ask/bid by side), not with LMT
// at the limit price: spec.md's execution-price rule is explicit that
// STP/STP_LMT both use "current price (BUY uses ask, SELL uses bid)",
// overriding the original Python prototype's stop-price-only model.
func estimateExecutionPrice(intent types.OrderIntent, snapshot types.MarketSnapshot) (decimal.Decimal, bool) {
	switch intent.OrderType {
	case types.OrderMKT, types.OrderSTP, types.OrderSTPLMT:
		if intent.Side == types.Buy {
			return snapshot.Ask, true
		}
		return snapshot.Bid, true
	case types.OrderLMT:
		if intent.LimitPrice == nil {
			return zero, false
		}
		return *intent.LimitPrice, true
	default:
		return zero, false
	}
}

// calculateSlippage is zero only for LMT orders; MKT, STP and STP_LMT
// (which all execute at the current ask/bid once triggered) accrue both
// a fixed-bps and a size-proportional market-impact component.
func calculateSlippage(intent types.OrderIntent, grossNotional decimal.Decimal, cfg Config) decimal.Decimal {
	if intent.OrderType == types.OrderLMT {
		return zero
	}

	base := grossNotional.Mul(cfg.BaseSlippageBps).Div(tenK)
	impact := grossNotional.Div(cfg.LiquidityProxy).Mul(cfg.MarketImpactFactor)
	return base.Add(impact)
}

func calculateFee(quantity, grossNotional decimal.Decimal, cfg Config) decimal.Decimal {
	perShare := cfg.PerShareRate.Mul(quantity)
	fee := decimal.Max(perShare, cfg.MinFee)
	maxFee := grossNotional.Mul(cfg.MaxFeeFraction)
	if fee.GreaterThan(maxFee) {
		fee = maxFee
	}
	if fee.Sign() < 0 {
		fee = zero
	}
	return fee
}

func checkConstraints(intent types.OrderIntent, slippage, grossNotional decimal.Decimal) (string, bool) {
	if intent.Constraints.MaxSlippageBps.Sign() > 0 && !grossNotional.IsZero() {
		slippageBps := slippage.Div(grossNotional).Mul(tenK)
		if slippageBps.GreaterThan(intent.Constraints.MaxSlippageBps) {
			return fmt.Sprintf("estimated slippage %s bps exceeds max %s bps", slippageBps.StringFixed(1), intent.Constraints.MaxSlippageBps.String()), true
		}
	}
	if intent.Constraints.MaxNotional.Sign() > 0 && grossNotional.GreaterThan(intent.Constraints.MaxNotional) {
		return fmt.Sprintf("gross notional %s exceeds max notional %s", grossNotional.StringFixed(2), intent.Constraints.MaxNotional.StringFixed(2)), true
	}
	return "", false
}
