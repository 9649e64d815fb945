package core

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradegate/internal/broker"
	"github.com/rustyeddy/tradegate/internal/cancelmodify"
	"github.com/rustyeddy/tradegate/internal/errs"
	"github.com/rustyeddy/tradegate/internal/gateway"
	"github.com/rustyeddy/tradegate/internal/risk"
	"github.com/rustyeddy/tradegate/internal/simulate"
	"github.com/rustyeddy/tradegate/internal/types"
)

// registerTools binds every DefaultTools entry (spec.md §4.9 "Tools
// exposed") to the concrete service that implements it. This is the
// only place internal/gateway's generic Handler type meets internal/core's
// concrete services, keeping the gateway itself dependency-free.
//
// request_approval never hands back a token — it returns a proposal_id
// only (spec.md §4.9: the gateway "must never expose an operation that
// yields a valid token or invokes the broker's write calls directly").
func (c *Core) registerTools() {
	c.Gateway.Register("portfolio", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.PortfolioParams)
		return c.Broker.GetPortfolio(ctx, p.AccountID)
	})

	c.Gateway.Register("positions", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.PositionsParams)
		return c.Broker.GetPositions(ctx, p.AccountID)
	})

	c.Gateway.Register("cash", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.CashParams)
		return c.Broker.GetCash(ctx, p.AccountID)
	})

	c.Gateway.Register("open_orders", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.OpenOrdersParams)
		return c.Broker.GetOpenOrders(ctx, p.AccountID)
	})

	c.Gateway.Register("market_snapshot", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.MarketSnapshotParams)
		return c.Broker.GetMarketSnapshot(ctx, types.Instrument{Symbol: p.Symbol})
	})

	c.Gateway.Register("market_bars", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.MarketBarsParams)
		tf, err := parseTimeframe(p.Timeframe)
		if err != nil {
			return nil, err
		}
		return c.Broker.GetMarketBars(ctx, types.Instrument{Symbol: p.Symbol}, tf, p.Limit)
	})

	c.Gateway.Register("instrument_search", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.InstrumentSearchParams)
		return c.Broker.InstrumentSearch(ctx, p.Query, broker.SearchFilters{})
	})

	c.Gateway.Register("instrument_resolve", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.InstrumentResolveParams)
		return c.Broker.InstrumentResolve(ctx, p.Hint)
	})

	c.Gateway.Register("simulate_order", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.SimulateOrderParams)
		intent, err := BuildIntent(p.AccountID, p.Symbol, p.Side, p.OrderType, p.Quantity, p.LimitPrice, p.StopPrice, p.Reason)
		if err != nil {
			return nil, err
		}
		sim, _, err := c.SimulateIntent(ctx, intent)
		return sim, err
	})

	c.Gateway.Register("evaluate_risk", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.EvaluateRiskParams)
		intent, err := BuildIntent(p.AccountID, p.Symbol, p.Side, string(types.OrderMKT), p.Quantity, "", "", "risk evaluation via tool gateway probe")
		if err != nil {
			return nil, err
		}
		sim, portfolio, err := c.SimulateIntent(ctx, intent)
		if err != nil {
			return nil, err
		}
		return c.Risk.Evaluate(intent, portfolio, sim, c.RiskContext(ctx)), nil
	})

	c.Gateway.Register("request_approval", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.RequestApprovalParams)
		intent, err := BuildIntent(p.AccountID, p.Symbol, p.Side, p.OrderType, p.Quantity, p.LimitPrice, p.StopPrice, p.Reason)
		if err != nil {
			return nil, err
		}
		sim, portfolio, err := c.SimulateIntent(ctx, intent)
		if err != nil {
			return nil, err
		}
		decision := c.Risk.Evaluate(intent, portfolio, sim, c.RiskContext(ctx))

		proposal, err := c.Approvals.Create(ctx, "", intent, sim, decision)
		if err != nil {
			return nil, err
		}
		proposal, _, err = c.Approvals.Request(ctx, proposal.ProposalID)
		if err != nil {
			return nil, err
		}
		return map[string]string{"proposal_id": proposal.ProposalID, "state": string(proposal.State)}, nil
	})

	c.Gateway.Register("request_order_cancel", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.RequestOrderCancelParams)
		ci, err := c.CancelModify.RequestCancel(ctx, "", p.BrokerOrderID, p.Reason)
		if err != nil {
			return nil, err
		}
		return map[string]string{"request_id": ci.RequestID}, nil
	})

	c.Gateway.Register("request_order_modify", func(ctx context.Context, params any) (any, error) {
		p := params.(*gateway.RequestOrderModifyParams)
		newParams, err := modifyParamsFromFields(p.NewQuantity, p.NewLimitPrice)
		if err != nil {
			return nil, err
		}
		mi, err := c.CancelModify.RequestModify(ctx, "", p.BrokerOrderID, newParams)
		if err != nil {
			return nil, err
		}
		return map[string]string{"request_id": mi.RequestID}, nil
	})
}

// SimulateIntent fetches a fresh snapshot and portfolio and runs the pure
// simulator (spec.md §4.4 requires a fresh snapshot per simulation, never
// a cached one). Exported so both the Tool Gateway's handlers and
// cmd/tradegate's flag-driven CLI commands run the identical fetch-then-
// simulate path instead of the CLI reimplementing it.
func (c *Core) SimulateIntent(ctx context.Context, intent types.OrderIntent) (types.SimulationResult, types.Portfolio, error) {
	snapshot, err := c.Broker.GetMarketSnapshot(broker.WithSkipCache(ctx), intent.Instrument)
	if err != nil {
		return types.SimulationResult{}, types.Portfolio{}, errs.Internalf("SNAPSHOT_UNAVAILABLE", err, "fetch market snapshot for %s", intent.Instrument.Symbol)
	}
	portfolio, err := c.Broker.GetPortfolio(ctx, intent.AccountID)
	if err != nil {
		return types.SimulationResult{}, types.Portfolio{}, errs.Internalf("PORTFOLIO_UNAVAILABLE", err, "fetch portfolio for %s", intent.AccountID)
	}
	return simulate.Simulate(portfolio, &snapshot, intent, c.SimConfig), portfolio, nil
}

// RiskContext builds the live EvalContext the risk engine needs beyond
// the pure intent/portfolio/simulation triple: the kill switch's current
// state (spec.md §4.5 R-KS gates ahead of every other rule). Exported for
// the same reason as SimulateIntent above.
func (c *Core) RiskContext(ctx context.Context) risk.EvalContext {
	enabled, reason := c.KillSwitch.IsEnabled(ctx)
	return risk.EvalContext{
		KillSwitchEnabled: enabled,
		KillSwitchReason:  reason,
	}
}

func parseTimeframe(s string) (broker.Timeframe, error) {
	switch s {
	case "M1":
		return broker.Minute1, nil
	case "M5":
		return broker.Minute5, nil
	case "H1":
		return broker.Hour1, nil
	case "D1":
		return broker.Day1, nil
	default:
		return "", errs.Validationf("INVALID_TIMEFRAME", "unknown timeframe %q", s)
	}
}

// BuildIntent parses the wire/CLI-level string fields shared by the
// Tool Gateway's order params and cmd/tradegate's flag-driven commands
// into a normalized, validated OrderIntent.
func BuildIntent(accountID, symbol, side, orderType, quantity, limitPrice, stopPrice, reason string) (types.OrderIntent, error) {
	qty, err := decimal.NewFromString(quantity)
	if err != nil {
		return types.OrderIntent{}, errs.Validationf("INVALID_QUANTITY", "quantity: %v", err)
	}
	intent := types.OrderIntent{
		AccountID:   accountID,
		Instrument:  types.Instrument{Symbol: symbol, Type: types.InstrumentSTK},
		Side:        types.Side(side),
		OrderType:   types.OrderType(orderType),
		Quantity:    qty,
		TimeInForce: types.TIFDay,
		Reason:      reason,
	}
	if limitPrice != "" {
		lp, err := decimal.NewFromString(limitPrice)
		if err != nil {
			return types.OrderIntent{}, errs.Validationf("INVALID_LIMIT_PRICE", "limit_price: %v", err)
		}
		intent.LimitPrice = &lp
	}
	if stopPrice != "" {
		sp, err := decimal.NewFromString(stopPrice)
		if err != nil {
			return types.OrderIntent{}, errs.Validationf("INVALID_STOP_PRICE", "stop_price: %v", err)
		}
		intent.StopPrice = &sp
	}
	if err := intent.Validate(); err != nil {
		return types.OrderIntent{}, errs.Wrap(errs.Validation, "INVALID_INTENT", err.Error(), err)
	}
	return intent, nil
}

func modifyParamsFromFields(newQuantity, newLimitPrice string) (cancelmodify.ModifyParams, error) {
	var params cancelmodify.ModifyParams
	if newQuantity != "" {
		q, err := decimal.NewFromString(newQuantity)
		if err != nil {
			return params, errs.Validationf("INVALID_QUANTITY", "new_quantity: %v", err)
		}
		params.Quantity = &q
	}
	if newLimitPrice != "" {
		lp, err := decimal.NewFromString(newLimitPrice)
		if err != nil {
			return params, errs.Validationf("INVALID_LIMIT_PRICE", "new_limit_price: %v", err)
		}
		params.LimitPrice = &lp
	}
	return params, nil
}
