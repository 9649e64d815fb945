package gateway

// Request payloads for every tool in DefaultTools. Field tags drive
// go-playground/validator schema enforcement (spec.md §4.9.2: "strict
// input schema... type-exact: decimals for money, regex-constrained
// strings for symbols, enum-constrained enumerations").
//
// Decoding uses json.Decoder.DisallowUnknownFields, so an unrecognized
// field is a VALIDATION_FAILED denial before validator ever runs.

type PortfolioParams struct {
	AccountID string `json:"account_id" validate:"required"`
}

type PositionsParams struct {
	AccountID string `json:"account_id" validate:"required"`
}

type CashParams struct {
	AccountID string `json:"account_id" validate:"required"`
}

type OpenOrdersParams struct {
	AccountID string `json:"account_id" validate:"required"`
}

type MarketSnapshotParams struct {
	Symbol string `json:"symbol" validate:"required,uppercase,alphanum,max=10"`
}

type MarketBarsParams struct {
	Symbol    string `json:"symbol" validate:"required,uppercase,alphanum,max=10"`
	Timeframe string `json:"timeframe" validate:"required,oneof=M1 M5 H1 D1"`
	Limit     int    `json:"limit" validate:"required,min=1,max=1000"`
}

type InstrumentSearchParams struct {
	Query string `json:"query" validate:"required,min=1,max=64"`
}

type InstrumentResolveParams struct {
	Hint string `json:"hint" validate:"required,min=1,max=64"`
}

type SimulateOrderParams struct {
	AccountID  string `json:"account_id" validate:"required"`
	Symbol     string `json:"symbol" validate:"required,uppercase,alphanum,max=10"`
	Side       string `json:"side" validate:"required,oneof=BUY SELL"`
	OrderType  string `json:"order_type" validate:"required,oneof=MKT LMT STP STP_LMT"`
	Quantity   string `json:"quantity" validate:"required,numeric"`
	LimitPrice string `json:"limit_price" validate:"omitempty,numeric"`
	StopPrice  string `json:"stop_price" validate:"omitempty,numeric"`
	Reason     string `json:"reason" validate:"required,min=10"`
}

type EvaluateRiskParams struct {
	AccountID string `json:"account_id" validate:"required"`
	Symbol    string `json:"symbol" validate:"required,uppercase,alphanum,max=10"`
	Side      string `json:"side" validate:"required,oneof=BUY SELL"`
	Quantity  string `json:"quantity" validate:"required,numeric"`
}

type RequestApprovalParams struct {
	AccountID  string `json:"account_id" validate:"required"`
	Symbol     string `json:"symbol" validate:"required,uppercase,alphanum,max=10"`
	Side       string `json:"side" validate:"required,oneof=BUY SELL"`
	OrderType  string `json:"order_type" validate:"required,oneof=MKT LMT STP STP_LMT"`
	Quantity   string `json:"quantity" validate:"required,numeric"`
	LimitPrice string `json:"limit_price" validate:"omitempty,numeric"`
	StopPrice  string `json:"stop_price" validate:"omitempty,numeric"`
	Reason     string `json:"reason" validate:"required,min=10"`
}

type RequestOrderCancelParams struct {
	BrokerOrderID string `json:"broker_order_id" validate:"required"`
	Reason        string `json:"reason" validate:"required,min=5"`
}

type RequestOrderModifyParams struct {
	BrokerOrderID string `json:"broker_order_id" validate:"required"`
	NewQuantity   string `json:"new_quantity" validate:"omitempty,numeric"`
	NewLimitPrice string `json:"new_limit_price" validate:"omitempty,numeric"`
}

// paramsFactory returns a fresh, addressable zero value for tool name's
// params struct, so the schema step can decode+validate into it.
func paramsFactory(name string) (any, bool) {
	switch name {
	case "portfolio":
		return &PortfolioParams{}, true
	case "positions":
		return &PositionsParams{}, true
	case "cash":
		return &CashParams{}, true
	case "open_orders":
		return &OpenOrdersParams{}, true
	case "market_snapshot":
		return &MarketSnapshotParams{}, true
	case "market_bars":
		return &MarketBarsParams{}, true
	case "instrument_search":
		return &InstrumentSearchParams{}, true
	case "instrument_resolve":
		return &InstrumentResolveParams{}, true
	case "simulate_order":
		return &SimulateOrderParams{}, true
	case "evaluate_risk":
		return &EvaluateRiskParams{}, true
	case "request_approval":
		return &RequestApprovalParams{}, true
	case "request_order_cancel":
		return &RequestOrderCancelParams{}, true
	case "request_order_modify":
		return &RequestOrderModifyParams{}, true
	default:
		return nil, false
	}
}
