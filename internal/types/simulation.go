package types

import "github.com/shopspring/decimal"

type SimulationStatus string

const (
	SimSuccess             SimulationStatus = "SUCCESS"
	SimInsufficientCash    SimulationStatus = "INSUFFICIENT_CASH"
	SimInvalidQuantity     SimulationStatus = "INVALID_QUANTITY"
	SimPriceUnavailable    SimulationStatus = "PRICE_UNAVAILABLE"
	SimConstraintViolated  SimulationStatus = "CONSTRAINT_VIOLATED"
)

// SimulationResult is the deterministic pre-trade projection produced by
// the Trade Simulator (spec.md §4.4).
type SimulationResult struct {
	Status           SimulationStatus `json:"status"`
	ExecutionPrice   decimal.Decimal  `json:"execution_price"`
	GrossNotional    decimal.Decimal  `json:"gross_notional"`
	EstimatedFee     decimal.Decimal  `json:"estimated_fee"`
	EstimatedSlippage decimal.Decimal `json:"estimated_slippage"`
	NetNotional      decimal.Decimal  `json:"net_notional"`
	CashBefore       decimal.Decimal  `json:"cash_before"`
	CashAfter        decimal.Decimal  `json:"cash_after"`
	ExposureBefore   decimal.Decimal  `json:"exposure_before"`
	ExposureAfter    decimal.Decimal  `json:"exposure_after"`
	Warnings         []string         `json:"warnings,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
}

func (s SimulationResult) OK() bool { return s.Status == SimSuccess }

type Decision string

const (
	Approve      Decision = "APPROVE"
	Reject       Decision = "REJECT"
	ManualReview Decision = "MANUAL_REVIEW"
)

// RiskDecision is the deterministic verdict of the Risk Engine
// (spec.md §4.5).
type RiskDecision struct {
	Decision      Decision           `json:"decision"`
	Reason        string             `json:"reason"`
	ViolatedRules []string           `json:"violated_rules,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
}
