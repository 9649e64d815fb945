// Package types holds the domain model shared by every tradegate
// component: order intents, portfolio/market snapshots, simulation and
// risk results, and the order lifecycle state machine (spec.md §3).
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type InstrumentType string

const (
	InstrumentSTK    InstrumentType = "STK"
	InstrumentETF    InstrumentType = "ETF"
	InstrumentFUT    InstrumentType = "FUT"
	InstrumentFX     InstrumentType = "FX"
	InstrumentCrypto InstrumentType = "CRYPTO"
)

type OrderType string

const (
	OrderMKT    OrderType = "MKT"
	OrderLMT    OrderType = "LMT"
	OrderSTP    OrderType = "STP"
	OrderSTPLMT OrderType = "STP_LMT"
)

type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// Instrument identifies a tradeable security.
type Instrument struct {
	Symbol   string         `json:"symbol"`
	Type     InstrumentType `json:"type"`
	Exchange string         `json:"exchange"`
	Currency string         `json:"currency"`
}

// Constraints are caller-supplied ceilings enforced by the simulator
// (spec.md §4.4) independent of the risk policy.
type Constraints struct {
	MaxSlippageBps decimal.Decimal `json:"max_slippage_bps"`
	MaxNotional    decimal.Decimal `json:"max_notional"`
}

// OrderIntent is an immutable, declarative order specification. It is
// never directly executable; it must pass through simulation, risk
// evaluation and approval before the Order Submitter will touch it.
type OrderIntent struct {
	AccountID    string          `json:"account_id"`
	Instrument   Instrument      `json:"instrument"`
	Side         Side            `json:"side"`
	OrderType    OrderType       `json:"order_type"`
	Quantity     decimal.Decimal `json:"quantity"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice    *decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce  TimeInForce     `json:"time_in_force"`
	Reason       string          `json:"reason"`
	StrategyTag  string          `json:"strategy_tag,omitempty"`
	Constraints  Constraints     `json:"constraints"`
}

// Normalize applies the canonical form required before validation and
// hashing: symbol uppercasing (spec.md §3).
func (o OrderIntent) Normalize() OrderIntent {
	o.Instrument.Symbol = strings.ToUpper(strings.TrimSpace(o.Instrument.Symbol))
	return o
}

// Validate enforces every field-level invariant from spec.md §3.
func (o OrderIntent) Validate() error {
	if strings.TrimSpace(o.AccountID) == "" {
		return fmt.Errorf("account_id is required")
	}
	if o.Instrument.Symbol == "" {
		return fmt.Errorf("instrument.symbol is required")
	}
	switch o.Instrument.Type {
	case InstrumentSTK, InstrumentETF, InstrumentFUT, InstrumentFX, InstrumentCrypto:
	default:
		return fmt.Errorf("invalid instrument.type %q", o.Instrument.Type)
	}
	switch o.Side {
	case Buy, Sell:
	default:
		return fmt.Errorf("invalid side %q", o.Side)
	}
	switch o.OrderType {
	case OrderMKT, OrderLMT, OrderSTP, OrderSTPLMT:
	default:
		return fmt.Errorf("invalid order_type %q", o.OrderType)
	}
	if o.Quantity.Sign() <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	needsLimit := o.OrderType == OrderLMT || o.OrderType == OrderSTPLMT
	if needsLimit && (o.LimitPrice == nil || o.LimitPrice.Sign() <= 0) {
		return fmt.Errorf("limit_price is required for order_type %q", o.OrderType)
	}
	needsStop := o.OrderType == OrderSTP || o.OrderType == OrderSTPLMT
	if needsStop && (o.StopPrice == nil || o.StopPrice.Sign() <= 0) {
		return fmt.Errorf("stop_price is required for order_type %q", o.OrderType)
	}
	switch o.TimeInForce {
	case TIFDay, TIFGTC, TIFIOC, TIFFOK:
	default:
		return fmt.Errorf("invalid time_in_force %q", o.TimeInForce)
	}
	if len(strings.TrimSpace(o.Reason)) < 10 {
		return fmt.Errorf("reason must be at least 10 characters")
	}
	if len(strings.Fields(o.Reason)) < 3 {
		return fmt.Errorf("reason must contain at least 3 words")
	}
	if o.Constraints.MaxSlippageBps.Sign() != 0 {
		if o.Constraints.MaxSlippageBps.Sign() < 0 || o.Constraints.MaxSlippageBps.GreaterThan(decimal.NewFromInt(1000)) {
			return fmt.Errorf("constraints.max_slippage_bps must be within [0, 1000]")
		}
	}
	if o.Constraints.MaxNotional.Sign() != 0 && o.Constraints.MaxNotional.Sign() < 0 {
		return fmt.Errorf("constraints.max_notional must be > 0")
	}
	return nil
}

// canonicalIntent is the field-ordered projection used for hashing, so
// that the JSON encoder's map/struct field order never changes the hash.
type canonicalIntent struct {
	AccountID      string `json:"account_id"`
	Symbol         string `json:"symbol"`
	InstrumentType string `json:"instrument_type"`
	Exchange       string `json:"exchange"`
	Currency       string `json:"currency"`
	Side           string `json:"side"`
	OrderType      string `json:"order_type"`
	Quantity       string `json:"quantity"`
	LimitPrice     string `json:"limit_price,omitempty"`
	StopPrice      string `json:"stop_price,omitempty"`
	TimeInForce    string `json:"time_in_force"`
	Reason         string `json:"reason"`
	StrategyTag    string `json:"strategy_tag,omitempty"`
	MaxSlippageBps string `json:"max_slippage_bps,omitempty"`
	MaxNotional    string `json:"max_notional,omitempty"`
}

// Canonical returns the deterministic JSON encoding of the intent used
// for hashing (spec.md §3, §8 "canonicalize(intent) -> bytes -> sha256").
func (o OrderIntent) Canonical() ([]byte, error) {
	n := o.Normalize()
	c := canonicalIntent{
		AccountID:      n.AccountID,
		Symbol:         n.Instrument.Symbol,
		InstrumentType: string(n.Instrument.Type),
		Exchange:       n.Instrument.Exchange,
		Currency:       n.Instrument.Currency,
		Side:           string(n.Side),
		OrderType:      string(n.OrderType),
		Quantity:       n.Quantity.String(),
		TimeInForce:    string(n.TimeInForce),
		Reason:         n.Reason,
		StrategyTag:    n.StrategyTag,
	}
	if n.LimitPrice != nil {
		c.LimitPrice = n.LimitPrice.String()
	}
	if n.StopPrice != nil {
		c.StopPrice = n.StopPrice.String()
	}
	if n.Constraints.MaxSlippageBps.Sign() != 0 {
		c.MaxSlippageBps = n.Constraints.MaxSlippageBps.String()
	}
	if n.Constraints.MaxNotional.Sign() != 0 {
		c.MaxNotional = n.Constraints.MaxNotional.String()
	}
	return json.Marshal(c)
}

// Hash returns the SHA-256 hex digest of the canonical encoding.
func (o OrderIntent) Hash() (string, error) {
	b, err := o.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
