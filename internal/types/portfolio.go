package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a held quantity of an instrument.
type Position struct {
	Instrument    Instrument      `json:"instrument"`
	Quantity      decimal.Decimal `json:"quantity"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
}

// Cash is a single-currency balance.
type Cash struct {
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
}

// Portfolio is a point-in-time account snapshot obtained from the
// Broker Adapter. The core never mutates it (spec.md §3).
type Portfolio struct {
	AccountID  string     `json:"account_id"`
	TotalValue decimal.Decimal `json:"total_value"`
	Cash       []Cash     `json:"cash"`
	Positions  []Position `json:"positions"`
	Timestamp  time.Time  `json:"timestamp"`
}

// CashTotal returns the balance for currency, or zero if absent.
func (p Portfolio) CashTotal(currency string) decimal.Decimal {
	for _, c := range p.Cash {
		if c.Currency == currency {
			return c.Total
		}
	}
	return decimal.Zero
}

// PositionFor returns the position for symbol, or a zero-value position.
func (p Portfolio) PositionFor(symbol string) Position {
	for _, pos := range p.Positions {
		if pos.Instrument.Symbol == symbol {
			return pos
		}
	}
	return Position{}
}

// OHLC is a single bar's open/high/low/close.
type OHLC struct {
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// MarketSnapshot is a point-in-time quote for one instrument.
type MarketSnapshot struct {
	Instrument Instrument      `json:"instrument"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Last       decimal.Decimal `json:"last"`
	Volume     decimal.Decimal `json:"volume"`
	OHLC       OHLC            `json:"ohlc"`
	PrevClose  decimal.Decimal `json:"prev_close"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Mid returns (bid+ask)/2.
func (m MarketSnapshot) Mid() decimal.Decimal {
	return m.Bid.Add(m.Ask).Div(decimal.NewFromInt(2))
}

// Stale reports whether the snapshot is older than maxAge relative to now.
func (m MarketSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(m.Timestamp) > maxAge
}

// Bar is a single OHLCV candle.
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Candidate is a fuzzy instrument-search result.
type Candidate struct {
	Instrument Instrument `json:"instrument"`
	Name       string     `json:"name"`
	Score      float64    `json:"score"`
}

// Contract is a resolved, broker-addressable instrument.
type Contract struct {
	ConID      string     `json:"con_id"`
	Instrument Instrument `json:"instrument"`
}

// OrderStatus is the broker-reported lifecycle state of a submitted order.
type OrderStatus string

const (
	BrokerNew       OrderStatus = "NEW"
	BrokerFilled    OrderStatus = "FILLED"
	BrokerCancelled OrderStatus = "CANCELLED"
	BrokerRejected  OrderStatus = "REJECTED"
)

// OpenOrder is the broker's view of a live or recently-terminal order.
type OpenOrder struct {
	BrokerOrderID string          `json:"broker_order_id"`
	Instrument    Instrument      `json:"instrument"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	Status        OrderStatus     `json:"status"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
