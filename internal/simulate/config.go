// Package simulate implements the deterministic pre-trade projection
// described in spec.md §4.4: fixed-precision decimal arithmetic over an
// OrderIntent, a MarketSnapshot and a Portfolio, with no I/O and no
// randomness so equal inputs always produce bit-identical output.
package simulate

import "github.com/shopspring/decimal"

// Config holds the tunable defaults for slippage and fee estimation.
// Values mirror spec.md §4.4; a Risk Engine policy reload never touches
// this struct — it is simulator-local, not part of the risk YAML.
type Config struct {
	BaseSlippageBps    decimal.Decimal
	MarketImpactFactor decimal.Decimal
	LiquidityProxy     decimal.Decimal

	PerShareRate  decimal.Decimal
	MinFee        decimal.Decimal
	MaxFeeFraction decimal.Decimal

	LargeTradeNotional decimal.Decimal
	SlippageWarnBps    decimal.Decimal
}

// DefaultConfig returns the spec.md §4.4 defaults.
func DefaultConfig() Config {
	return Config{
		BaseSlippageBps:    decimal.NewFromInt(5),
		MarketImpactFactor: decimal.Zero,
		LiquidityProxy:     decimal.NewFromInt(10000),
		PerShareRate:       decimal.NewFromFloat(0.005),
		MinFee:             decimal.NewFromInt(1),
		MaxFeeFraction:     decimal.NewFromFloat(0.01),
		LargeTradeNotional: decimal.NewFromInt(50000),
		SlippageWarnBps:    decimal.NewFromInt(20),
	}
}
