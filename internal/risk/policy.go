// Package risk implements the twelve-rule deterministic policy evaluator
// (spec.md §4.5), grounded on original_source/packages/risk_engine's
// engine.py (R1-R8) and advanced.py (R9-R12), restated as a YAML-driven,
// hot-reloadable Go policy in the style of the teacher's risk package
// (Decision/Violation shape) and config.go (LoadFromFile pattern).
package risk

import (
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Severity string

const (
	Blocker Severity = "BLOCKER"
	Major   Severity = "MAJOR"
	Minor   Severity = "MINOR"
)

// RuleConfig gates one rule's activation and its severity when violated.
// A BLOCKER violation always rejects; a MAJOR or MINOR violation with no
// BLOCKER violation alongside it produces MANUAL_REVIEW instead of REJECT
// (spec.md §4.5: "APPROVE only when all enabled rules pass; MANUAL_REVIEW
// when specified by severity").
type RuleConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Severity Severity `yaml:"severity"`
}

// Limits holds the numeric thresholds for R1-R12.
type Limits struct {
	MaxNotionalPerTrade      decimal.Decimal `yaml:"max_notional_per_trade"`
	MaxPositionWeight        decimal.Decimal `yaml:"max_position_weight"`
	MaxSectorWeight          decimal.Decimal `yaml:"max_sector_weight"`
	MaxSlippageBps           decimal.Decimal `yaml:"max_slippage_bps"`
	MinLiquidity             decimal.Decimal `yaml:"min_liquidity"`
	MaxDailyTrades           int             `yaml:"max_daily_trades"`
	MaxDailyLoss             decimal.Decimal `yaml:"max_daily_loss"`
	MaxPositionVolatility    decimal.Decimal `yaml:"max_position_volatility"`
	MaxCorrelationExposure   decimal.Decimal `yaml:"max_correlation_exposure"`
	MaxDrawdownPct           decimal.Decimal `yaml:"max_drawdown_pct"`
	TimeOfDayExclusionMinutes int            `yaml:"time_of_day_exclusion_minutes"`
}

// TradingHours configures R5.
type TradingHours struct {
	MarketOpenUTC    string `yaml:"market_open_utc"`
	MarketCloseUTC   string `yaml:"market_close_utc"`
	AllowPreMarket   bool   `yaml:"allow_pre_market"`
	AllowAfterHours  bool   `yaml:"allow_after_hours"`
}

// Policy is the full YAML-loadable rule configuration.
type Policy struct {
	Rules        map[string]RuleConfig `yaml:"rules"`
	Limits       Limits                `yaml:"limits"`
	TradingHours TradingHours          `yaml:"trading_hours"`
}

// ruleEnabled treats an absent rule entry as enabled — the policy file is
// expected to explicitly disable a rule, not omit it (spec.md §4.5
// "disabled rules are treated as always pass" implies the default without
// an entry is the pass-through default of "on").
func (p Policy) ruleEnabled(id string) bool {
	rc, ok := p.Rules[id]
	if !ok {
		return true
	}
	return rc.Enabled
}

func (p Policy) severity(id string) Severity {
	if rc, ok := p.Rules[id]; ok && rc.Severity != "" {
		return rc.Severity
	}
	return Blocker
}

// DefaultPolicy returns the spec.md §4.5 defaults, all rules enabled.
// Capital-preservation rules that guard against an outright unacceptable
// trade (notional, position weight, trading hours, trade/loss throttles,
// drawdown halt) are BLOCKER and reject outright. The advisory rules
// (sector/correlation concentration, slippage, liquidity, volatility
// sizing, open/close proximity) are MAJOR: a violation with no BLOCKER
// alongside it produces MANUAL_REVIEW instead, since none of them alone
// represents a trade that must never happen, only one worth a human
// second look (spec.md §4.5's severity-driven MANUAL_REVIEW branch).
func DefaultPolicy() Policy {
	blockers := []string{"R1", "R2", "R5", "R7", "R8", "R11"}
	majors := []string{"R3", "R4", "R6", "R9", "R10", "R12"}
	rules := map[string]RuleConfig{}
	for _, id := range blockers {
		rules[id] = RuleConfig{Enabled: true, Severity: Blocker}
	}
	for _, id := range majors {
		rules[id] = RuleConfig{Enabled: true, Severity: Major}
	}
	// R3/R10 require sector/correlation data this deployment doesn't
	// supply by default; leave them enabled but they no-op at evaluation
	// time when their inputs are absent (spec.md's own no-op clause).
	return Policy{
		Rules: rules,
		Limits: Limits{
			MaxNotionalPerTrade:       decimal.NewFromInt(50000),
			MaxPositionWeight:         decimal.NewFromFloat(0.10),
			MaxSectorWeight:           decimal.NewFromFloat(0.30),
			MaxSlippageBps:            decimal.NewFromInt(50),
			MinLiquidity:              decimal.Zero,
			MaxDailyTrades:            50,
			MaxDailyLoss:              decimal.NewFromInt(5000),
			MaxPositionVolatility:     decimal.NewFromFloat(0.02),
			MaxCorrelationExposure:    decimal.NewFromFloat(0.30),
			MaxDrawdownPct:            decimal.NewFromFloat(10),
			TimeOfDayExclusionMinutes: 10,
		},
		TradingHours: TradingHours{
			MarketOpenUTC:  "09:30",
			MarketCloseUTC: "16:00",
		},
	}
}

// LoadPolicy reads a YAML policy file, applying DefaultPolicy for any
// zero-valued field the file omits, mirroring the teacher's
// config.LoadFromFile fallback-to-defaults behavior.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, err
	}
	if err := yaml.Unmarshal(b, &policy); err != nil {
		return Policy{}, err
	}
	return policy, nil
}
