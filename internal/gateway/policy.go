// Package gateway implements the Tool Gateway (spec.md §4.9): the sole
// entry point for the language-model-driven tool surface. Every call
// passes through policy/allowlist, schema validation, rate-limiting and
// a circuit breaker, and successful outputs pass through redaction.
// Grounded on the teacher's cmd/trade CLI dispatch table for the
// "declarative registry of named operations" idiom, and on
// go-playground/validator (already in the teacher's stack) for schema
// enforcement, and golang.org/x/time/rate for the token buckets.
package gateway

// ToolClass distinguishes tools that only read state from those that
// mutate it through a gated, two-step-commit path (spec.md §4.9 "Tools
// exposed").
type ToolClass string

const (
	ReadOnly  ToolClass = "READ_ONLY"
	GatedWrite ToolClass = "GATED_WRITE"
)

// ToolPolicy is the declarative per-tool policy entry (spec.md §4.9.1).
type ToolPolicy struct {
	Name              string
	Class             ToolClass
	ForbiddenParams   []string
	PerSessionBudget  int // 0 means "use the gateway default"
	Schema            any // JSON-schema-shaped struct pointer used only for its Validate tags
}

// DefaultTools is the fixed tool surface named in spec.md §4.9: read-only
// portfolio/market/instrument/simulate/risk lookups, and three gated-write
// operations that only ever return identifiers, never tokens.
var DefaultTools = []ToolPolicy{
	{Name: "portfolio", Class: ReadOnly},
	{Name: "positions", Class: ReadOnly},
	{Name: "cash", Class: ReadOnly},
	{Name: "open_orders", Class: ReadOnly},
	{Name: "market_snapshot", Class: ReadOnly},
	{Name: "market_bars", Class: ReadOnly},
	{Name: "instrument_search", Class: ReadOnly},
	{Name: "instrument_resolve", Class: ReadOnly},
	{Name: "simulate_order", Class: ReadOnly},
	{Name: "evaluate_risk", Class: ReadOnly},
	{Name: "request_approval", Class: GatedWrite, ForbiddenParams: []string{"token_id", "token"}},
	{Name: "request_order_cancel", Class: GatedWrite, ForbiddenParams: []string{"token_id", "token"}},
	{Name: "request_order_modify", Class: GatedWrite, ForbiddenParams: []string{"token_id", "token"}},
}

// Policy is the allowlist plus rate-limit defaults (spec.md §4.9).
type Policy struct {
	Tools                map[string]ToolPolicy
	PerToolPerMinute     int
	PerSessionPerMinute  int
	GlobalPerMinute      int
	BreakerThreshold     int
	BreakerCooldownSecs  int
}

func DefaultPolicy() Policy {
	tools := make(map[string]ToolPolicy, len(DefaultTools))
	for _, t := range DefaultTools {
		tools[t.Name] = t
	}
	return Policy{
		Tools:               tools,
		PerToolPerMinute:    60,
		PerSessionPerMinute: 100,
		GlobalPerMinute:     1000,
		BreakerThreshold:    100,
		BreakerCooldownSecs: 300,
	}
}

// Lookup returns the policy for name and whether it is a known tool.
func (p Policy) Lookup(name string) (ToolPolicy, bool) {
	t, ok := p.Tools[name]
	return t, ok
}

// ForbidsParam reports whether paramName is forbidden for this tool.
func (t ToolPolicy) ForbidsParam(paramName string) bool {
	for _, p := range t.ForbiddenParams {
		if p == paramName {
			return true
		}
	}
	return false
}
