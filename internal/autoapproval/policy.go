// Package autoapproval implements the optional auto-approval policy
// (spec.md §4.6): a conjunction of allowlist/window/ceiling checks that,
// when it holds, lets the Approval Service skip the human
// APPROVAL_REQUESTED step. It satisfies approval.AutoApprover.
// Grounded on internal/risk's Policy pattern (a small struct of
// declarative limits loaded once, evaluated per call, no I/O).
package autoapproval

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradegate/internal/types"
)

// DCASchedule describes a recurring dollar-cost-average window this
// policy recognizes: symbol plus a fixed clock time (UTC) it is allowed
// to run within, per day.
type DCASchedule struct {
	Symbol   string
	AtUTC    string // "HH:MM"
	ToleranceMinutes int
}

// Policy is the conjunction described in spec.md §4.6.
type Policy struct {
	SymbolAllowlist    []string
	SymbolBlocklist    []string
	InstrumentAllowlist []types.InstrumentType
	OrderTypeAllowlist []types.OrderType
	WindowStartUTC     string // "HH:MM", empty disables the window check
	WindowEndUTC       string
	DCASchedules       []DCASchedule
	MaxPositionPctNAV  decimal.Decimal // 0 disables the check
	MaxNotional        decimal.Decimal // spec.md default $1,000

	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// DefaultMaxNotional is the spec.md default absolute notional ceiling
// (AUTO_APPROVAL_MAX_NOTIONAL env var).
var DefaultMaxNotional = decimal.NewFromInt(1000)

func DefaultPolicy() Policy {
	return Policy{
		OrderTypeAllowlist: []types.OrderType{types.OrderLMT},
		MaxNotional:        DefaultMaxNotional,
		Now:                time.Now,
	}
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Allow evaluates every enabled leg of the conjunction. It never inspects
// the kill switch; that check is the Approval Service's responsibility
// so this policy stays a pure function of (intent, simulation, NAV).
func (p Policy) Allow(ctx context.Context, intent types.OrderIntent, sim types.SimulationResult) (bool, string) {
	symbol := strings.ToUpper(intent.Instrument.Symbol)

	if contains(p.SymbolBlocklist, symbol) {
		return false, "symbol is blocklisted"
	}
	if len(p.SymbolAllowlist) > 0 && !contains(p.SymbolAllowlist, symbol) {
		return false, "symbol not in auto-approval allowlist"
	}
	if len(p.InstrumentAllowlist) > 0 && !containsInstrumentType(p.InstrumentAllowlist, intent.Instrument.Type) {
		return false, "instrument type not in auto-approval allowlist"
	}
	if len(p.OrderTypeAllowlist) > 0 && !containsOrderType(p.OrderTypeAllowlist, intent.OrderType) {
		return false, "order type not in auto-approval allowlist"
	}
	if p.WindowStartUTC != "" && p.WindowEndUTC != "" {
		if !inWindow(p.now(), p.WindowStartUTC, p.WindowEndUTC) {
			return false, "outside the configured auto-approval time window"
		}
	}
	if len(p.DCASchedules) > 0 && !matchesAnySchedule(p.DCASchedules, symbol, p.now()) {
		return false, "does not match a recurring DCA schedule and no other allowlist matched"
	}
	if p.MaxPositionPctNAV.Sign() > 0 && sim.ExposureBefore.Sign() > 0 {
		positionPct := sim.GrossNotional.Div(sim.ExposureBefore)
		if positionPct.GreaterThan(p.MaxPositionPctNAV) {
			return false, "position size exceeds auto-approval max_position_pct_nav"
		}
	}
	if sim.NetNotional.Abs().GreaterThan(p.MaxNotional) {
		return false, "notional exceeds auto-approval threshold"
	}

	return true, "matched auto-approval policy"
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func containsInstrumentType(list []types.InstrumentType, v types.InstrumentType) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsOrderType(list []types.OrderType, v types.OrderType) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func inWindow(now time.Time, startHHMM, endHHMM string) bool {
	start, err1 := parseHHMM(startHHMM)
	end, err2 := parseHHMM(endHHMM)
	if err1 != nil || err2 != nil {
		return false
	}
	cur := now.UTC().Hour()*60 + now.UTC().Minute()
	if start <= end {
		return cur >= start && cur <= end
	}
	return cur >= start || cur <= end
}

func parseHHMM(s string) (int, error) {
	var h, m int
	_, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	t, _ := time.Parse("15:04", s)
	h, m = t.Hour(), t.Minute()
	return h*60 + m, nil
}

func matchesAnySchedule(schedules []DCASchedule, symbol string, now time.Time) bool {
	for _, sched := range schedules {
		if !strings.EqualFold(sched.Symbol, symbol) {
			continue
		}
		at, err := parseHHMM(sched.AtUTC)
		if err != nil {
			continue
		}
		cur := now.UTC().Hour()*60 + now.UTC().Minute()
		tol := sched.ToleranceMinutes
		if tol == 0 {
			tol = 5
		}
		diff := cur - at
		if diff < 0 {
			diff = -diff
		}
		if diff <= tol {
			return true
		}
	}
	return false
}
