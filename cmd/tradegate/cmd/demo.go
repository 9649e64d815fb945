package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradegate/internal/broker"
	"github.com/rustyeddy/tradegate/internal/config"
	"github.com/rustyeddy/tradegate/internal/core"
	"github.com/rustyeddy/tradegate/internal/risk"
	"github.com/rustyeddy/tradegate/internal/simulate"
	"github.com/rustyeddy/tradegate/internal/types"
)

// demoCmd groups the worked end-to-end scenarios of the design doc,
// each wired against an in-process mock broker and in-memory SQLite
// stores so a demo run never touches real state on disk.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the worked end-to-end scenarios against a mock broker",
	Long: `demo drives the full propose -> simulate -> risk -> approve -> submit
pipeline against an in-memory mock broker, printing the audit trail as
it goes. Each sub-command is a self-contained scenario; run "all" to
see every one in sequence.

Available demos:
  happy-path         - BUY MKT order approved, granted and filled end to end
  risk-reject        - an oversized order rejected by the max-notional rule
  token-replay       - a granted token consumed twice, second call fails
  kill-switch        - an activated kill switch blocking auto-approval
  rate-limit-breaker - repeated tool-call denials trip the circuit breaker
  stale-snapshot     - R5 evaluates the trading window against now, not
                        the snapshot's own timestamp
  all                - run every scenario above in order`,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

// demoCore builds a throwaway Core wired to an in-memory mock broker
// and in-memory audit/kill-switch stores, so demo runs never touch
// ./data on disk (spec.md §8's scenarios are all self-contained).
func demoCore(autoApproval bool, autoApprovalMax decimal.Decimal) (*core.Core, error) {
	cfg := config.Default()
	cfg.Env = config.EnvDev
	cfg.Safety.AutoApproval = autoApproval
	cfg.Safety.AutoApprovalMaxNotional = autoApprovalMax
	return core.New(cfg, ":memory:", ":memory:", ":memory:", "")
}

func seedAAPL(c *core.Core, bid, ask string) {
	mock, ok := c.Broker.(*broker.MockAdapter)
	if !ok {
		return
	}
	mock.SeedPrice(types.MarketSnapshot{
		Instrument: types.Instrument{Symbol: "AAPL", Type: types.InstrumentSTK},
		Bid:        decimal.RequireFromString(bid),
		Ask:        decimal.RequireFromString(ask),
		Last:       decimal.RequireFromString(ask),
	})
}

var demoHappyPathCmd = &cobra.Command{
	Use:   "happy-path",
	Short: "BUY MKT order approved, granted and filled end to end",
	RunE:  runDemoHappyPath,
}

func init() {
	demoCmd.AddCommand(demoHappyPathCmd)
}

func runDemoHappyPath(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := demoCore(false, decimal.Zero)
	if err != nil {
		return err
	}
	defer c.Close()
	seedAAPL(c, "190.28", "190.47")

	intent, err := core.BuildIntent("SIM-001", "AAPL", "BUY", "MKT", "10", "", "", "Portfolio rebalance to target allocation")
	if err != nil {
		return err
	}
	fmt.Println("== happy path: BUY 10 AAPL MKT ==")

	sim, portfolio, err := c.SimulateIntent(ctx, intent)
	if err != nil {
		return err
	}
	fmt.Printf("simulate: status=%s execution_price=%s fee=%s cash_after=%s\n",
		sim.Status, sim.ExecutionPrice, sim.EstimatedFee, sim.CashAfter)

	riskCtx := c.RiskContext(ctx)
	riskCtx.Now = time.Date(2026, 8, 6, 15, 0, 0, 0, time.UTC) // inside the 09:30-16:00 UTC trading window
	decision := c.Risk.Evaluate(intent, portfolio, sim, riskCtx)
	fmt.Printf("risk: decision=%s reason=%q\n", decision.Decision, decision.Reason)

	proposal, err := c.Approvals.Create(ctx, "", intent, sim, decision)
	if err != nil {
		return err
	}
	proposal, _, err = c.Approvals.Request(ctx, proposal.ProposalID)
	if err != nil {
		return err
	}
	proposal, token, err := c.Approvals.Grant(ctx, proposal.ProposalID, "auto-approved for demo", "demo")
	if err != nil {
		return err
	}
	fmt.Printf("approval: state=%s token=%s\n", proposal.State, token.TokenID)

	order, err := c.Submitter.Submit(ctx, proposal.ProposalID, token.TokenID)
	if err != nil {
		return err
	}
	fmt.Printf("submit: broker_order_id=%s status=%s fill_price=%s\n",
		order.BrokerOrderID, order.Status, order.AvgFillPrice)
	fmt.Printf("notional filled: %s\n", humanize.FormatFloat("#,###.##", mustFloat(order.AvgFillPrice.Mul(order.FilledQty))))
	return nil
}

var demoRiskRejectCmd = &cobra.Command{
	Use:   "risk-reject",
	Short: "An oversized order rejected by the max-notional rule (R1)",
	RunE:  runDemoRiskReject,
}

func init() {
	demoCmd.AddCommand(demoRiskRejectCmd)
}

func runDemoRiskReject(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := demoCore(false, decimal.Zero)
	if err != nil {
		return err
	}
	defer c.Close()
	seedAAPL(c, "190.28", "190.47")

	intent, err := core.BuildIntent("SIM-001", "AAPL", "BUY", "MKT", "1000", "", "", "oversized demo order")
	if err != nil {
		return err
	}
	fmt.Println("== risk rejection: BUY 1000 AAPL MKT (gross ~190,470) ==")

	// The $50,000 demo account cannot pay for 1000 shares, which would fail
	// the simulation before any risk rule runs, so this order is simulated
	// against an account funded for it and the risk rules decide the outcome.
	snapshot, err := c.Broker.GetMarketSnapshot(broker.WithSkipCache(ctx), intent.Instrument)
	if err != nil {
		return err
	}
	portfolio := types.Portfolio{AccountID: "SIM-001", TotalValue: decimal.NewFromInt(2000000),
		Cash: []types.Cash{{Currency: "USD", Total: decimal.NewFromInt(2000000)}}}
	sim := simulate.Simulate(portfolio, &snapshot, intent, c.SimConfig)
	decision := c.Risk.Evaluate(intent, portfolio, sim, c.RiskContext(ctx))
	fmt.Printf("risk: decision=%s reason=%q violated_rules=%v\n", decision.Decision, decision.Reason, decision.ViolatedRules)

	if _, err := c.Approvals.Create(ctx, "", intent, sim, decision); err != nil {
		fmt.Printf("proposal creation blocked as expected: %v\n", err)
	}
	return nil
}

var demoTokenReplayCmd = &cobra.Command{
	Use:   "token-replay",
	Short: "A granted token consumed twice; the second submit fails",
	RunE:  runDemoTokenReplay,
}

func init() {
	demoCmd.AddCommand(demoTokenReplayCmd)
}

func runDemoTokenReplay(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := demoCore(false, decimal.Zero)
	if err != nil {
		return err
	}
	defer c.Close()
	seedAAPL(c, "190.28", "190.47")

	intent, err := core.BuildIntent("SIM-001", "AAPL", "BUY", "MKT", "10", "", "", "token replay demo")
	if err != nil {
		return err
	}
	sim, portfolio, err := c.SimulateIntent(ctx, intent)
	if err != nil {
		return err
	}
	riskCtx := c.RiskContext(ctx)
	riskCtx.Now = time.Date(2026, 8, 6, 15, 0, 0, 0, time.UTC) // inside the 09:30-16:00 UTC trading window
	decision := c.Risk.Evaluate(intent, portfolio, sim, riskCtx)
	proposal, err := c.Approvals.Create(ctx, "", intent, sim, decision)
	if err != nil {
		return err
	}
	proposal, _, err = c.Approvals.Request(ctx, proposal.ProposalID)
	if err != nil {
		return err
	}
	proposal, token, err := c.Approvals.Grant(ctx, proposal.ProposalID, "demo", "demo")
	if err != nil {
		return err
	}

	fmt.Println("== token replay: submit twice with the same token ==")
	if _, err := c.Submitter.Submit(ctx, proposal.ProposalID, token.TokenID); err != nil {
		return fmt.Errorf("first submit unexpectedly failed: %w", err)
	}
	fmt.Println("first submit: ok")

	_, err = c.Submitter.Submit(ctx, proposal.ProposalID, token.TokenID)
	if err == nil {
		return fmt.Errorf("second submit unexpectedly succeeded")
	}
	fmt.Printf("second submit: rejected as expected: %v\n", err)
	return nil
}

var demoKillSwitchCmd = &cobra.Command{
	Use:   "kill-switch",
	Short: "An activated kill switch blocking auto-approval",
	RunE:  runDemoKillSwitch,
}

func init() {
	demoCmd.AddCommand(demoKillSwitchCmd)
}

func runDemoKillSwitch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := demoCore(true, decimal.NewFromInt(2000))
	if err != nil {
		return err
	}
	defer c.Close()
	seedAAPL(c, "89.50", "90.00")

	fmt.Println("== kill switch active during an auto-approval-eligible order ==")

	intent, err := core.BuildIntent("SIM-001", "AAPL", "BUY", "LMT", "10", "90.00", "", "small order under auto-approval threshold")
	if err != nil {
		return err
	}
	sim, portfolio, err := c.SimulateIntent(ctx, intent)
	if err != nil {
		return err
	}
	riskCtx := c.RiskContext(ctx)
	riskCtx.Now = time.Date(2026, 8, 6, 15, 0, 0, 0, time.UTC) // inside the 09:30-16:00 UTC trading window
	decision := c.Risk.Evaluate(intent, portfolio, sim, riskCtx)
	fmt.Printf("risk: decision=%s reason=%q\n", decision.Decision, decision.Reason)

	proposal, err := c.Approvals.Create(ctx, "", intent, sim, decision)
	if err != nil {
		return err
	}
	// Activated after risk evaluation (which rejects outright while the
	// switch is on) and before the approval request, which it gates.
	if err := c.KillSwitch.Activate(ctx, "demo: manual halt", "demo"); err != nil {
		return err
	}
	proposal, token, err := c.Approvals.Request(ctx, proposal.ProposalID)
	if err != nil {
		return err
	}
	fmt.Printf("request: state=%s token_issued=%t\n", proposal.State, token != nil)
	if proposal.State != types.ApprovalRequested || token != nil {
		return fmt.Errorf("expected APPROVAL_REQUESTED with no token while the kill switch is on")
	}
	fmt.Println("as expected: kill switch suppressed auto-approval, a human must grant it")
	return nil
}

var demoRateLimitBreakerCmd = &cobra.Command{
	Use:   "rate-limit-breaker",
	Short: "Repeated tool-call denials trip the circuit breaker",
	RunE:  runDemoRateLimitBreaker,
}

func init() {
	demoCmd.AddCommand(demoRateLimitBreakerCmd)
}

// runDemoRateLimitBreaker drives the gateway's "portfolio" tool past its
// per-tool budget (60/min) on one session, then keeps denying it until the
// breaker's 100-consecutive-denial threshold opens the circuit; a call
// during the open window is rejected regardless of remaining budget.
func runDemoRateLimitBreaker(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := demoCore(false, decimal.Zero)
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Println("== rate limit + circuit breaker: get_portfolio hammered on one session ==")
	params := json.RawMessage(`{"account_id":"SIM-001"}`)
	const session = "demo-session"

	for i := 1; i <= 60; i++ {
		if _, err := c.Gateway.Call(ctx, "", session, "portfolio", params); err != nil {
			return fmt.Errorf("call %d unexpectedly denied: %w", i, err)
		}
	}
	fmt.Println("calls 1-60: allowed (per-tool budget exhausted)")

	_, err = c.Gateway.Call(ctx, "", session, "portfolio", params)
	if err == nil {
		return fmt.Errorf("call 61 unexpectedly succeeded")
	}
	fmt.Printf("call 61: denied as expected: %v\n", err)

	for i := 62; i <= 160; i++ {
		if _, err := c.Gateway.Call(ctx, "", session, "portfolio", params); err == nil {
			return fmt.Errorf("call %d unexpectedly succeeded while rate-limited", i)
		}
	}
	fmt.Println("calls 62-160: 100 consecutive denials recorded, breaker threshold reached")

	_, err = c.Gateway.Call(ctx, "", session, "portfolio", params)
	if err == nil {
		return fmt.Errorf("call 161 unexpectedly succeeded")
	}
	fmt.Printf("call 161: breaker open, rejected regardless of budget: %v\n", err)
	return nil
}

var demoStaleSnapshotCmd = &cobra.Command{
	Use:   "stale-snapshot",
	Short: "R5 evaluates the trading window against now, not the snapshot's timestamp",
	RunE:  runDemoStaleSnapshot,
}

func init() {
	demoCmd.AddCommand(demoStaleSnapshotCmd)
}

// runDemoStaleSnapshot seeds a 10-minute-stale AAPL quote and evaluates R5
// twice: once with the clock inside the configured trading window, once
// outside it. The snapshot's own staleness never enters R5's decision.
func runDemoStaleSnapshot(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := demoCore(false, decimal.Zero)
	if err != nil {
		return err
	}
	defer c.Close()

	mock, ok := c.Broker.(*broker.MockAdapter)
	if !ok {
		return fmt.Errorf("stale-snapshot demo requires the mock broker")
	}
	mock.SeedPrice(types.MarketSnapshot{
		Instrument: types.Instrument{Symbol: "AAPL", Type: types.InstrumentSTK},
		Bid:        decimal.RequireFromString("190.28"),
		Ask:        decimal.RequireFromString("190.47"),
		Last:       decimal.RequireFromString("190.47"),
		Timestamp:  time.Now().UTC().Add(-10 * time.Minute),
	})

	intent, err := core.BuildIntent("SIM-001", "AAPL", "BUY", "MKT", "10", "", "", "stale snapshot demo")
	if err != nil {
		return err
	}
	sim, portfolio, err := c.SimulateIntent(ctx, intent)
	if err != nil {
		return err
	}
	fmt.Println("== stale snapshot: R5 evaluates against now, not the quote's age ==")

	insideWindow := time.Date(2026, 8, 6, 15, 0, 0, 0, time.UTC) // 15:00 UTC, within 09:30-16:00
	riskCtx := risk.EvalContext{Now: insideWindow}
	decision := c.Risk.Evaluate(intent, portfolio, sim, riskCtx)
	fmt.Printf("now=%s (inside window): decision=%s violated_rules=%v\n", insideWindow.Format("15:04"), decision.Decision, decision.ViolatedRules)
	if contains(decision.ViolatedRules, "R5") {
		return fmt.Errorf("R5 unexpectedly violated inside the trading window")
	}

	outsideWindow := time.Date(2026, 8, 6, 22, 0, 0, 0, time.UTC) // 22:00 UTC, after close
	riskCtx.Now = outsideWindow
	decision = c.Risk.Evaluate(intent, portfolio, sim, riskCtx)
	fmt.Printf("now=%s (outside window): decision=%s violated_rules=%v\n", outsideWindow.Format("15:04"), decision.Decision, decision.ViolatedRules)
	if !contains(decision.ViolatedRules, "R5") {
		return fmt.Errorf("expected R5 to be violated outside the trading window")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var demoAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every demo scenario in sequence",
	RunE:  runDemoAll,
}

func init() {
	demoCmd.AddCommand(demoAllCmd)
}

func runDemoAll(cmd *cobra.Command, args []string) error {
	scenarios := []struct {
		name string
		run  func(*cobra.Command, []string) error
	}{
		{"happy-path", runDemoHappyPath},
		{"risk-reject", runDemoRiskReject},
		{"token-replay", runDemoTokenReplay},
		{"kill-switch", runDemoKillSwitch},
		{"rate-limit-breaker", runDemoRateLimitBreaker},
		{"stale-snapshot", runDemoStaleSnapshot},
	}
	for _, s := range scenarios {
		fmt.Printf("\n--- %s ---\n", s.name)
		if err := s.run(cmd, args); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
