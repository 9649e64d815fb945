package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradegate/internal/audit"
	"github.com/rustyeddy/tradegate/internal/core"
)

var (
	riskAccountID  string
	riskSymbol     string
	riskSide       string
	riskOrderType  string
	riskQuantity   string
	riskLimitPrice string
	riskStopPrice  string
	riskReason     string
)

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Simulate and evaluate an order intent against the risk policy (spec.md §4.5)",
	Long: `risk runs the same fresh-snapshot simulation as "tradegate simulate"
and then feeds the result through the risk engine, including the R-KS
kill switch check, printing the resulting APPROVE/REJECT/MANUAL_REVIEW
decision and any violated rules.`,
	RunE: runRisk,
}

func init() {
	riskCmd.Flags().StringVar(&riskAccountID, "account-id", "", "account id (required)")
	riskCmd.Flags().StringVar(&riskSymbol, "symbol", "", "instrument symbol (required)")
	riskCmd.Flags().StringVar(&riskSide, "side", "", "BUY or SELL (required)")
	riskCmd.Flags().StringVar(&riskOrderType, "order-type", "MKT", "MKT, LMT or STP")
	riskCmd.Flags().StringVar(&riskQuantity, "quantity", "", "order quantity (required)")
	riskCmd.Flags().StringVar(&riskLimitPrice, "limit-price", "", "limit price, required for LMT orders")
	riskCmd.Flags().StringVar(&riskStopPrice, "stop-price", "", "stop price, required for STP orders")
	riskCmd.Flags().StringVar(&riskReason, "reason", "", "human-readable reason for the order")
	riskCmd.MarkFlagRequired("account-id")
	riskCmd.MarkFlagRequired("symbol")
	riskCmd.MarkFlagRequired("side")
	riskCmd.MarkFlagRequired("quantity")
	rootCmd.AddCommand(riskCmd)
}

func runRisk(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	defer c.Close()

	intent, err := core.BuildIntent(riskAccountID, riskSymbol, riskSide, riskOrderType, riskQuantity, riskLimitPrice, riskStopPrice, riskReason)
	if err != nil {
		return fmt.Errorf("risk: %w", err)
	}

	sim, portfolio, err := c.SimulateIntent(cmd.Context(), intent)
	if err != nil {
		return fmt.Errorf("risk: %w", err)
	}

	decision := c.Risk.Evaluate(intent, portfolio, sim, c.RiskContext(cmd.Context()))

	ev, err := audit.NewEvent("", audit.RiskGateEvaluated, "cli", decision)
	if err != nil {
		return fmt.Errorf("risk: build audit event: %w", err)
	}
	if err := c.Audit.Append(cmd.Context(), ev); err != nil {
		return fmt.Errorf("risk: append audit event: %w", err)
	}

	fmt.Printf("decision: %s (%s)\n", decision.Decision, decision.Reason)
	if len(decision.ViolatedRules) > 0 {
		fmt.Printf("violated rules: %s\n", strings.Join(decision.ViolatedRules, ", "))
	}
	if len(decision.Warnings) > 0 {
		fmt.Printf("warnings: %s\n", strings.Join(decision.Warnings, ", "))
	}
	fmt.Printf("correlation_id: %s\n", ev.CorrelationID)
	return nil
}
