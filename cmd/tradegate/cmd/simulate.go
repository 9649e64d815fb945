package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradegate/internal/audit"
	"github.com/rustyeddy/tradegate/internal/core"
)

var (
	simulateAccountID  string
	simulateSymbol     string
	simulateSide       string
	simulateOrderType  string
	simulateQuantity   string
	simulateLimitPrice string
	simulateStopPrice  string
	simulateReason     string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate an order intent against a fresh market snapshot (spec.md §4.4)",
	Long: `simulate fetches the account's current portfolio and a fresh
market snapshot for the instrument, then runs the pure simulator to
project fill price, fees and resulting exposure. It never touches the
broker's order-entry endpoints.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAccountID, "account-id", "", "account id (required)")
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "instrument symbol (required)")
	simulateCmd.Flags().StringVar(&simulateSide, "side", "", "BUY or SELL (required)")
	simulateCmd.Flags().StringVar(&simulateOrderType, "order-type", "MKT", "MKT, LMT or STP")
	simulateCmd.Flags().StringVar(&simulateQuantity, "quantity", "", "order quantity (required)")
	simulateCmd.Flags().StringVar(&simulateLimitPrice, "limit-price", "", "limit price, required for LMT orders")
	simulateCmd.Flags().StringVar(&simulateStopPrice, "stop-price", "", "stop price, required for STP orders")
	simulateCmd.Flags().StringVar(&simulateReason, "reason", "", "human-readable reason for the order")
	simulateCmd.MarkFlagRequired("account-id")
	simulateCmd.MarkFlagRequired("symbol")
	simulateCmd.MarkFlagRequired("side")
	simulateCmd.MarkFlagRequired("quantity")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	defer c.Close()

	intent, err := core.BuildIntent(simulateAccountID, simulateSymbol, simulateSide, simulateOrderType, simulateQuantity, simulateLimitPrice, simulateStopPrice, simulateReason)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}

	result, _, err := c.SimulateIntent(cmd.Context(), intent)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}

	ev, err := audit.NewEvent("", audit.OrderSimulated, "cli", result)
	if err != nil {
		return fmt.Errorf("simulate: build audit event: %w", err)
	}
	if err := c.Audit.Append(cmd.Context(), ev); err != nil {
		return fmt.Errorf("simulate: append audit event: %w", err)
	}

	fmt.Printf("status: %s\n", result.Status)
	fmt.Printf("execution price: %s (slippage=%s, fee=%s)\n",
		result.ExecutionPrice, result.EstimatedSlippage, result.EstimatedFee)
	fmt.Printf("cash: %s -> %s, exposure: %s -> %s\n",
		result.CashBefore, result.CashAfter, result.ExposureBefore, result.ExposureAfter)
	if len(result.Warnings) > 0 {
		fmt.Printf("warnings: %v\n", result.Warnings)
	}
	fmt.Printf("correlation_id: %s\n", ev.CorrelationID)
	fmt.Println("next: tradegate risk --account-id ... --symbol ... --side ... --quantity ...")
	return nil
}
