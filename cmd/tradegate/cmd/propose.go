package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradegate/internal/audit"
	"github.com/rustyeddy/tradegate/internal/core"
)

var (
	proposeAccountID  string
	proposeSymbol     string
	proposeSide       string
	proposeOrderType  string
	proposeQuantity   string
	proposeLimitPrice string
	proposeStopPrice  string
	proposeReason     string
)

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Build and validate an order intent (spec.md §4.2 stage 1)",
	Long: `propose normalizes and validates the order fields into an
OrderIntent, records an ORDER_PROPOSED audit event and prints the
resulting intent. It does not touch the broker or the risk engine —
run "tradegate simulate" and "tradegate risk" next.`,
	RunE: runPropose,
}

func init() {
	proposeCmd.Flags().StringVar(&proposeAccountID, "account-id", "", "account id (required)")
	proposeCmd.Flags().StringVar(&proposeSymbol, "symbol", "", "instrument symbol (required)")
	proposeCmd.Flags().StringVar(&proposeSide, "side", "", "BUY or SELL (required)")
	proposeCmd.Flags().StringVar(&proposeOrderType, "order-type", "MKT", "MKT, LMT or STP")
	proposeCmd.Flags().StringVar(&proposeQuantity, "quantity", "", "order quantity (required)")
	proposeCmd.Flags().StringVar(&proposeLimitPrice, "limit-price", "", "limit price, required for LMT orders")
	proposeCmd.Flags().StringVar(&proposeStopPrice, "stop-price", "", "stop price, required for STP orders")
	proposeCmd.Flags().StringVar(&proposeReason, "reason", "", "human-readable reason for the order")
	proposeCmd.MarkFlagRequired("account-id")
	proposeCmd.MarkFlagRequired("symbol")
	proposeCmd.MarkFlagRequired("side")
	proposeCmd.MarkFlagRequired("quantity")
	rootCmd.AddCommand(proposeCmd)
}

func runPropose(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("propose: %w", err)
	}
	defer c.Close()

	intent, err := core.BuildIntent(proposeAccountID, proposeSymbol, proposeSide, proposeOrderType, proposeQuantity, proposeLimitPrice, proposeStopPrice, proposeReason)
	if err != nil {
		return fmt.Errorf("propose: %w", err)
	}

	ev, err := audit.NewEvent("", audit.OrderProposed, "cli", intent)
	if err != nil {
		return fmt.Errorf("propose: build audit event: %w", err)
	}
	if err := c.Audit.Append(cmd.Context(), ev); err != nil {
		return fmt.Errorf("propose: append audit event: %w", err)
	}

	fmt.Printf("proposed intent for %s: %s %s %s @ %s (type=%s)\n",
		intent.AccountID, intent.Side, intent.Quantity, intent.Instrument.Symbol, ev.CorrelationID, intent.OrderType)
	fmt.Printf("correlation_id: %s\n", ev.CorrelationID)
	fmt.Println("next: tradegate simulate --account-id ... --symbol ... --side ... --quantity ...")
	return nil
}
