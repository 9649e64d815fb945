package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	submitProposalID string
	submitTokenID    string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an approved proposal to the broker (spec.md §4.6)",
	Long: `submit consumes a single-use approval token and forwards the
proposal's order intent to the broker. The token id must come from a
prior "tradegate approve grant" (or an auto-approval) response.`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitProposalID, "proposal-id", "", "proposal id (required)")
	submitCmd.Flags().StringVar(&submitTokenID, "token-id", "", "approval token id (required)")
	submitCmd.MarkFlagRequired("proposal-id")
	submitCmd.MarkFlagRequired("token-id")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer c.Close()

	order, err := c.Submitter.Submit(cmd.Context(), submitProposalID, submitTokenID)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	fmt.Printf("submitted broker_order_id=%s status=%s\n", order.BrokerOrderID, order.Status)
	return nil
}
