package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Manage order approvals (spec.md §4.3)",
	Long:  `approve groups the request/grant/deny/pending sub-commands of the approval workflow.`,
}

func init() {
	rootCmd.AddCommand(approveCmd)
}

var approveRequestProposalID string

var approveRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Move a proposal to APPROVAL_REQUESTED, issuing an auto-approval token when eligible",
	RunE:  runApproveRequest,
}

func init() {
	approveRequestCmd.Flags().StringVar(&approveRequestProposalID, "proposal-id", "", "proposal id (required)")
	approveRequestCmd.MarkFlagRequired("proposal-id")
	approveCmd.AddCommand(approveRequestCmd)
}

func runApproveRequest(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("approve request: %w", err)
	}
	defer c.Close()

	proposal, token, err := c.Approvals.Request(cmd.Context(), approveRequestProposalID)
	if err != nil {
		return fmt.Errorf("approve request: %w", err)
	}

	fmt.Printf("proposal %s state=%s\n", proposal.ProposalID, proposal.State)
	if token != nil {
		fmt.Printf("auto-approved: token_id=%s expires_at=%s\n", token.TokenID, token.ExpiresAt)
	}
	return nil
}

var (
	approveGrantProposalID string
	approveGrantReason     string
	approveGrantActor      string
)

var approveGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant a pending proposal, issuing a single-use submission token",
	RunE:  runApproveGrant,
}

func init() {
	approveGrantCmd.Flags().StringVar(&approveGrantProposalID, "proposal-id", "", "proposal id (required)")
	approveGrantCmd.Flags().StringVar(&approveGrantReason, "reason", "", "reason for granting")
	approveGrantCmd.Flags().StringVar(&approveGrantActor, "actor", "", "acting operator id")
	approveGrantCmd.MarkFlagRequired("proposal-id")
	approveCmd.AddCommand(approveGrantCmd)
}

func runApproveGrant(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("approve grant: %w", err)
	}
	defer c.Close()

	proposal, token, err := c.Approvals.Grant(cmd.Context(), approveGrantProposalID, approveGrantReason, approveGrantActor)
	if err != nil {
		return fmt.Errorf("approve grant: %w", err)
	}

	fmt.Printf("proposal %s state=%s\n", proposal.ProposalID, proposal.State)
	fmt.Printf("token_id=%s expires_at=%s\n", token.TokenID, token.ExpiresAt)
	fmt.Println("next: tradegate submit --proposal-id " + proposal.ProposalID + " --token-id " + token.TokenID)
	return nil
}

var (
	approveDenyProposalID string
	approveDenyReason     string
	approveDenyActor      string
)

var approveDenyCmd = &cobra.Command{
	Use:   "deny",
	Short: "Deny a pending proposal",
	RunE:  runApproveDeny,
}

func init() {
	approveDenyCmd.Flags().StringVar(&approveDenyProposalID, "proposal-id", "", "proposal id (required)")
	approveDenyCmd.Flags().StringVar(&approveDenyReason, "reason", "", "reason for denial")
	approveDenyCmd.Flags().StringVar(&approveDenyActor, "actor", "", "acting operator id")
	approveDenyCmd.MarkFlagRequired("proposal-id")
	approveCmd.AddCommand(approveDenyCmd)
}

func runApproveDeny(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("approve deny: %w", err)
	}
	defer c.Close()

	proposal, err := c.Approvals.Deny(cmd.Context(), approveDenyProposalID, approveDenyReason, approveDenyActor)
	if err != nil {
		return fmt.Errorf("approve deny: %w", err)
	}

	fmt.Printf("proposal %s state=%s\n", proposal.ProposalID, proposal.State)
	return nil
}

var approvePendingLimit int

var approvePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List proposals awaiting approval",
	RunE:  runApprovePending,
}

func init() {
	approvePendingCmd.Flags().IntVar(&approvePendingLimit, "limit", 20, "maximum proposals to list")
	approveCmd.AddCommand(approvePendingCmd)
}

func runApprovePending(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("approve pending: %w", err)
	}
	defer c.Close()

	for _, p := range c.Approvals.Pending(approvePendingLimit) {
		fmt.Printf("%s  %s  %s %s %s\n", p.ProposalID, p.State, p.Intent.Side, p.Intent.Quantity, p.Intent.Instrument.Symbol)
	}
	return nil
}
