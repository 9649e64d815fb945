package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var killswitchCmd = &cobra.Command{
	Use:     "kill-switch",
	Aliases: []string{"killswitch"},
	Short:   "Inspect and control the process-wide kill switch (spec.md §4.8)",
}

func init() {
	rootCmd.AddCommand(killswitchCmd)
}

var (
	killswitchActivateReason string
	killswitchActivateActor  string
)

var killswitchActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Enable the kill switch, blocking every new order and approval",
	RunE:  runKillswitchActivate,
}

func init() {
	killswitchActivateCmd.Flags().StringVar(&killswitchActivateReason, "reason", "", "reason for activation (required)")
	killswitchActivateCmd.Flags().StringVar(&killswitchActivateActor, "actor", "", "acting operator id")
	killswitchActivateCmd.MarkFlagRequired("reason")
	killswitchCmd.AddCommand(killswitchActivateCmd)
}

func runKillswitchActivate(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("kill-switch activate: %w", err)
	}
	defer c.Close()

	if err := c.KillSwitch.Activate(cmd.Context(), killswitchActivateReason, killswitchActivateActor); err != nil {
		return fmt.Errorf("kill-switch activate: %w", err)
	}
	fmt.Println("kill switch enabled")
	return nil
}

var killswitchDeactivateActor string

var killswitchDeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Disable the kill switch",
	RunE:  runKillswitchDeactivate,
}

func init() {
	killswitchDeactivateCmd.Flags().StringVar(&killswitchDeactivateActor, "actor", "", "acting operator id")
	killswitchCmd.AddCommand(killswitchDeactivateCmd)
}

func runKillswitchDeactivate(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("kill-switch deactivate: %w", err)
	}
	defer c.Close()

	if err := c.KillSwitch.Release(cmd.Context(), killswitchDeactivateActor); err != nil {
		return fmt.Errorf("kill-switch deactivate: %w", err)
	}
	fmt.Println("kill switch disabled")
	return nil
}

var killswitchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the kill switch's current state",
	RunE:  runKillswitchStatus,
}

func init() {
	killswitchCmd.AddCommand(killswitchStatusCmd)
}

func runKillswitchStatus(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return fmt.Errorf("kill-switch status: %w", err)
	}
	defer c.Close()

	enabled, reason := c.KillSwitch.IsEnabled(cmd.Context())
	fmt.Printf("enabled=%t reason=%q\n", enabled, reason)
	return nil
}
