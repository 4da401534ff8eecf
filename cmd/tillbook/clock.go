package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tillbook/tillbook/internal/lifecycle"
	"github.com/tillbook/tillbook/internal/ui"
)

var clockCmd = &cobra.Command{
	Use:     "clock",
	GroupID: "shift",
	Short:   "Clock in and out of a shift",
}

var (
	clockInBranch   string
	clockInOperator string
)

var clockInCmd = &cobra.Command{
	Use:   "in",
	Short: "Open a shift for this device",
	Long: `Open a shift in the local ledger and, when the device is online,
register it with the backend in the background. The shift is usable
immediately either way.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		branch := clockInBranch
		if branch == "" {
			branch = cfg.BranchID
		}
		operator := clockInOperator
		if operator == "" {
			operator = cfg.Operator
		}

		rec, err := e.ctrl.ClockIn(cmd.Context(), lifecycle.ClockInParams{
			BranchID: branch,
			UserID:   operator,
			BrandID:  cfg.BrandID,
			DeviceID: cfg.DeviceID,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s Clocked in at branch %s (shift %s)\n",
			ui.RenderPass("✓"), rec.BranchID, rec.ID)
		if !rec.Synced {
			fmt.Printf("  %s\n", ui.RenderMuted("pending sync"))
		}
		return nil
	},
}

var clockOutCmd = &cobra.Command{
	Use:   "out",
	Short: "Close the current shift",
	Long: `Close the current shift. The till must be closed first; a clock-out
with an open till is rejected without touching the ledger.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.ctrl.ClockOut(cmd.Context()); err != nil {
			return err
		}

		fmt.Printf("%s Clocked out\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	clockInCmd.Flags().StringVar(&clockInBranch, "branch", "", "branch id (default from config)")
	clockInCmd.Flags().StringVar(&clockInOperator, "operator", "", "operator name (default from config)")

	clockCmd.AddCommand(clockInCmd)
	clockCmd.AddCommand(clockOutCmd)
	rootCmd.AddCommand(clockCmd)
}
