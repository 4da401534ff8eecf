package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tillbook/tillbook/internal/lifecycle"
	"github.com/tillbook/tillbook/internal/ui"
)

var tillCmd = &cobra.Command{
	Use:     "till",
	GroupID: "shift",
	Short:   "Open, close and inspect till sessions",
}

var tillOpeningCash float64

var tillOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a till session with a counted opening float",
	RunE: func(cmd *cobra.Command, args []string) error {
		opening := tillOpeningCash
		if !cmd.Flags().Changed("opening") {
			amount, err := promptCash("Opening cash")
			if err != nil {
				return err
			}
			opening = amount
		}

		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		rec, err := e.ctrl.OpenTill(cmd.Context(), lifecycle.OpenTillParams{
			OpeningCash: opening,
			BrandID:     cfg.BrandID,
			DeviceID:    cfg.DeviceID,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s Till open with %.2f (session %s)\n",
			ui.RenderPass("✓"), rec.OpeningCash, rec.ID)
		if !rec.Synced {
			fmt.Printf("  %s\n", ui.RenderMuted("pending sync"))
		}
		return nil
	},
}

var tillClosingCash float64

var tillCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the till session with the counted cash",
	RunE: func(cmd *cobra.Command, args []string) error {
		closing := tillClosingCash
		if !cmd.Flags().Changed("closing") {
			amount, err := promptCash("Closing cash")
			if err != nil {
				return err
			}
			closing = amount
		}

		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		rec, rep, err := e.ctrl.CloseTill(cmd.Context(), closing)
		if err != nil {
			return err
		}

		fmt.Printf("%s Till closed (session %s)\n", ui.RenderPass("✓"), rec.ID)
		if rep != nil {
			fmt.Printf("  variance: %s\n", renderVariance(rep.CashVariance))
		}
		return nil
	},
}

var tillShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a till session from the local ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		rec, err := e.store.GetTillSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s Till session %s\n", ui.RenderAccent("▤"), rec.ID)
		fmt.Printf("  branch:  %s\n", rec.BranchID)
		fmt.Printf("  status:  %s\n", rec.Status)
		fmt.Printf("  opening: %.2f\n", rec.OpeningCash)
		if rec.ClosingCash != nil {
			fmt.Printf("  closing: %.2f\n", *rec.ClosingCash)
		}
		fmt.Printf("  opened:  %s\n", rec.OpenedAt.Local().Format(time.DateTime))
		if rec.ClosedAt != nil {
			fmt.Printf("  closed:  %s\n", rec.ClosedAt.Local().Format(time.DateTime))
		}
		if rec.Synced {
			fmt.Printf("  synced:  %s (server id %s)\n", ui.RenderPass("yes"), rec.ServerID)
		} else {
			fmt.Printf("  synced:  %s\n", ui.RenderWarn("pending"))
		}
		return nil
	},
}

// promptCash asks the operator for an amount when the flag was omitted.
func promptCash(title string) (float64, error) {
	var raw string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(title).
			Placeholder("0.00").
			Value(&raw).
			Validate(func(s string) error {
				if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
					return fmt.Errorf("enter a number")
				}
				return nil
			}),
	))
	if err := form.Run(); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

func renderVariance(v float64) string {
	s := fmt.Sprintf("%+.2f", v)
	if v == 0 {
		return ui.RenderPass(s)
	}
	return ui.RenderWarn(s)
}

func init() {
	tillOpenCmd.Flags().Float64Var(&tillOpeningCash, "opening", 0, "opening cash amount")
	tillCloseCmd.Flags().Float64Var(&tillClosingCash, "closing", 0, "closing cash amount")

	tillCmd.AddCommand(tillOpenCmd)
	tillCmd.AddCommand(tillCloseCmd)
	tillCmd.AddCommand(tillShowCmd)
	rootCmd.AddCommand(tillCmd)
}
