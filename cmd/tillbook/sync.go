package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tillbook/tillbook/internal/reconciler"
	"github.com/tillbook/tillbook/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push all pending records to the backend now",
	Long: `Drain the backlog of unsynced shifts and till sessions.

Each record is pushed with its local id as clientId; the backend dedupes
replays, so a record accepted during an earlier crash is safe to retry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		start := time.Now()
		stats, err := e.rec.Drain(cmd.Context())
		if errors.Is(err, reconciler.ErrOffline) {
			fmt.Printf("%s Device is offline; nothing pushed\n", ui.RenderWarn("⚠"))
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s Drain complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Shifts: %d synced, %d still pending\n", stats.ShiftsSynced, stats.ShiftsFailed)
		fmt.Printf("   Tills:  %d synced, %d still pending\n", stats.TillsSynced, stats.TillsFailed)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show lifecycle state and sync backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		st := e.ctrl.State()

		fmt.Printf("\n%s tillbook status\n\n", ui.RenderAccent("●"))
		if st.ClockedIn {
			fmt.Printf("Shift: %s (%s)\n", ui.RenderPass("open"), st.ShiftID)
		} else {
			fmt.Printf("Shift: %s\n", ui.RenderMuted("clocked out"))
		}
		if st.TillOpen {
			fmt.Printf("Till:  %s (%s)\n", ui.RenderPass("open"), st.TillSessionID)
		} else {
			fmt.Printf("Till:  %s\n", ui.RenderMuted("closed"))
		}

		if e.gate.Online() {
			fmt.Printf("Network: %s\n", ui.RenderPass("online"))
		} else {
			fmt.Printf("Network: %s\n", ui.RenderWarn("offline"))
		}

		shifts, tills, err := e.store.CountPending(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Pending sync: %d shifts, %d tills\n", shifts, tills)
		fmt.Printf("Ledger: %s\n\n", e.store.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
