package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tillbook/tillbook/internal/gate"
	"github.com/tillbook/tillbook/internal/ledger"
	"github.com/tillbook/tillbook/internal/reconciler"
	"github.com/tillbook/tillbook/internal/remote"
	"github.com/tillbook/tillbook/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Watch connectivity and drain the backlog on every reconnect (foreground)",
	Long: `Run the connectivity monitor and the reconciler in the foreground.

The monitor holds a websocket to the backend's liveness endpoint; every
offline-to-online transition triggers a drain of the pending backlog, with
capped exponential backoff while records keep failing.

Press Ctrl+C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		store, err := ledger.Open(cfg.DB.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := store.InitSchema(ctx); err != nil {
			return err
		}

		monitor, err := gate.NewMonitor(gate.MonitorConfig{
			URL:           cfg.Gate.URL,
			RetryInterval: cfg.Gate.RetryInterval,
			Logger:        log.New(logger.Writer(), "[gate] ", log.LstdFlags),
		})
		if err != nil {
			return err
		}

		api := remote.NewClient(remote.Config{
			BaseURL: cfg.API.BaseURL,
			Timeout: cfg.API.Timeout,
		})

		rec := reconciler.New(store, api, monitor, reconciler.Config{
			MaxAttempts:    cfg.Sync.MaxAttempts,
			InitialBackoff: cfg.Sync.InitialBackoff,
			MaxBackoff:     cfg.Sync.MaxBackoff,
			Logger:         log.New(logger.Writer(), "[reconciler] ", log.LstdFlags),
		})

		fmt.Printf("%s Watching %s, draining to %s\n", ui.RenderAccent("▶"), cfg.Gate.URL, cfg.API.BaseURL)
		fmt.Println("Press Ctrl+C to stop")

		monitor.Start(ctx)
		defer monitor.Stop()

		if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		fmt.Printf("\n%s Stopped\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
