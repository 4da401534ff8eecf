package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tillbook/tillbook/internal/config"
	"github.com/tillbook/tillbook/internal/gate"
	"github.com/tillbook/tillbook/internal/ledger"
	"github.com/tillbook/tillbook/internal/lifecycle"
	"github.com/tillbook/tillbook/internal/reconciler"
	"github.com/tillbook/tillbook/internal/remote"
	"github.com/tillbook/tillbook/internal/report"
)

var (
	cfgFile string
	offline bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tillbook",
	Short: "Offline-first POS shift and till ledger",
	Long: `tillbook keeps a point-of-sale device operating while disconnected.

Every operator action (clock-in/out, till open/close) is written to the
local ledger first and is immediately final for the session. Records are
pushed to the backend in the background; anything that could not be
delivered is drained the next time connectivity returns.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./tillbook.yaml)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "skip all remote push attempts")

	rootCmd.AddGroup(
		&cobra.Group{ID: "shift", Title: "Shift and till commands:"},
		&cobra.Group{ID: "sync", Title: "Sync commands:"},
	)
}

// env wires the subsystem for one CLI invocation.
type env struct {
	store  *ledger.Store
	ctrl   *lifecycle.Controller
	rec    *reconciler.Reconciler
	gate   gate.Gate
	logger *log.Logger
}

// newEnv opens the ledger, restores lifecycle state, and attaches the
// reconciler. One-shot commands probe connectivity once instead of holding
// a monitor.
func newEnv(ctx context.Context) (*env, error) {
	logger := newLogger()

	store, err := ledger.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	var g gate.Gate
	if offline {
		g = gate.NewManual(false)
	} else {
		g = gate.NewManual(gate.Probe(ctx, cfg.Gate.URL, cfg.API.Timeout))
	}

	api := remote.NewClient(remote.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
	})

	rec := reconciler.New(store, api, g, reconciler.Config{
		MaxAttempts:    cfg.Sync.MaxAttempts,
		InitialBackoff: cfg.Sync.InitialBackoff,
		MaxBackoff:     cfg.Sync.MaxBackoff,
		Logger:         log.New(logger.Writer(), "[reconciler] ", log.LstdFlags),
	})

	ctrl := lifecycle.New(store, &lifecycle.Config{
		Notifier: rec,
		Printer:  report.TextPrinter{W: os.Stdout},
		Logger:   log.New(logger.Writer(), "[lifecycle] ", log.LstdFlags),
	})
	if err := ctrl.Restore(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &env{store: store, ctrl: ctrl, rec: rec, gate: g, logger: logger}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// newLogger writes diagnostics to the rotating log file; the operator only
// sees command output.
func newLogger() *log.Logger {
	var w io.Writer = &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}
	if cfg.Log.File == "" {
		w = os.Stderr
	}
	return log.New(w, "[tillbook] ", log.LstdFlags)
}
