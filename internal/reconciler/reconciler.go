// Package reconciler propagates local ledger records to the remote system
// of record, without ever blocking or reverting the local operation.
//
// The local write for an operator action always completes first and is
// authoritative for the session. The reconciler then makes one best-effort
// push; on failure (timeout, error status, offline) the attempt is
// abandoned silently and the record stays pending until a later drain. A
// drain walks every pending record oldest-first and retries it with the
// same clientId, relying on the backend's clientId idempotency to absorb
// replays of records it already accepted.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tillbook/tillbook/internal/gate"
	"github.com/tillbook/tillbook/internal/ledger"
	"github.com/tillbook/tillbook/internal/remote"
	"github.com/tillbook/tillbook/internal/report"
)

// ErrOffline is returned by Drain when the connectivity gate reports the
// device offline.
var ErrOffline = errors.New("device is offline")

// API is the slice of the backend client the reconciler needs.
type API interface {
	ClockIn(ctx context.Context, req remote.ClockInRequest) (string, error)
	ClockOut(ctx context.Context, req remote.ClockOutRequest) error
	TillOpen(ctx context.Context, req remote.TillOpenRequest) (string, error)
	TillClose(ctx context.Context, req remote.TillCloseRequest) error
}

// Config holds reconciler tuning. Zero values get defaults.
type Config struct {
	// MaxAttempts caps how many drain passes a single online window may
	// trigger when records keep failing. Default: 5.
	MaxAttempts int

	// InitialBackoff is the delay before the second drain attempt; it
	// doubles per attempt. Default: 2s.
	InitialBackoff time.Duration

	// MaxBackoff caps the doubling. Default: 1m.
	MaxBackoff time.Duration

	// Reports regenerates till-close reports for closed sessions drained
	// after the fact. Default: report.CashCount.
	Reports report.Generator

	// Logger for diagnostics. Remote failures are logged here and nowhere
	// else. Default: stderr.
	Logger *log.Logger
}

// Stats summarizes a drain pass.
type Stats struct {
	ShiftsSynced int
	ShiftsFailed int
	TillsSynced  int
	TillsFailed  int
}

// Pending reports whether any record failed and still awaits sync.
func (s Stats) Pending() bool {
	return s.ShiftsFailed > 0 || s.TillsFailed > 0
}

// Reconciler bridges the local ledger to the remote authority.
type Reconciler struct {
	store  *ledger.Store
	api    API
	gate   gate.Gate
	config Config
}

// New creates a Reconciler.
func New(store *ledger.Store, api API, g gate.Gate, config Config) *Reconciler {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 5
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = 2 * time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = time.Minute
	}
	if config.Reports == nil {
		config.Reports = report.CashCount{}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[reconciler] ", log.LstdFlags)
	}

	return &Reconciler{store: store, api: api, gate: g, config: config}
}

// ShiftOpened implements the lifecycle notifier: one push attempt for a
// freshly created shift. Failures are swallowed.
func (r *Reconciler) ShiftOpened(ctx context.Context, rec *ledger.ShiftRecord) {
	if !r.gate.Online() {
		r.config.Logger.Printf("offline, shift %s left pending", rec.ID)
		return
	}
	if err := r.syncShift(ctx, rec); err != nil {
		r.config.Logger.Printf("push failed, shift %s left pending: %v", rec.ID, err)
	}
}

// ShiftClosed implements the lifecycle notifier for clock-out.
func (r *Reconciler) ShiftClosed(ctx context.Context, rec *ledger.ShiftRecord) {
	if !r.gate.Online() {
		r.config.Logger.Printf("offline, clock-out for shift %s left pending", rec.ID)
		return
	}
	if err := r.syncShift(ctx, rec); err != nil {
		r.config.Logger.Printf("push failed, clock-out for shift %s left pending: %v", rec.ID, err)
	}
}

// TillOpened implements the lifecycle notifier for till open.
func (r *Reconciler) TillOpened(ctx context.Context, rec *ledger.TillSessionRecord) {
	if !r.gate.Online() {
		r.config.Logger.Printf("offline, till %s left pending", rec.ID)
		return
	}
	if err := r.syncTill(ctx, rec, nil); err != nil {
		r.config.Logger.Printf("push failed, till %s left pending: %v", rec.ID, err)
	}
}

// TillClosed implements the lifecycle notifier for till close. The report,
// when present, is forwarded unchanged.
func (r *Reconciler) TillClosed(ctx context.Context, rec *ledger.TillSessionRecord, rep *report.TillReport) {
	if !r.gate.Online() {
		r.config.Logger.Printf("offline, till close for %s left pending", rec.ID)
		return
	}
	if err := r.syncTill(ctx, rec, rep); err != nil {
		r.config.Logger.Printf("push failed, till close for %s left pending: %v", rec.ID, err)
	}
}

// Drain pushes every pending record to the backend, oldest first.
//
// Individual record failures are logged and counted but don't stop the
// pass. Returns ErrOffline without touching the backlog when the gate
// reports offline.
func (r *Reconciler) Drain(ctx context.Context) (Stats, error) {
	if !r.gate.Online() {
		return Stats{}, ErrOffline
	}

	var stats Stats

	shifts, err := r.store.ListPendingShifts(ctx)
	if err != nil {
		return stats, err
	}
	for _, rec := range shifts {
		if err := r.syncShift(ctx, rec); err != nil {
			r.config.Logger.Printf("WARNING: failed to sync shift %s: %v", rec.ID, err)
			stats.ShiftsFailed++
			continue
		}
		stats.ShiftsSynced++
	}

	tills, err := r.store.ListPendingTills(ctx)
	if err != nil {
		return stats, err
	}
	for _, rec := range tills {
		if err := r.syncTill(ctx, rec, nil); err != nil {
			r.config.Logger.Printf("WARNING: failed to sync till %s: %v", rec.ID, err)
			stats.TillsFailed++
			continue
		}
		stats.TillsSynced++
	}

	r.config.Logger.Printf("drain complete: shifts=%d (failed=%d), tills=%d (failed=%d)",
		stats.ShiftsSynced, stats.ShiftsFailed, stats.TillsSynced, stats.TillsFailed)

	return stats, nil
}

// Run subscribes to connectivity transitions and drains the backlog each
// time the device comes back online. Blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	transitions, cancel := r.gate.Subscribe()
	defer cancel()

	if r.gate.Online() {
		r.drainWithRetry(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case online, ok := <-transitions:
			if !ok {
				return nil
			}
			if !online {
				continue
			}
			r.config.Logger.Printf("connectivity restored, draining backlog")
			r.drainWithRetry(ctx)
		}
	}
}

// drainWithRetry repeats the drain with capped exponential backoff while
// records keep failing and the device stays online.
func (r *Reconciler) drainWithRetry(ctx context.Context) {
	backoff := r.config.InitialBackoff

	for attempt := 1; ; attempt++ {
		stats, err := r.Drain(ctx)
		if err != nil || !stats.Pending() {
			return
		}
		if attempt >= r.config.MaxAttempts {
			r.config.Logger.Printf("giving up after %d attempts, backlog waits for next online window", attempt)
			return
		}

		r.config.Logger.Printf("retrying drain in %v (attempt %d/%d)", backoff, attempt+1, r.config.MaxAttempts)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > r.config.MaxBackoff {
			backoff = r.config.MaxBackoff
		}
	}
}

// syncShift pushes one shift. The local id travels as clientId so the
// backend can dedupe replays. A CLOSED shift that never synced is replayed
// as clock-in followed by clock-out and only then marked synced, keeping it
// retryable if either call fails.
func (r *Reconciler) syncShift(ctx context.Context, rec *ledger.ShiftRecord) error {
	serverID := rec.ServerID

	if !rec.Synced && serverID == "" {
		id, err := r.api.ClockIn(ctx, remote.ClockInRequest{
			BranchID: rec.BranchID,
			BrandID:  rec.BrandID,
			DeviceID: rec.DeviceID,
			ClientID: rec.ID,
		})
		if err != nil {
			return err
		}
		// A synced record must carry a server identity; a 2xx with no id
		// counts as a failed push and the record stays pending.
		if id == "" {
			return fmt.Errorf("backend returned no shift id for %s", rec.ID)
		}
		serverID = id
	}

	if rec.Status == ledger.StatusClosed {
		err := r.api.ClockOut(ctx, remote.ClockOutRequest{
			BranchID: rec.BranchID,
			BrandID:  rec.BrandID,
			DeviceID: rec.DeviceID,
		})
		if err != nil {
			return err
		}
	}

	if rec.Synced {
		return nil
	}
	if err := r.store.MarkShiftSynced(ctx, rec.ID, serverID); err != nil {
		return err
	}
	rec.Synced = true
	rec.ServerID = serverID

	r.config.Logger.Printf("synced shift %s -> %s", rec.ID, serverID)
	return nil
}

// syncTill pushes one till session. When a closed session is drained after
// the fact the report is regenerated so the backend still receives it.
func (r *Reconciler) syncTill(ctx context.Context, rec *ledger.TillSessionRecord, rep *report.TillReport) error {
	serverID := rec.ServerID

	if !rec.Synced && serverID == "" {
		id, err := r.api.TillOpen(ctx, remote.TillOpenRequest{
			OpeningCash: rec.OpeningCash,
			BranchID:    rec.BranchID,
			BrandID:     rec.BrandID,
			DeviceID:    rec.DeviceID,
			ClientID:    rec.ID,
		})
		if err != nil {
			return err
		}
		if id == "" {
			return fmt.Errorf("backend returned no till id for %s", rec.ID)
		}
		serverID = id
	}

	if rec.Status == ledger.StatusClosed {
		if rep == nil {
			generated, err := r.config.Reports.Generate(ctx, rec)
			if err != nil {
				r.config.Logger.Printf("report regeneration failed for till %s: %v", rec.ID, err)
			} else {
				rep = generated
			}
		}

		closing := rec.OpeningCash
		if rec.ClosingCash != nil {
			closing = *rec.ClosingCash
		}

		err := r.api.TillClose(ctx, remote.TillCloseRequest{
			BranchID:    rec.BranchID,
			BrandID:     rec.BrandID,
			DeviceID:    rec.DeviceID,
			ClientID:    rec.ID,
			ClosingCash: closing,
			Report:      rep,
		})
		if err != nil {
			return err
		}
	}

	if rec.Synced {
		return nil
	}
	if err := r.store.MarkTillSynced(ctx, rec.ID, serverID); err != nil {
		return err
	}
	rec.Synced = true
	rec.ServerID = serverID

	r.config.Logger.Printf("synced till %s -> %s", rec.ID, serverID)
	return nil
}
