// Package lifecycle enforces the legal sequence of operator actions before
// any ledger mutation.
//
// The controller is a finite state machine over the composite state
// (clockedIn, tillOpen):
//
//	ClockedOut            --clock-in-->   ClockedIn/TillClosed
//	ClockedIn/TillClosed  --clock-out-->  ClockedOut
//	ClockedIn/TillClosed  --open-till-->  ClockedIn/TillOpen
//	ClockedIn/TillOpen    --close-till--> ClockedIn/TillClosed
//	ClockedIn/TillOpen    --clock-out-->  forbidden: till must close first
//
// All guard checks happen before any store call; a guard violation returns
// a ValidationError and leaves the ledger untouched.
package lifecycle

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/tillbook/tillbook/internal/ledger"
	"github.com/tillbook/tillbook/internal/report"
)

// Device flag keys mirroring the current state for fast UI restoration.
const (
	FlagClockedIn     = "pos_clocked_in"
	FlagShiftID       = "pos_shift_id"
	FlagTillOpened    = "pos_till_opened"
	FlagTillSessionID = "pos_till_session_id"
)

// State is the controller's composite state plus the ids of the records
// backing it.
type State struct {
	ClockedIn     bool
	TillOpen      bool
	ShiftID       string
	TillSessionID string
}

// Notifier is told about completed transitions so remote propagation can be
// attempted in the background. The local write has already succeeded by the
// time a notifier runs; implementations must never fail the operator's
// action.
type Notifier interface {
	ShiftOpened(ctx context.Context, rec *ledger.ShiftRecord)
	ShiftClosed(ctx context.Context, rec *ledger.ShiftRecord)
	TillOpened(ctx context.Context, rec *ledger.TillSessionRecord)
	TillClosed(ctx context.Context, rec *ledger.TillSessionRecord, rep *report.TillReport)
}

// noopNotifier is used when no reconciler is attached.
type noopNotifier struct{}

func (noopNotifier) ShiftOpened(context.Context, *ledger.ShiftRecord)      {}
func (noopNotifier) ShiftClosed(context.Context, *ledger.ShiftRecord)      {}
func (noopNotifier) TillOpened(context.Context, *ledger.TillSessionRecord) {}
func (noopNotifier) TillClosed(context.Context, *ledger.TillSessionRecord, *report.TillReport) {
}

// Config holds the controller's collaborators. Zero values get defaults.
type Config struct {
	Reports  report.Generator
	Printer  report.Printer
	Notifier Notifier
	Logger   *log.Logger
}

// Controller validates and executes lifecycle transitions against the ledger.
type Controller struct {
	store    *ledger.Store
	reports  report.Generator
	printer  report.Printer
	notifier Notifier
	logger   *log.Logger

	state State
}

// New creates a Controller. Call Restore before the first transition so the
// in-memory state matches the ledger.
func New(store *ledger.Store, cfg *Config) *Controller {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Reports == nil {
		cfg.Reports = report.CashCount{}
	}
	if cfg.Printer == nil {
		cfg.Printer = report.Discard{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[lifecycle] ", log.LstdFlags)
	}

	return &Controller{
		store:    store,
		reports:  cfg.Reports,
		printer:  cfg.Printer,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}
}

// State returns the current composite state.
func (c *Controller) State() State {
	return c.state
}

// Restore reconstructs the composite state at startup.
//
// The ledger's OPEN rows are the source of truth; the persisted flags are
// only a cache. When the flags claim an open shift or till that the ledger
// does not have (app killed mid-write, database replaced), the stale flags
// are cleared rather than trusted.
func (c *Controller) Restore(ctx context.Context) error {
	var st State

	shift, err := c.store.FindOpenShift(ctx)
	switch {
	case err == nil:
		st.ClockedIn = true
		st.ShiftID = shift.ID
	case errors.Is(err, ledger.ErrNotFound):
	default:
		return err
	}

	till, err := c.store.FindOpenTill(ctx)
	switch {
	case err == nil:
		st.TillOpen = true
		st.TillSessionID = till.ID
	case errors.Is(err, ledger.ErrNotFound):
	default:
		return err
	}

	if flagged, _ := c.store.GetFlag(ctx, FlagClockedIn); flagged == "1" && !st.ClockedIn {
		c.logger.Printf("stale %s flag: no open shift in ledger, clearing", FlagClockedIn)
	}
	if flagged, _ := c.store.GetFlag(ctx, FlagTillOpened); flagged == "1" && !st.TillOpen {
		c.logger.Printf("stale %s flag: no open till in ledger, clearing", FlagTillOpened)
	}

	c.state = st
	return c.writeFlags(ctx)
}

// ClockInParams carries the context for opening a shift. UserID may be a
// display name until real identity is wired.
type ClockInParams struct {
	BranchID string
	UserID   string
	BrandID  string
	DeviceID string
}

// ClockIn opens a shift. Guard: must be clocked out, branch must be known.
func (c *Controller) ClockIn(ctx context.Context, p ClockInParams) (*ledger.ShiftRecord, error) {
	if c.state.ClockedIn {
		return nil, &ledger.ValidationError{Reason: "already clocked in"}
	}
	if p.BranchID == "" {
		return nil, &ledger.ValidationError{Reason: "missing branch"}
	}

	rec := &ledger.ShiftRecord{
		BranchID: p.BranchID,
		UserID:   p.UserID,
		BrandID:  p.BrandID,
		DeviceID: p.DeviceID,
	}
	if _, err := c.store.CreateShift(ctx, rec); err != nil {
		return nil, err
	}

	c.state = State{ClockedIn: true, ShiftID: rec.ID}
	if err := c.writeFlags(ctx); err != nil {
		c.logger.Printf("failed to mirror flags after clock-in: %v", err)
	}

	c.notifier.ShiftOpened(ctx, rec)
	return rec, nil
}

// ClockOut closes the current shift. Guard: the till must be closed first.
func (c *Controller) ClockOut(ctx context.Context) error {
	if !c.state.ClockedIn {
		return &ledger.ValidationError{Reason: "not clocked in"}
	}
	if c.state.TillOpen {
		return &ledger.ValidationError{Reason: "close the till before clocking out"}
	}

	id := c.state.ShiftID
	if err := c.store.CloseShift(ctx, id); err != nil {
		return err
	}

	c.state = State{}
	if err := c.writeFlags(ctx); err != nil {
		c.logger.Printf("failed to mirror flags after clock-out: %v", err)
	}

	if rec, err := c.store.GetShift(ctx, id); err == nil {
		c.notifier.ShiftClosed(ctx, rec)
	}
	return nil
}

// OpenTillParams carries the context for opening a till session.
type OpenTillParams struct {
	OpeningCash float64
	BrandID     string
	DeviceID    string
}

// OpenTill opens a till session inside the current shift.
// Guards: clocked in, no till already open, opening cash positive.
func (c *Controller) OpenTill(ctx context.Context, p OpenTillParams) (*ledger.TillSessionRecord, error) {
	if !c.state.ClockedIn {
		return nil, &ledger.ValidationError{Reason: "clock in before opening the till"}
	}
	if c.state.TillOpen {
		return nil, &ledger.ValidationError{Reason: "till is already open"}
	}
	if p.OpeningCash <= 0 {
		return nil, &ledger.ValidationError{Reason: "opening cash must be a positive amount"}
	}

	shift, err := c.store.GetShift(ctx, c.state.ShiftID)
	if err != nil {
		return nil, err
	}

	rec := &ledger.TillSessionRecord{
		ShiftLocalID: shift.ID,
		BranchID:     shift.BranchID,
		BrandID:      firstNonEmpty(p.BrandID, shift.BrandID),
		DeviceID:     firstNonEmpty(p.DeviceID, shift.DeviceID),
		OpeningCash:  p.OpeningCash,
	}
	if _, err := c.store.CreateTill(ctx, rec); err != nil {
		return nil, err
	}

	c.state.TillOpen = true
	c.state.TillSessionID = rec.ID
	if err := c.writeFlags(ctx); err != nil {
		c.logger.Printf("failed to mirror flags after till open: %v", err)
	}

	c.notifier.TillOpened(ctx, rec)
	return rec, nil
}

// CloseTill closes the current till session with the counted cash, then
// generates the till-close report and hands it to the printer and the
// notifier. Guard: a till must be open.
func (c *Controller) CloseTill(ctx context.Context, closingCash float64) (*ledger.TillSessionRecord, *report.TillReport, error) {
	if !c.state.TillOpen {
		return nil, nil, &ledger.ValidationError{Reason: "no open till session"}
	}

	id := c.state.TillSessionID
	if err := c.store.CloseTill(ctx, id, &closingCash); err != nil {
		return nil, nil, err
	}

	c.state.TillOpen = false
	c.state.TillSessionID = ""
	if err := c.writeFlags(ctx); err != nil {
		c.logger.Printf("failed to mirror flags after till close: %v", err)
	}

	rec, err := c.store.GetTillSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	rep, err := c.reports.Generate(ctx, rec)
	if err != nil {
		// The local close already succeeded; a report failure must not
		// revert it.
		c.logger.Printf("till report generation failed for %s: %v", id, err)
		c.notifier.TillClosed(ctx, rec, nil)
		return rec, nil, nil
	}

	if err := c.printer.Print(rep); err != nil {
		c.logger.Printf("till report print failed for %s: %v", id, err)
	}

	c.notifier.TillClosed(ctx, rec, rep)
	return rec, rep, nil
}

// writeFlags mirrors the composite state into the device flags.
func (c *Controller) writeFlags(ctx context.Context) error {
	set := func(key, value string) error {
		if value == "" {
			return c.store.DeleteFlag(ctx, key)
		}
		return c.store.SetFlag(ctx, key, value)
	}

	clocked := ""
	if c.state.ClockedIn {
		clocked = "1"
	}
	opened := ""
	if c.state.TillOpen {
		opened = "1"
	}

	for _, kv := range []struct{ k, v string }{
		{FlagClockedIn, clocked},
		{FlagShiftID, c.state.ShiftID},
		{FlagTillOpened, opened},
		{FlagTillSessionID, c.state.TillSessionID},
	} {
		if err := set(kv.k, kv.v); err != nil {
			return err
		}
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
