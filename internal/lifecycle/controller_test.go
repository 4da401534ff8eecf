package lifecycle

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/tillbook/tillbook/internal/ledger"
	"github.com/tillbook/tillbook/internal/report"
)

// recordingNotifier captures which transitions the controller announced.
type recordingNotifier struct {
	shiftsOpened []string
	shiftsClosed []string
	tillsOpened  []string
	tillsClosed  []string
	lastReport   *report.TillReport
}

func (n *recordingNotifier) ShiftOpened(_ context.Context, rec *ledger.ShiftRecord) {
	n.shiftsOpened = append(n.shiftsOpened, rec.ID)
}

func (n *recordingNotifier) ShiftClosed(_ context.Context, rec *ledger.ShiftRecord) {
	n.shiftsClosed = append(n.shiftsClosed, rec.ID)
}

func (n *recordingNotifier) TillOpened(_ context.Context, rec *ledger.TillSessionRecord) {
	n.tillsOpened = append(n.tillsOpened, rec.ID)
}

func (n *recordingNotifier) TillClosed(_ context.Context, rec *ledger.TillSessionRecord, rep *report.TillReport) {
	n.tillsClosed = append(n.tillsClosed, rec.ID)
	n.lastReport = rep
}

func setupController(t *testing.T) (*Controller, *ledger.Store, *recordingNotifier) {
	t.Helper()

	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	notifier := &recordingNotifier{}
	ctrl := New(store, &Config{Notifier: notifier})
	if err := ctrl.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	return ctrl, store, notifier
}

func TestClockIn(t *testing.T) {
	ctrl, _, notifier := setupController(t)
	ctx := context.Background()

	rec, err := ctrl.ClockIn(ctx, ClockInParams{BranchID: "B1", UserID: "ana"})
	if err != nil {
		t.Fatalf("ClockIn() failed: %v", err)
	}

	st := ctrl.State()
	if !st.ClockedIn || st.ShiftID != rec.ID {
		t.Errorf("State() = %+v, want clocked in with shift %s", st, rec.ID)
	}
	if len(notifier.shiftsOpened) != 1 || notifier.shiftsOpened[0] != rec.ID {
		t.Errorf("notifier saw %v, want [%s]", notifier.shiftsOpened, rec.ID)
	}
}

func TestClockIn_AlreadyClockedIn(t *testing.T) {
	ctrl, _, _ := setupController(t)
	ctx := context.Background()

	if _, err := ctrl.ClockIn(ctx, ClockInParams{BranchID: "B1"}); err != nil {
		t.Fatalf("first ClockIn() failed: %v", err)
	}
	if _, err := ctrl.ClockIn(ctx, ClockInParams{BranchID: "B1"}); !ledger.IsValidation(err) {
		t.Errorf("second ClockIn() = %v, want ValidationError", err)
	}
}

func TestClockIn_MissingBranch(t *testing.T) {
	ctrl, _, _ := setupController(t)

	if _, err := ctrl.ClockIn(context.Background(), ClockInParams{}); !ledger.IsValidation(err) {
		t.Errorf("ClockIn() = %v, want ValidationError", err)
	}
}

func TestClockOut_NotClockedIn(t *testing.T) {
	ctrl, _, _ := setupController(t)

	if err := ctrl.ClockOut(context.Background()); !ledger.IsValidation(err) {
		t.Errorf("ClockOut() = %v, want ValidationError", err)
	}
}

func TestClockOut_TillStillOpen(t *testing.T) {
	ctrl, store, _ := setupController(t)
	ctx := context.Background()

	shift, err := ctrl.ClockIn(ctx, ClockInParams{BranchID: "B1"})
	if err != nil {
		t.Fatalf("ClockIn() failed: %v", err)
	}
	if _, err := ctrl.OpenTill(ctx, OpenTillParams{OpeningCash: 500}); err != nil {
		t.Fatalf("OpenTill() failed: %v", err)
	}

	if err := ctrl.ClockOut(ctx); !ledger.IsValidation(err) {
		t.Fatalf("ClockOut() with open till = %v, want ValidationError", err)
	}

	// The refused clock-out must leave the shift open.
	rec, err := store.GetShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("GetShift() failed: %v", err)
	}
	if !rec.Open() {
		t.Error("shift should still be open after refused clock-out")
	}
}

func TestOpenTill_Guards(t *testing.T) {
	ctrl, _, _ := setupController(t)
	ctx := context.Background()

	if _, err := ctrl.OpenTill(ctx, OpenTillParams{OpeningCash: 500}); !ledger.IsValidation(err) {
		t.Errorf("OpenTill() while clocked out = %v, want ValidationError", err)
	}

	if _, err := ctrl.ClockIn(ctx, ClockInParams{BranchID: "B1"}); err != nil {
		t.Fatalf("ClockIn() failed: %v", err)
	}

	if _, err := ctrl.OpenTill(ctx, OpenTillParams{OpeningCash: 0}); !ledger.IsValidation(err) {
		t.Errorf("OpenTill(0) = %v, want ValidationError", err)
	}
	if _, err := ctrl.OpenTill(ctx, OpenTillParams{OpeningCash: -10}); !ledger.IsValidation(err) {
		t.Errorf("OpenTill(-10) = %v, want ValidationError", err)
	}

	if _, err := ctrl.OpenTill(ctx, OpenTillParams{OpeningCash: 500}); err != nil {
		t.Fatalf("OpenTill() failed: %v", err)
	}
	if _, err := ctrl.OpenTill(ctx, OpenTillParams{OpeningCash: 500}); !ledger.IsValidation(err) {
		t.Errorf("second OpenTill() = %v, want ValidationError", err)
	}
}

func TestOpenTill_InheritsShiftContext(t *testing.T) {
	ctrl, _, _ := setupController(t)
	ctx := context.Background()

	shift, err := ctrl.ClockIn(ctx, ClockInParams{BranchID: "B7", BrandID: "acme", DeviceID: "pos-3"})
	if err != nil {
		t.Fatalf("ClockIn() failed: %v", err)
	}

	till, err := ctrl.OpenTill(ctx, OpenTillParams{OpeningCash: 250})
	if err != nil {
		t.Fatalf("OpenTill() failed: %v", err)
	}

	if till.BranchID != "B7" {
		t.Errorf("BranchID = %q, want inherited B7", till.BranchID)
	}
	if till.BrandID != "acme" || till.DeviceID != "pos-3" {
		t.Errorf("brand/device = %q/%q, want inherited acme/pos-3", till.BrandID, till.DeviceID)
	}
	if till.ShiftLocalID != shift.ID {
		t.Errorf("ShiftLocalID = %q, want %s", till.ShiftLocalID, shift.ID)
	}
}

func TestCloseTill_NoOpenTill(t *testing.T) {
	ctrl, _, _ := setupController(t)

	if _, _, err := ctrl.CloseTill(context.Background(), 100); !ledger.IsValidation(err) {
		t.Errorf("CloseTill() = %v, want ValidationError", err)
	}
}

func TestFullShiftDay(t *testing.T) {
	ctrl, store, notifier := setupController(t)
	ctx := context.Background()

	shift, err := ctrl.ClockIn(ctx, ClockInParams{BranchID: "B1", UserID: "ana"})
	if err != nil {
		t.Fatalf("ClockIn() failed: %v", err)
	}
	till, err := ctrl.OpenTill(ctx, OpenTillParams{OpeningCash: 500})
	if err != nil {
		t.Fatalf("OpenTill() failed: %v", err)
	}

	rec, rep, err := ctrl.CloseTill(ctx, 620)
	if err != nil {
		t.Fatalf("CloseTill() failed: %v", err)
	}
	if rec.ID != till.ID {
		t.Errorf("closed session %s, want %s", rec.ID, till.ID)
	}
	if rep == nil {
		t.Fatal("CloseTill() returned no report")
	}
	if rep.CashVariance != 120 {
		t.Errorf("CashVariance = %v, want 120", rep.CashVariance)
	}
	if notifier.lastReport == nil || notifier.lastReport.SessionID != till.ID {
		t.Error("notifier should receive the generated report")
	}

	if err := ctrl.ClockOut(ctx); err != nil {
		t.Fatalf("ClockOut() failed: %v", err)
	}

	st := ctrl.State()
	if st.ClockedIn || st.TillOpen {
		t.Errorf("State() = %+v, want fully reset", st)
	}

	closed, err := store.GetShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("GetShift() failed: %v", err)
	}
	if closed.Status != ledger.StatusClosed {
		t.Errorf("shift status = %q, want CLOSED", closed.Status)
	}

	if len(notifier.shiftsClosed) != 1 || notifier.shiftsClosed[0] != shift.ID {
		t.Errorf("notifier saw closed shifts %v, want [%s]", notifier.shiftsClosed, shift.ID)
	}
}

func TestCloseTill_ReportsPrinted(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	if err := store.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	var out bytes.Buffer
	ctrl := New(store, &Config{Printer: report.TextPrinter{W: &out}})
	if err := ctrl.Restore(ctx); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	if _, err := ctrl.ClockIn(ctx, ClockInParams{BranchID: "B1"}); err != nil {
		t.Fatalf("ClockIn() failed: %v", err)
	}
	if _, err := ctrl.OpenTill(ctx, OpenTillParams{OpeningCash: 500}); err != nil {
		t.Fatalf("OpenTill() failed: %v", err)
	}
	if _, _, err := ctrl.CloseTill(ctx, 620); err != nil {
		t.Fatalf("CloseTill() failed: %v", err)
	}

	if out.Len() == 0 {
		t.Error("expected the till report to be printed")
	}
}

func TestRestore_FromLedger(t *testing.T) {
	ctrl, store, _ := setupController(t)
	ctx := context.Background()

	shift, err := ctrl.ClockIn(ctx, ClockInParams{BranchID: "B1"})
	if err != nil {
		t.Fatalf("ClockIn() failed: %v", err)
	}
	till, err := ctrl.OpenTill(ctx, OpenTillParams{OpeningCash: 500})
	if err != nil {
		t.Fatalf("OpenTill() failed: %v", err)
	}

	// Fresh controller over the same database, as after an app restart.
	restarted := New(store, &Config{})
	if err := restarted.Restore(ctx); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	st := restarted.State()
	if !st.ClockedIn || st.ShiftID != shift.ID {
		t.Errorf("restored shift state = %+v, want shift %s", st, shift.ID)
	}
	if !st.TillOpen || st.TillSessionID != till.ID {
		t.Errorf("restored till state = %+v, want till %s", st, till.ID)
	}
}

func TestRestore_ClearsStaleFlags(t *testing.T) {
	ctrl, store, _ := setupController(t)
	ctx := context.Background()

	// Flags claim an open shift the ledger does not have.
	if err := store.SetFlag(ctx, FlagClockedIn, "1"); err != nil {
		t.Fatalf("SetFlag() failed: %v", err)
	}
	if err := store.SetFlag(ctx, FlagShiftID, "ghost-shift"); err != nil {
		t.Fatalf("SetFlag() failed: %v", err)
	}

	if err := ctrl.Restore(ctx); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	st := ctrl.State()
	if st.ClockedIn {
		t.Error("stale flags must not produce a clocked-in state")
	}
	if v, _ := store.GetFlag(ctx, FlagClockedIn); v != "" {
		t.Errorf("flag %s = %q, want cleared", FlagClockedIn, v)
	}
	if v, _ := store.GetFlag(ctx, FlagShiftID); v != "" {
		t.Errorf("flag %s = %q, want cleared", FlagShiftID, v)
	}
}

func TestFlagsMirrorState(t *testing.T) {
	ctrl, store, _ := setupController(t)
	ctx := context.Background()

	shift, err := ctrl.ClockIn(ctx, ClockInParams{BranchID: "B1"})
	if err != nil {
		t.Fatalf("ClockIn() failed: %v", err)
	}

	if v, _ := store.GetFlag(ctx, FlagClockedIn); v != "1" {
		t.Errorf("flag %s = %q, want 1", FlagClockedIn, v)
	}
	if v, _ := store.GetFlag(ctx, FlagShiftID); v != shift.ID {
		t.Errorf("flag %s = %q, want %s", FlagShiftID, v, shift.ID)
	}

	if err := ctrl.ClockOut(ctx); err != nil {
		t.Fatalf("ClockOut() failed: %v", err)
	}
	if v, _ := store.GetFlag(ctx, FlagClockedIn); v != "" {
		t.Errorf("flag %s = %q, want cleared after clock-out", FlagClockedIn, v)
	}
}
