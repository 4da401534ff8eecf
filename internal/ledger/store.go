package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the embedded SQLite database holding the device ledger.
//
// SQLite runs in WAL mode with a busy timeout so a reader (status queries,
// the reconciler's drain) never trips over the single writer. There is
// exactly one operator session per device, so no further locking discipline
// is required beyond sequential, awaited calls.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the ledger database at the specified path.
//
// The parent directory is created if missing. The caller MUST call Close()
// when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ledger database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the ledger tables if they don't exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		branch_id TEXT NOT NULL,
		brand_id TEXT,
		device_id TEXT,
		status TEXT NOT NULL DEFAULT 'OPEN',
		clock_in_at TEXT NOT NULL,
		clock_out_at TEXT,
		synced INTEGER NOT NULL DEFAULT 0,
		server_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS till_sessions (
		id TEXT PRIMARY KEY,
		shift_local_id TEXT,
		branch_id TEXT NOT NULL,
		brand_id TEXT,
		device_id TEXT,
		opening_cash REAL NOT NULL,
		closing_cash REAL,
		status TEXT NOT NULL DEFAULT 'OPEN',
		opened_at TEXT NOT NULL,
		closed_at TEXT,
		synced INTEGER NOT NULL DEFAULT 0,
		server_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Mirror of the lifecycle state for fast UI restoration. The ledger's
	-- OPEN rows remain the source of truth; this is a cache.
	CREATE TABLE IF NOT EXISTS device_flags (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_shifts_status ON shifts(status);
	CREATE INDEX IF NOT EXISTS idx_shifts_pending ON shifts(synced, created_at);
	CREATE INDEX IF NOT EXISTS idx_tills_status ON till_sessions(status);
	CREATE INDEX IF NOT EXISTS idx_tills_pending ON till_sessions(synced, created_at);
	CREATE INDEX IF NOT EXISTS idx_tills_shift ON till_sessions(shift_local_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return &StorageError{Op: "init schema", Err: err}
	}

	return nil
}

// CreateShift writes a new OPEN shift row and returns its local id.
//
// userId, brandId and deviceId may be empty; branchId may not.
func (s *Store) CreateShift(ctx context.Context, rec *ShiftRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	now := time.Now().UTC()
	if rec.ClockInAt.IsZero() {
		rec.ClockInAt = now
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.Status = StatusOpen
	rec.Synced = false
	rec.ServerID = ""

	if err := rec.Validate(); err != nil {
		return "", err
	}

	query := `
	INSERT INTO shifts (id, user_id, branch_id, brand_id, device_id,
		status, clock_in_at, clock_out_at, synced, server_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 0, NULL, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		rec.ID,
		nullString(rec.UserID),
		rec.BranchID,
		nullString(rec.BrandID),
		nullString(rec.DeviceID),
		rec.Status,
		rec.ClockInAt.Format(time.RFC3339Nano),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", &StorageError{Op: "create shift", Err: err}
	}

	return rec.ID, nil
}

// CloseShift marks the shift CLOSED with a clock-out timestamp.
//
// A missing or unknown id is a no-op, not an error: clock-out stays best
// effort even if local state was already cleared.
func (s *Store) CloseShift(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	query := `
	UPDATE shifts SET status = ?, clock_out_at = ?
	WHERE id = ?
	`
	_, err := s.conn.ExecContext(ctx, query,
		StatusClosed, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return &StorageError{Op: "close shift", Err: err}
	}

	return nil
}

// CreateTill writes a new OPEN till session row and returns its local id.
//
// OpeningCash is stored as given; validating the amount is the caller's
// responsibility before invocation.
func (s *Store) CreateTill(ctx context.Context, rec *TillSessionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	now := time.Now().UTC()
	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = now
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.Status = StatusOpen
	rec.Synced = false
	rec.ServerID = ""

	if err := rec.Validate(); err != nil {
		return "", err
	}

	query := `
	INSERT INTO till_sessions (id, shift_local_id, branch_id, brand_id, device_id,
		opening_cash, closing_cash, status, opened_at, closed_at, synced, server_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, NULL, 0, NULL, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		rec.ID,
		nullString(rec.ShiftLocalID),
		rec.BranchID,
		nullString(rec.BrandID),
		nullString(rec.DeviceID),
		rec.OpeningCash,
		rec.Status,
		rec.OpenedAt.Format(time.RFC3339Nano),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", &StorageError{Op: "create till session", Err: err}
	}

	return rec.ID, nil
}

// CloseTill marks the till session CLOSED.
//
// A missing id is a no-op. A nil closingCash keeps whatever value the row
// already carries; a known value is never silently zeroed.
func (s *Store) CloseTill(ctx context.Context, id string, closingCash *float64) error {
	if id == "" {
		return nil
	}

	query := `
	UPDATE till_sessions
	SET status = ?, closed_at = ?, closing_cash = COALESCE(?, closing_cash)
	WHERE id = ?
	`
	var cash sql.NullFloat64
	if closingCash != nil {
		cash = sql.NullFloat64{Float64: *closingCash, Valid: true}
	}

	_, err := s.conn.ExecContext(ctx, query,
		StatusClosed, time.Now().UTC().Format(time.RFC3339Nano), cash, id)
	if err != nil {
		return &StorageError{Op: "close till session", Err: err}
	}

	return nil
}

// GetShift retrieves a shift by local id. Returns ErrNotFound if no row matches.
func (s *Store) GetShift(ctx context.Context, id string) (*ShiftRecord, error) {
	query := `
	SELECT id, user_id, branch_id, brand_id, device_id,
	       status, clock_in_at, clock_out_at, synced, server_id, created_at
	FROM shifts WHERE id = ?
	`
	rec, err := scanShift(s.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get shift", Err: err}
	}
	return rec, nil
}

// GetTillSession retrieves a till session by local id.
// Returns ErrNotFound if no row matches.
func (s *Store) GetTillSession(ctx context.Context, id string) (*TillSessionRecord, error) {
	query := `
	SELECT id, shift_local_id, branch_id, brand_id, device_id,
	       opening_cash, closing_cash, status, opened_at, closed_at,
	       synced, server_id, created_at
	FROM till_sessions WHERE id = ?
	`
	rec, err := scanTill(s.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get till session", Err: err}
	}
	return rec, nil
}

// FindOpenShift returns the currently OPEN shift, or ErrNotFound if none.
// Used to reconstruct lifecycle state from the ledger at startup.
func (s *Store) FindOpenShift(ctx context.Context) (*ShiftRecord, error) {
	query := `
	SELECT id, user_id, branch_id, brand_id, device_id,
	       status, clock_in_at, clock_out_at, synced, server_id, created_at
	FROM shifts WHERE status = ? ORDER BY created_at DESC LIMIT 1
	`
	rec, err := scanShift(s.conn.QueryRowContext(ctx, query, StatusOpen))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "find open shift", Err: err}
	}
	return rec, nil
}

// FindOpenTill returns the currently OPEN till session, or ErrNotFound if none.
func (s *Store) FindOpenTill(ctx context.Context) (*TillSessionRecord, error) {
	query := `
	SELECT id, shift_local_id, branch_id, brand_id, device_id,
	       opening_cash, closing_cash, status, opened_at, closed_at,
	       synced, server_id, created_at
	FROM till_sessions WHERE status = ? ORDER BY created_at DESC LIMIT 1
	`
	rec, err := scanTill(s.conn.QueryRowContext(ctx, query, StatusOpen))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "find open till", Err: err}
	}
	return rec, nil
}

// ListPendingShifts returns shifts not yet accepted by the remote authority,
// oldest first.
func (s *Store) ListPendingShifts(ctx context.Context) ([]*ShiftRecord, error) {
	query := `
	SELECT id, user_id, branch_id, brand_id, device_id,
	       status, clock_in_at, clock_out_at, synced, server_id, created_at
	FROM shifts WHERE synced = 0 ORDER BY created_at ASC
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, &StorageError{Op: "list pending shifts", Err: err}
	}
	defer rows.Close()

	var recs []*ShiftRecord
	for rows.Next() {
		rec, err := scanShift(rows)
		if err != nil {
			return nil, &StorageError{Op: "scan pending shift", Err: err}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "iterate pending shifts", Err: err}
	}

	return recs, nil
}

// ListPendingTills returns till sessions not yet accepted by the remote
// authority, oldest first.
func (s *Store) ListPendingTills(ctx context.Context) ([]*TillSessionRecord, error) {
	query := `
	SELECT id, shift_local_id, branch_id, brand_id, device_id,
	       opening_cash, closing_cash, status, opened_at, closed_at,
	       synced, server_id, created_at
	FROM till_sessions WHERE synced = 0 ORDER BY created_at ASC
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, &StorageError{Op: "list pending tills", Err: err}
	}
	defer rows.Close()

	var recs []*TillSessionRecord
	for rows.Next() {
		rec, err := scanTill(rows)
		if err != nil {
			return nil, &StorageError{Op: "scan pending till", Err: err}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "iterate pending tills", Err: err}
	}

	return recs, nil
}

// CountPending returns how many shifts and till sessions still await sync.
func (s *Store) CountPending(ctx context.Context) (shifts, tills int, err error) {
	if err = s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM shifts WHERE synced = 0").Scan(&shifts); err != nil {
		return 0, 0, &StorageError{Op: "count pending shifts", Err: err}
	}
	if err = s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM till_sessions WHERE synced = 0").Scan(&tills); err != nil {
		return 0, 0, &StorageError{Op: "count pending tills", Err: err}
	}
	return shifts, tills, nil
}

// MarkShiftSynced records the server-assigned identity for a shift.
//
// Idempotent: marking an already-synced row with the same serverId has no
// additional effect. A synced row is never flipped back to pending.
func (s *Store) MarkShiftSynced(ctx context.Context, id, serverID string) error {
	query := `UPDATE shifts SET synced = 1, server_id = COALESCE(server_id, ?) WHERE id = ?`
	_, err := s.conn.ExecContext(ctx, query, serverID, id)
	if err != nil {
		return &StorageError{Op: "mark shift synced", Err: err}
	}
	return nil
}

// MarkTillSynced records the server-assigned identity for a till session.
// Idempotent, same semantics as MarkShiftSynced.
func (s *Store) MarkTillSynced(ctx context.Context, id, serverID string) error {
	query := `UPDATE till_sessions SET synced = 1, server_id = COALESCE(server_id, ?) WHERE id = ?`
	_, err := s.conn.ExecContext(ctx, query, serverID, id)
	if err != nil {
		return &StorageError{Op: "mark till synced", Err: err}
	}
	return nil
}

// GetFlag reads a device flag. Missing keys return "" with no error.
func (s *Store) GetFlag(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM device_flags WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &StorageError{Op: "get flag " + key, Err: err}
	}
	return value, nil
}

// SetFlag writes a device flag.
func (s *Store) SetFlag(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO device_flags (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, key, value); err != nil {
		return &StorageError{Op: "set flag " + key, Err: err}
	}
	return nil
}

// DeleteFlag removes a device flag. Missing keys are a no-op.
func (s *Store) DeleteFlag(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx,
		"DELETE FROM device_flags WHERE key = ?", key); err != nil {
		return &StorageError{Op: "delete flag " + key, Err: err}
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanShift(row scanner) (*ShiftRecord, error) {
	var rec ShiftRecord
	var userID, brandID, deviceID, serverID sql.NullString
	var clockInAt, createdAt string
	var clockOutAt sql.NullString
	var synced int

	err := row.Scan(
		&rec.ID,
		&userID,
		&rec.BranchID,
		&brandID,
		&deviceID,
		&rec.Status,
		&clockInAt,
		&clockOutAt,
		&synced,
		&serverID,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.UserID = userID.String
	rec.BrandID = brandID.String
	rec.DeviceID = deviceID.String
	rec.ServerID = serverID.String
	rec.Synced = synced != 0
	rec.ClockInAt = parseTime(clockInAt)
	rec.CreatedAt = parseTime(createdAt)
	rec.ClockOutAt = nullStringToTime(clockOutAt)

	return &rec, nil
}

func scanTill(row scanner) (*TillSessionRecord, error) {
	var rec TillSessionRecord
	var shiftID, brandID, deviceID, serverID sql.NullString
	var closingCash sql.NullFloat64
	var openedAt, createdAt string
	var closedAt sql.NullString
	var synced int

	err := row.Scan(
		&rec.ID,
		&shiftID,
		&rec.BranchID,
		&brandID,
		&deviceID,
		&rec.OpeningCash,
		&closingCash,
		&rec.Status,
		&openedAt,
		&closedAt,
		&synced,
		&serverID,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ShiftLocalID = shiftID.String
	rec.BrandID = brandID.String
	rec.DeviceID = deviceID.String
	rec.ServerID = serverID.String
	rec.Synced = synced != 0
	rec.OpenedAt = parseTime(openedAt)
	rec.CreatedAt = parseTime(createdAt)
	rec.ClosedAt = nullStringToTime(closedAt)
	if closingCash.Valid {
		rec.ClosingCash = &closingCash.Float64
	}

	return &rec, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
