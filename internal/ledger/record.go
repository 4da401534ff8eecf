// Package ledger provides the durable local ledger for shifts and till
// sessions. It is the sole source of truth while the device is offline:
// every operator action lands here first, tagged with a client-generated
// identifier, and is only later reconciled with the remote authority.
//
// Records are never deleted. Closed shifts and till sessions remain in the
// database as an audit trail and stay queryable for reporting.
package ledger

import (
	"fmt"
	"time"
)

// Status of a shift or till session row.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// ShiftRecord is a clocked-in work session for an operator/device.
//
// ID is assigned once at creation and never reassigned; it doubles as the
// clientId when talking to the remote authority, regardless of whether a
// ServerID has been assigned yet.
type ShiftRecord struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id,omitempty"`
	BranchID string `json:"branch_id"`
	BrandID  string `json:"brand_id,omitempty"`
	DeviceID string `json:"device_id,omitempty"`

	Status     string     `json:"status"` // OPEN, CLOSED
	ClockInAt  time.Time  `json:"clock_in_at"`
	ClockOutAt *time.Time `json:"clock_out_at,omitempty"`

	Synced   bool   `json:"synced"`
	ServerID string `json:"server_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TillSessionRecord is a cash-drawer session nested inside a shift,
// bounded by an opening and closing cash count.
type TillSessionRecord struct {
	ID           string `json:"id"`
	ShiftLocalID string `json:"shift_local_id,omitempty"`
	BranchID     string `json:"branch_id"`
	BrandID      string `json:"brand_id,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`

	OpeningCash float64  `json:"opening_cash"`
	ClosingCash *float64 `json:"closing_cash,omitempty"`

	Status   string     `json:"status"` // OPEN, CLOSED
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`

	Synced   bool   `json:"synced"`
	ServerID string `json:"server_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Open reports whether the shift is still open.
func (s *ShiftRecord) Open() bool { return s.Status == StatusOpen }

// Open reports whether the till session is still open.
func (t *TillSessionRecord) Open() bool { return t.Status == StatusOpen }

// Validate checks the fields required before a shift row may be written.
func (s *ShiftRecord) Validate() error {
	if s.ID == "" {
		return &ValidationError{Reason: "shift id is required"}
	}
	if s.BranchID == "" {
		return &ValidationError{Reason: "branch id is required"}
	}
	if s.Status != StatusOpen && s.Status != StatusClosed {
		return &ValidationError{Reason: fmt.Sprintf("invalid shift status %q", s.Status)}
	}
	return nil
}

// Validate checks the fields required before a till session row may be written.
//
// OpeningCash is stored as given; sign and bounds checks belong to the
// lifecycle guards, not the store.
func (t *TillSessionRecord) Validate() error {
	if t.ID == "" {
		return &ValidationError{Reason: "till session id is required"}
	}
	if t.BranchID == "" {
		return &ValidationError{Reason: "branch id is required"}
	}
	if t.Status != StatusOpen && t.Status != StatusClosed {
		return &ValidationError{Reason: fmt.Sprintf("invalid till status %q", t.Status)}
	}
	return nil
}
