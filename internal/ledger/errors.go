package ledger

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup matches no row. It typically means
// a persisted flag points at a record that was never written or was written
// by a different database file.
var ErrNotFound = errors.New("record not found")

// ValidationError reports a rejected request: a missing required field or
// an illegal lifecycle transition. No ledger mutation happens when one of
// these is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StorageError wraps a failed local write or read. The operator's intent
// must not be silently dropped, so these always propagate to the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
