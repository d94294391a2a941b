package shared

import (
	"errors"
	"fmt"
)

// Error kinds shared by the ledger engines. Packages wrap these with their own
// sentinels so callers can match either the specific or the general kind.
var (
	// ErrNotFound indicates the operation target does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateRecord indicates a uniqueness violation on create.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrInvalidState indicates a lifecycle guard rejected the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation indicates the input failed a business rule.
	ErrValidation = errors.New("validation failed")
	// ErrConflictSkipped marks a non-fatal per-item conflict inside batch results.
	ErrConflictSkipped = errors.New("conflict skipped")
)

// Invalidf builds an ErrValidation carrying a formatted reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
