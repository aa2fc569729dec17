package repository

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrEntitlementOverlap is returned when an entitlement create or update
	// would overlap an existing entitlement for the same employee and
	// expense type. Overlaps are rejected, never merged.
	ErrEntitlementOverlap = errors.New("entitlement period overlaps an existing entitlement")

	// ErrEntitlementNotFound is returned when an entitlement id does not exist.
	ErrEntitlementNotFound = errors.New("entitlement not found")

	// ErrClaimNotFound is returned when a claim id does not exist.
	ErrClaimNotFound = errors.New("claim not found")

	// ErrConflict marks a transient storage conflict that is safe to retry.
	ErrConflict = errors.New("transient storage conflict")
)

// IsConflict reports whether err is a retryable storage conflict, either one
// of our own ErrConflict wraps or a raw SQLite busy/locked error.
func IsConflict(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
