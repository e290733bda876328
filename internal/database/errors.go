package database

import (
	"errors"
	"fmt"

	"contactlink/internal/service"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Postgres SQLSTATE codes that mean another transaction got in the way.
var pqConflictCodes = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"23505": true, // unique_violation
	"55P03": true, // lock_not_available
}

// classifyDriverError tags driver errors caused by concurrent writers with
// service.ErrConflict and leaves everything else as is.
func classifyDriverError(err error) error {
	if err == nil || errors.Is(err, service.ErrConflict) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqConflictCodes[pqErr.Code] {
		return fmt.Errorf("%w: %w", service.ErrConflict, err)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.Code == sqlite3.ErrBusy,
			liteErr.Code == sqlite3.ErrLocked,
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %w", service.ErrConflict, err)
		}
	}
	return err
}
