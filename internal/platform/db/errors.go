package db

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes relevant to retry classification.
const (
	PgErrUniqueViolation      = "23505" // unique_violation
	PgErrSerializationFailure = "40001" // serialization_failure
	PgErrDeadlockDetected     = "40P01" // deadlock_detected
	PgErrLockNotAvailable     = "55P03" // lock_not_available
	PgErrQueryCanceled        = "57014" // query_canceled, also raised by statement_timeout
	PgErrAdminShutdown        = "57P01" // admin_shutdown
	PgErrCannotConnectNow     = "57P03" // cannot_connect_now
)

// ErrConflict marks an optimistic-concurrency conflict, e.g. two transactions
// allocating the same pallet number or updating the same row version.
var ErrConflict = errors.New("platform/db: concurrent update conflict")

// IsTransient reports whether err is worth retrying in a fresh transaction.
// Context cancellation and deadline expiry are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case PgErrSerializationFailure, PgErrDeadlockDetected, PgErrLockNotAvailable,
			PgErrQueryCanceled, PgErrAdminShutdown, PgErrCannotConnectNow:
			return true
		}
		// class 08: connection exception
		return strings.HasPrefix(pgErr.Code, "08")
	}

	if pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

// IsUniqueViolation reports whether err is a unique violation, optionally
// restricted to the given constraint names.
func IsUniqueViolation(err error, constraints ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != PgErrUniqueViolation {
		return false
	}
	if len(constraints) == 0 {
		return true
	}
	for _, c := range constraints {
		if pgErr.ConstraintName == c {
			return true
		}
	}
	return false
}
