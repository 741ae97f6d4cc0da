package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL error codes the repositories react to
const (
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrSerializationFailed = "40001" // serialization_failure
	PgErrDeadlockDetected    = "40P01" // deadlock_detected
)

// IsUniqueViolation reports whether err was raised by a unique index
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return hasCode(err, PgErrUniqueViolation)
}

// ConstraintName returns the violated constraint, if postgres reported one
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// IsRetryable reports lock conflicts that a caller may safely retry
func IsRetryable(err error) bool {
	return hasCode(err, PgErrSerializationFailed) || hasCode(err, PgErrDeadlockDetected)
}

// IsNotFound reports a missing row
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
