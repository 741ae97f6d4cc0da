package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: PgErrUniqueViolation, ConstraintName: "idx_warehouse_receipts_batch_number"}

	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", pgErr)))
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.False(t, IsUniqueViolation(errors.New("connection reset")))
	assert.Equal(t, "idx_warehouse_receipts_batch_number", ConstraintName(pgErr))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pgconn.PgError{Code: PgErrDeadlockDetected}))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: PgErrUniqueViolation}))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", gorm.ErrRecordNotFound)))
}
