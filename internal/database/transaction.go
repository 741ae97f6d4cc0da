package database

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// Transactor runs a unit of work inside one local transaction.
// Repositories called with the ctx passed to fn join that transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// GormTransactor is the gorm-backed Transactor
type GormTransactor struct {
	db *gorm.DB
}

// NewTransactor creates a Transactor over db
func NewTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

// WithinTransaction commits when fn returns nil and rolls back otherwise.
// Nested calls join the outer transaction.
func (t *GormTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Conn returns the transaction bound to ctx, or db scoped to ctx
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return db.WithContext(ctx)
}
