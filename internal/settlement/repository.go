package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Artifique/Agrilend-Backend/internal/database"
)

// Repository persists settlement records
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
	FindBySchedule(ctx context.Context, scheduleID string, recType RecordType) (*Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Record, error)
	Close(ctx context.Context, id uuid.UUID, change Closure) error
	AttachSchedule(ctx context.Context, id uuid.UUID, scheduleID string) error
	MarkReconcileAttempt(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Closure moves a PENDING record to a terminal status
type Closure struct {
	Status             RecordStatus
	FinalTransactionID string
	FailureReason      string
	At                 time.Time
}

// GormRepository is the postgres-backed Repository
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a Repository over db
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, rec *Record) error {
	if err := database.Conn(ctx, r.db).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create settlement record: %w", err)
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	var rec Record
	if err := database.Conn(ctx, r.db).First(&rec, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get settlement record: %w", err)
	}
	return &rec, nil
}

func (r *GormRepository) FindBySchedule(ctx context.Context, scheduleID string, recType RecordType) (*Record, error) {
	var rec Record
	err := database.Conn(ctx, r.db).
		Where("schedule_id = ? AND type = ?", scheduleID, recType).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find record by schedule: %w", err)
	}
	return &rec, nil
}

func (r *GormRepository) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := database.Conn(ctx, r.db).Model(&Record{})

	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.OrderID != nil {
		query = query.Where("order_id = ?", *filter.OrderID)
	}
	if filter.ReceiptID != nil {
		query = query.Where("receipt_id = ?", *filter.ReceiptID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", *filter.To)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []Record
	if err := query.Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list settlement records: %w", err)
	}
	return records, nil
}

func (r *GormRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Record, error) {
	var records []Record
	err := database.Conn(ctx, r.db).
		Where("status = ? AND created_at < ?", StatusPending, olderThan).
		Order("last_reconciled_at ASC NULLS FIRST").
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending records: %w", err)
	}
	return records, nil
}

// Close only touches PENDING rows so a terminal record is never rewritten
func (r *GormRepository) Close(ctx context.Context, id uuid.UUID, change Closure) error {
	updates := map[string]interface{}{
		"status":     change.Status,
		"settled_at": change.At,
	}
	if change.FinalTransactionID != "" {
		updates["final_transaction_id"] = change.FinalTransactionID
	}
	if change.FailureReason != "" {
		updates["failure_reason"] = change.FailureReason
	}

	result := database.Conn(ctx, r.db).
		Model(&Record{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to close settlement record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordClosed
	}
	return nil
}

func (r *GormRepository) AttachSchedule(ctx context.Context, id uuid.UUID, scheduleID string) error {
	result := database.Conn(ctx, r.db).
		Model(&Record{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Update("schedule_id", scheduleID)
	if result.Error != nil {
		return fmt.Errorf("failed to attach schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordClosed
	}
	return nil
}

func (r *GormRepository) MarkReconcileAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	err := database.Conn(ctx, r.db).
		Model(&Record{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"reconcile_attempts": gorm.Expr("reconcile_attempts + 1"),
			"last_reconciled_at": at,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark reconcile attempt: %w", err)
	}
	return nil
}
