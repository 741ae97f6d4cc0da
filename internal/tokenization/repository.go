package tokenization

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Artifique/Agrilend-Backend/internal/database"
)

// Repository persists receipts and their tokens
type Repository interface {
	CreateReceipt(ctx context.Context, receipt *WarehouseReceipt) error
	GetReceipt(ctx context.Context, id uuid.UUID) (*WarehouseReceipt, error)
	GetReceiptForUpdate(ctx context.Context, id uuid.UUID) (*WarehouseReceipt, error)
	UpdateReceipt(ctx context.Context, receipt *WarehouseReceipt) error
	ListReceipts(ctx context.Context, filter ReceiptFilter) ([]WarehouseReceipt, error)
	BatchExists(ctx context.Context, batchNumber string) (bool, error)

	CreateToken(ctx context.Context, token *HarvestToken) error
	TokenByReceipt(ctx context.Context, receiptID uuid.UUID) (*HarvestToken, error)
	TokenByReceiptForUpdate(ctx context.Context, receiptID uuid.UUID) (*HarvestToken, error)
	UpdateToken(ctx context.Context, token *HarvestToken) error
	SymbolTaken(ctx context.Context, symbol string) (bool, error)
}

// GormRepository is the postgres-backed Repository
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a Repository over db
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) CreateReceipt(ctx context.Context, receipt *WarehouseReceipt) error {
	if err := database.Conn(ctx, r.db).Create(receipt).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateBatch
		}
		return fmt.Errorf("failed to create receipt: %w", err)
	}
	return nil
}

func (r *GormRepository) GetReceipt(ctx context.Context, id uuid.UUID) (*WarehouseReceipt, error) {
	var receipt WarehouseReceipt
	if err := database.Conn(ctx, r.db).First(&receipt, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return &receipt, nil
}

// GetReceiptForUpdate locks the receipt row until the surrounding transaction ends
func (r *GormRepository) GetReceiptForUpdate(ctx context.Context, id uuid.UUID) (*WarehouseReceipt, error) {
	var receipt WarehouseReceipt
	err := database.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&receipt, "id = ?", id).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to lock receipt: %w", err)
	}
	return &receipt, nil
}

func (r *GormRepository) UpdateReceipt(ctx context.Context, receipt *WarehouseReceipt) error {
	if err := database.Conn(ctx, r.db).Save(receipt).Error; err != nil {
		return fmt.Errorf("failed to update receipt: %w", err)
	}
	return nil
}

func (r *GormRepository) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]WarehouseReceipt, error) {
	query := database.Conn(ctx, r.db).Model(&WarehouseReceipt{})
	if filter.ProducerID != nil {
		query = query.Where("producer_id = ?", *filter.ProducerID)
	}
	if filter.Validated != nil {
		query = query.Where("validated = ?", *filter.Validated)
	}
	if filter.Minted != nil {
		query = query.Where("minted = ?", *filter.Minted)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var receipts []WarehouseReceipt
	if err := query.Order("created_at DESC").Find(&receipts).Error; err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	return receipts, nil
}

func (r *GormRepository) BatchExists(ctx context.Context, batchNumber string) (bool, error) {
	var count int64
	err := database.Conn(ctx, r.db).Model(&WarehouseReceipt{}).
		Where("batch_number = ?", batchNumber).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check batch number: %w", err)
	}
	return count > 0, nil
}

func (r *GormRepository) CreateToken(ctx context.Context, token *HarvestToken) error {
	if err := database.Conn(ctx, r.db).Create(token).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateSymbol
		}
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

func (r *GormRepository) TokenByReceipt(ctx context.Context, receiptID uuid.UUID) (*HarvestToken, error) {
	var token HarvestToken
	if err := database.Conn(ctx, r.db).First(&token, "receipt_id = ?", receiptID).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &token, nil
}

// TokenByReceiptForUpdate locks the token row until the surrounding transaction ends
func (r *GormRepository) TokenByReceiptForUpdate(ctx context.Context, receiptID uuid.UUID) (*HarvestToken, error) {
	var token HarvestToken
	err := database.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&token, "receipt_id = ?", receiptID).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to lock token: %w", err)
	}
	return &token, nil
}

func (r *GormRepository) UpdateToken(ctx context.Context, token *HarvestToken) error {
	if err := database.Conn(ctx, r.db).Save(token).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("ledger token id already bound: %w", err)
		}
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

func (r *GormRepository) SymbolTaken(ctx context.Context, symbol string) (bool, error) {
	var count int64
	err := database.Conn(ctx, r.db).Model(&HarvestToken{}).
		Where("symbol = ?", symbol).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check token symbol: %w", err)
	}
	return count > 0, nil
}
