package accounts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Artifique/Agrilend-Backend/internal/database"
)

// Repository reads users and stores their ledger account binding
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*User, error)
	StageLedgerKey(ctx context.Context, id uuid.UUID, binding Binding) error
	BindLedgerAccount(ctx context.Context, id uuid.UUID, binding Binding) error
}

// Binding is the ledger account written onto a user
type Binding struct {
	AccountID string
	PublicKey string
	SealedKey []byte
	Mode      string
}

// GormRepository is the postgres-backed Repository
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a Repository over db
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	if err := database.Conn(ctx, r.db).First(&user, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetForUpdate locks the user row until the surrounding transaction ends
func (r *GormRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	err := database.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, "id = ?", id).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return &user, nil
}

// StageLedgerKey stores the key of an account still being created. AccountID is ignored.
func (r *GormRepository) StageLedgerKey(ctx context.Context, id uuid.UUID, binding Binding) error {
	result := database.Conn(ctx, r.db).
		Model(&User{}).
		Where("id = ? AND ledger_account_id IS NULL", id).
		Updates(map[string]interface{}{
			"ledger_public_key": binding.PublicKey,
			"sealed_ledger_key": binding.SealedKey,
			"ledger_mode":       binding.Mode,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to stage ledger key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user %s already has a ledger account", id)
	}
	return nil
}

func (r *GormRepository) BindLedgerAccount(ctx context.Context, id uuid.UUID, binding Binding) error {
	result := database.Conn(ctx, r.db).
		Model(&User{}).
		Where("id = ? AND ledger_account_id IS NULL", id).
		Updates(map[string]interface{}{
			"ledger_account_id": binding.AccountID,
			"ledger_public_key": binding.PublicKey,
			"sealed_ledger_key": binding.SealedKey,
			"ledger_mode":       binding.Mode,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to bind ledger account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user %s already has a ledger account", id)
	}
	return nil
}
