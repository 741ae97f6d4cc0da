package escrow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Artifique/Agrilend-Backend/internal/database"
)

// Repository persists orders
type Repository interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error)
	Update(ctx context.Context, order *Order) error
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// GormRepository is the postgres-backed Repository
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a Repository over db
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, order *Order) error {
	if err := database.Conn(ctx, r.db).Create(order).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	var order Order
	if err := database.Conn(ctx, r.db).First(&order, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// GetForUpdate locks the order row until the surrounding transaction ends
func (r *GormRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error) {
	var order Order
	err := database.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, "id = ?", id).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &order, nil
}

func (r *GormRepository) Update(ctx context.Context, order *Order) error {
	if err := database.Conn(ctx, r.db).Save(order).Error; err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

func (r *GormRepository) List(ctx context.Context, filter OrderFilter) ([]Order, error) {
	query := database.Conn(ctx, r.db).Model(&Order{})
	if filter.BuyerID != nil {
		query = query.Where("buyer_id = ?", *filter.BuyerID)
	}
	if filter.FarmerID != nil {
		query = query.Where("farmer_id = ?", *filter.FarmerID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var orders []Order
	if err := query.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}
