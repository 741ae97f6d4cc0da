package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Artifique/Agrilend-Backend/internal/database"
)

// Repository persists products and offers
type Repository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*Offer, error)
	GetOfferForUpdate(ctx context.Context, id uuid.UUID) (*Offer, error)
	UpdateOffer(ctx context.Context, offer *Offer) error
	ListOffers(ctx context.Context, status *OfferStatus, farmerID *uuid.UUID) ([]Offer, error)
}

// GormRepository is the postgres-backed Repository
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a Repository over db
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	var product Product
	if err := database.Conn(ctx, r.db).First(&product, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

func (r *GormRepository) GetOffer(ctx context.Context, id uuid.UUID) (*Offer, error) {
	var offer Offer
	if err := database.Conn(ctx, r.db).Preload("Product").First(&offer, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return &offer, nil
}

// GetOfferForUpdate locks the offer row until the surrounding transaction ends
func (r *GormRepository) GetOfferForUpdate(ctx context.Context, id uuid.UUID) (*Offer, error) {
	var offer Offer
	err := database.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&offer, "id = ?", id).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("failed to lock offer: %w", err)
	}
	return &offer, nil
}

func (r *GormRepository) UpdateOffer(ctx context.Context, offer *Offer) error {
	if err := database.Conn(ctx, r.db).Omit("Product").Save(offer).Error; err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	return nil
}

func (r *GormRepository) ListOffers(ctx context.Context, status *OfferStatus, farmerID *uuid.UUID) ([]Offer, error) {
	query := database.Conn(ctx, r.db).Model(&Offer{}).Preload("Product")
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if farmerID != nil {
		query = query.Where("farmer_id = ?", *farmerID)
	}

	var offers []Offer
	if err := query.Order("created_at DESC").Find(&offers).Error; err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	return offers, nil
}
