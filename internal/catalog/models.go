package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OfferStatus is the review and availability state of an offer
type OfferStatus string

const (
	OfferDraft             OfferStatus = "DRAFT"
	OfferPendingValidation OfferStatus = "PENDING_VALIDATION"
	OfferActive            OfferStatus = "ACTIVE"
	OfferSoldOut           OfferStatus = "SOLD_OUT"
	OfferExpired           OfferStatus = "EXPIRED"
	OfferRejected          OfferStatus = "REJECTED"
)

// Product is a catalog product
type Product struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description"`
	Category    string    `json:"category" gorm:"index"`
	Unit        string    `json:"unit" gorm:"default:'KG'"`
	IsActive    bool      `json:"is_active" gorm:"default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Offer is a farmer's lot put up for sale
type Offer struct {
	ID                 uuid.UUID       `json:"id" gorm:"type:uuid;primary_key"`
	FarmerID           uuid.UUID       `json:"farmer_id" gorm:"type:uuid;not null;index"`
	ProductID          uuid.UUID       `json:"product_id" gorm:"type:uuid;not null;index"`
	AvailableQuantity  decimal.Decimal `json:"available_quantity" gorm:"type:decimal(12,3);not null"`
	SuggestedUnitPrice decimal.Decimal `json:"suggested_unit_price" gorm:"type:decimal(12,2);not null"`
	FinalPriceFarmer   decimal.Decimal `json:"final_price_farmer" gorm:"type:decimal(12,2)"`
	FinalPriceBuyer    decimal.Decimal `json:"final_price_buyer" gorm:"type:decimal(12,2)"`
	Status             OfferStatus     `json:"status" gorm:"type:varchar(24);not null;index"`
	AdminValidated     bool            `json:"admin_validated"`
	ValidatedAt        *time.Time      `json:"validated_at"`
	ReviewedBy         *uuid.UUID      `json:"reviewed_by" gorm:"type:uuid"`
	RejectionReason    string          `json:"rejection_reason"`
	QualityGrade       string          `json:"quality_grade"`
	OriginLocation     string          `json:"origin_location"`
	HarvestDate        *time.Time      `json:"harvest_date"`
	Notes              string          `json:"notes"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	Product *Product `json:"product,omitempty" gorm:"foreignKey:ProductID"`
}

func (Offer) TableName() string {
	return "offers"
}

func (o *Offer) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
