package escrow

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus tracks funds movement and physical fulfilment of an order
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusInEscrow   OrderStatus = "IN_ESCROW"
	StatusReleased   OrderStatus = "RELEASED"
	StatusInDelivery OrderStatus = "IN_DELIVERY"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
	StatusDisputed   OrderStatus = "DISPUTED"
)

// Order is a buyer's purchase against an offer
type Order struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	OrderNumber string    `json:"order_number" gorm:"uniqueIndex;not null"`
	BuyerID     uuid.UUID `json:"buyer_id" gorm:"type:uuid;not null;index"`
	OfferID     uuid.UUID `json:"offer_id" gorm:"type:uuid;not null;index"`
	FarmerID    uuid.UUID `json:"farmer_id" gorm:"type:uuid;not null;index"`
	ProductID   uuid.UUID `json:"product_id" gorm:"type:uuid;not null"`

	// Pricing is fixed at creation
	OrderedQuantity decimal.Decimal `json:"ordered_quantity" gorm:"type:decimal(12,3);not null"`
	UnitPrice       decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,2);not null"`
	TotalAmount     decimal.Decimal `json:"total_amount" gorm:"type:decimal(14,2);not null"`
	PlatformFee     decimal.Decimal `json:"platform_fee" gorm:"type:decimal(14,2);default:0"`
	FarmerAmount    decimal.Decimal `json:"farmer_amount" gorm:"type:decimal(14,2);default:0"`

	Status             OrderStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	DeliveryAddress    string      `json:"delivery_address" gorm:"type:text"`
	Notes              string      `json:"notes" gorm:"type:text"`
	CancellationReason string      `json:"cancellation_reason"`

	// Ledger references
	BuyerAccountID       string  `json:"buyer_account_id"`
	EscrowTransactionID  *string `json:"escrow_transaction_id"`
	ReleaseTransactionID *string `json:"release_transaction_id"`
	RefundTransactionID  *string `json:"refund_transaction_id"`
	LedgerMode           string  `json:"ledger_mode" gorm:"type:varchar(16)"`

	EscrowStartDate      *time.Time `json:"escrow_start_date"`
	EscrowEndDate        *time.Time `json:"escrow_end_date"`
	ExpectedDeliveryDate *time.Time `json:"expected_delivery_date"`
	ActualDeliveryDate   *time.Time `json:"actual_delivery_date"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Funded reports whether the buyer's funds reached escrow at some point
func (o *Order) Funded() bool {
	return o.EscrowTransactionID != nil
}

// PlaceOrder is the buyer's order form
type PlaceOrder struct {
	OfferID              uuid.UUID       `json:"offer_id" binding:"required"`
	Quantity             decimal.Decimal `json:"quantity"`
	DeliveryAddress      string          `json:"delivery_address" binding:"required"`
	Notes                string          `json:"notes"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date"`
}

// OrderFilter narrows order listings
type OrderFilter struct {
	BuyerID  *uuid.UUID
	FarmerID *uuid.UUID
	Status   *OrderStatus
	Limit    int
}

// Split is how a released escrow is divided
type Split struct {
	FarmerAmount decimal.Decimal `json:"farmer_amount"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
}
