package tokenization

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WarehouseReceipt is one delivered, weighed and graded batch
type WarehouseReceipt struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	BatchNumber string    `json:"batch_number" gorm:"uniqueIndex;not null"`
	ProducerID  uuid.UUID `json:"producer_id" gorm:"type:uuid;not null;index"`
	ProductID   uuid.UUID `json:"product_id" gorm:"type:uuid;not null;index"`

	GrossWeight     decimal.Decimal `json:"gross_weight" gorm:"type:decimal(12,3);not null"`
	NetWeight       decimal.Decimal `json:"net_weight" gorm:"type:decimal(12,3);not null"`
	WeightUnit      string          `json:"weight_unit" gorm:"default:'KG'"`
	StorageLocation string          `json:"storage_location"`
	QualityGrade    string          `json:"quality_grade"`
	DeliveredAt     time.Time       `json:"delivered_at" gorm:"not null"`
	Notes           string          `json:"notes"`

	// Audit fingerprint over batch, net weight, delivery time and producer
	ContentHash string `json:"content_hash" gorm:"type:varchar(64);not null"`

	Validated        bool       `json:"validated" gorm:"default:false"`
	ValidatedBy      *uuid.UUID `json:"validated_by" gorm:"type:uuid"`
	ValidatedAt      *time.Time `json:"validated_at"`
	InspectionReport string     `json:"inspection_report" gorm:"type:text"`
	AuditorSignature string     `json:"auditor_signature"`

	Minted            bool       `json:"minted" gorm:"default:false;index"`
	ScheduleID        *string    `json:"schedule_id"`
	MintTransactionID *string    `json:"mint_transaction_id"`
	MintedAt          *time.Time `json:"minted_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WarehouseReceipt) TableName() string {
	return "warehouse_receipts"
}

func (r *WarehouseReceipt) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// HarvestToken is the ledger fungible token backing one receipt, one unit per kilogram
type HarvestToken struct {
	ID                uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	ReceiptID         uuid.UUID      `json:"receipt_id" gorm:"type:uuid;uniqueIndex;not null"`
	LedgerTokenID     *string        `json:"ledger_token_id" gorm:"uniqueIndex"`
	Name              string         `json:"name" gorm:"not null"`
	Symbol            string         `json:"symbol" gorm:"uniqueIndex;not null"`
	MaxSupply         int64          `json:"max_supply" gorm:"not null"`
	MintedAmount      int64          `json:"minted_amount" gorm:"default:0"`
	DistributedAmount int64          `json:"distributed_amount" gorm:"default:0"`
	RedeemedAmount    int64          `json:"redeemed_amount" gorm:"default:0"`
	TreasuryAccountID string         `json:"treasury_account_id"`
	LedgerMode        string         `json:"ledger_mode" gorm:"type:varchar(16);not null"`
	IsActive          bool           `json:"is_active" gorm:"default:true"`
	Metadata          datatypes.JSON `json:"metadata" gorm:"default:'{}'"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (HarvestToken) TableName() string {
	return "harvest_tokens"
}

func (t *HarvestToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Issued reports whether the token exists on the ledger
func (t *HarvestToken) Issued() bool {
	return t.LedgerTokenID != nil && *t.LedgerTokenID != ""
}

// InTreasury is the number of minted units still held by the treasury
func (t *HarvestToken) InTreasury() int64 {
	return t.MintedAmount - t.DistributedAmount + t.RedeemedAmount
}

// ReceiptInput is the intake form for a delivered batch
type ReceiptInput struct {
	BatchNumber     string          `json:"batch_number" binding:"required"`
	ProducerID      uuid.UUID       `json:"producer_id" binding:"required"`
	ProductID       uuid.UUID       `json:"product_id" binding:"required"`
	GrossWeight     decimal.Decimal `json:"gross_weight"`
	NetWeight       decimal.Decimal `json:"net_weight"`
	WeightUnit      string          `json:"weight_unit"`
	StorageLocation string          `json:"storage_location"`
	QualityGrade    string          `json:"quality_grade"`
	DeliveredAt     time.Time       `json:"delivered_at" binding:"required"`
	Notes           string          `json:"notes"`
}

// ReceiptAmendment corrects intake data before validation. Nil fields are left unchanged.
type ReceiptAmendment struct {
	GrossWeight     *decimal.Decimal `json:"gross_weight"`
	NetWeight       *decimal.Decimal `json:"net_weight"`
	StorageLocation *string          `json:"storage_location"`
	QualityGrade    *string          `json:"quality_grade"`
	DeliveredAt     *time.Time       `json:"delivered_at"`
	Notes           *string          `json:"notes"`
}

// ReceiptFilter narrows receipt listings
type ReceiptFilter struct {
	ProducerID *uuid.UUID
	Validated  *bool
	Minted     *bool
	Limit      int
}

// MintPreparation is the result of PrepareMint
type MintPreparation struct {
	Receipt    *WarehouseReceipt `json:"receipt"`
	Token      *HarvestToken     `json:"token"`
	ScheduleID string            `json:"schedule_id"`
}

// DistributionLine sends amount units to a ledger account, or to a user's account when UserID is set
type DistributionLine struct {
	AccountID string     `json:"account_id"`
	UserID    *uuid.UUID `json:"user_id"`
	Amount    int64      `json:"amount"`
}

// TransferResult reports one distribution line
type TransferResult struct {
	AccountID     string     `json:"account_id"`
	UserID        *uuid.UUID `json:"user_id,omitempty"`
	Amount        int64      `json:"amount"`
	RecordID      *uuid.UUID `json:"record_id,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// DistributionResult reports every line of one Distribute call
type DistributionResult struct {
	ReceiptID   uuid.UUID        `json:"receipt_id"`
	Transfers   []TransferResult `json:"transfers"`
	Distributed int64            `json:"distributed"`
	Failed      int              `json:"failed"`
}
