package settlement

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecordType identifies the ledger operation a record correlates
type RecordType string

const (
	TypeTokenization         RecordType = "TOKENIZATION"
	TypeScheduledTransaction RecordType = "SCHEDULED_TRANSACTION"
	TypeTokenMint            RecordType = "TOKEN_MINT"
	TypeTokenBurn            RecordType = "TOKEN_BURN"
	TypeEscrowDeposit        RecordType = "ESCROW_DEPOSIT"
	TypeEscrowRelease        RecordType = "ESCROW_RELEASE"
	TypeFarmerPayment        RecordType = "FARMER_PAYMENT"
	TypePlatformFee          RecordType = "PLATFORM_FEE"
	TypeRefund               RecordType = "REFUND"
	TypeStakingReward        RecordType = "STAKING_REWARD"
	TypeAccountCreation      RecordType = "ACCOUNT_CREATION"
	TypeFaucetTopUp          RecordType = "FAUCET_TOPUP"
)

// RecordStatus is the lifecycle of a record. Only PENDING may change.
type RecordStatus string

const (
	StatusPending   RecordStatus = "PENDING"
	StatusSuccess   RecordStatus = "SUCCESS"
	StatusFailed    RecordStatus = "FAILED"
	StatusCancelled RecordStatus = "CANCELLED"
)

// Terminal reports whether the status is final
func (s RecordStatus) Terminal() bool {
	return s != StatusPending
}

// NativeAsset labels native-currency amounts
const NativeAsset = "HBAR"

// Record is the append-only log entry written before every state-changing ledger call
type Record struct {
	ID         uuid.UUID    `json:"id" gorm:"type:uuid;primary_key"`
	Type       RecordType   `json:"type" gorm:"type:varchar(32);not null;index"`
	Status     RecordStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	LedgerMode string       `json:"ledger_mode" gorm:"type:varchar(16);not null"`

	// Ledger references
	TransactionID      *string `json:"transaction_id" gorm:"uniqueIndex"`
	FinalTransactionID *string `json:"final_transaction_id" gorm:"index"`
	ScheduleID         *string `json:"schedule_id" gorm:"index"`

	// Value moved
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(20,8);not null"`
	AssetID     string          `json:"asset_id" gorm:"not null"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`

	// Links to the entities served
	OrderID   *uuid.UUID `json:"order_id" gorm:"type:uuid;index"`
	ReceiptID *uuid.UUID `json:"receipt_id" gorm:"type:uuid;index"`
	TokenID   *uuid.UUID `json:"token_id" gorm:"type:uuid;index"`
	UserID    *uuid.UUID `json:"user_id" gorm:"type:uuid;index"`

	Memo          string         `json:"memo"`
	FailureReason *string        `json:"failure_reason"`
	Metadata      datatypes.JSON `json:"metadata" gorm:"default:'{}'"`

	// Reconciliation bookkeeping
	ReconcileAttempts int        `json:"reconcile_attempts" gorm:"default:0"`
	LastReconciledAt  *time.Time `json:"last_reconciled_at"`
	SettledAt         *time.Time `json:"settled_at"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName pins the table name
func (Record) TableName() string {
	return "settlement_records"
}

// BeforeCreate assigns the primary key
func (r *Record) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Filter narrows record listings
type Filter struct {
	Types     []RecordType
	Status    *RecordStatus
	OrderID   *uuid.UUID
	ReceiptID *uuid.UUID
	UserID    *uuid.UUID
	From      *time.Time
	To        *time.Time
	Limit     int
}

// DecodeMetadata unmarshals the record metadata into v
func (r *Record) DecodeMetadata(v any) error {
	if len(r.Metadata) == 0 {
		return nil
	}
	return json.Unmarshal(r.Metadata, v)
}

// Ref returns the ledger id that identifies the record for operators
func (r *Record) Ref() string {
	switch {
	case r.FinalTransactionID != nil:
		return *r.FinalTransactionID
	case r.TransactionID != nil:
		return *r.TransactionID
	case r.ScheduleID != nil:
		return *r.ScheduleID
	default:
		return ""
	}
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
