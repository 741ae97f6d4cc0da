package accounts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role mirrors the identity service roles
type Role string

const (
	RoleFarmer  Role = "FARMER"
	RoleBuyer   Role = "BUYER"
	RoleAdmin   Role = "ADMIN"
	RoleAuditor Role = "AUDITOR"
)

// User is the identity collaborator's record, with the ledger account fields this service owns
type User struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	Email    string    `json:"email" gorm:"uniqueIndex;not null"`
	FullName string    `json:"full_name"`
	Phone    string    `json:"phone"`
	Role     Role      `json:"role" gorm:"type:varchar(16);not null"`
	IsActive bool      `json:"is_active" gorm:"default:true"`

	LedgerAccountID *string `json:"ledger_account_id" gorm:"uniqueIndex"`
	LedgerPublicKey *string `json:"ledger_public_key"`
	SealedLedgerKey []byte  `json:"-" gorm:"type:bytea"`
	LedgerMode      *string `json:"ledger_mode" gorm:"type:varchar(16)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name
func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns the primary key
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// HasLedgerAccount reports whether a ledger account is bound to the user
func (u *User) HasLedgerAccount() bool {
	return u.LedgerAccountID != nil && *u.LedgerAccountID != ""
}

// LedgerAccount is an opened user account. PrivateKey is secret material and is never logged.
type LedgerAccount struct {
	UserID     uuid.UUID `json:"user_id"`
	AccountID  string    `json:"account_id"`
	PrivateKey string    `json:"-"`
	Mode       string    `json:"ledger_mode"`
}

// Contact is what notification channels need to reach a user
type Contact struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Phone    string    `json:"phone"`
}
