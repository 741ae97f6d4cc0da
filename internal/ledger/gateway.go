package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/config"
)

// Mode identifies which ledger a gateway talks to
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// NativeScale is the number of decimal places of the native currency (tinybar)
const NativeScale = 8

// Gateway is the single seam to the external ledger.
// Mutating calls return as soon as the ledger accepted the transaction.
type Gateway interface {
	Mode() Mode
	Accounts() SystemAccounts
	NewTransactionID() string
	NewKeyPair() (*KeyPair, error)

	CreateAccount(ctx context.Context, req CreateAccountRequest) (*AccountHandle, error)
	CreateFungibleToken(ctx context.Context, req CreateTokenRequest) (*TxResult, error)
	ScheduleMint(ctx context.Context, req ScheduleMintRequest) (*TxResult, error)
	SignSchedule(ctx context.Context, req SignScheduleRequest) (*TxResult, error)
	TransferFungible(ctx context.Context, req FungibleTransfer) (*TxResult, error)
	TransferNative(ctx context.Context, req NativeTransfer) (*TxResult, error)
	ReleaseEscrow(ctx context.Context, req EscrowRelease) (*TxResult, error)
	BalanceOf(ctx context.Context, accountID string) (decimal.Decimal, error)

	TransactionOutcome(ctx context.Context, transactionID string) (*Outcome, error)
	ScheduleOutcome(ctx context.Context, scheduleID string) (*Outcome, error)

	Close() error
}

// SystemAccounts are the platform-owned accounts the pipelines move value through
type SystemAccounts struct {
	Operator string `json:"operator"`
	Treasury string `json:"treasury"`
	Escrow   string `json:"escrow"`
	Platform string `json:"platform"`
}

// AccountHandle is a freshly created ledger account. PrivateKey is secret material.
type AccountHandle struct {
	AccountID     string `json:"account_id"`
	PublicKey     string `json:"public_key"`
	PrivateKey    string `json:"-"`
	TransactionID string `json:"transaction_id"`
}

// KeyPair is an account key generated ahead of account creation. PrivateKey is secret material.
type KeyPair struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"-"`
}

// CreateAccountRequest creates an account funded by the operator.
// With PublicKey empty the gateway generates the key and returns its private half in the handle.
type CreateAccountRequest struct {
	TransactionID  string
	OwnerRef       string
	PublicKey      string
	InitialBalance decimal.Decimal
}

// CreateTokenRequest creates a finite-supply fungible token with zero decimals
type CreateTokenRequest struct {
	TransactionID     string
	Name              string
	Symbol            string
	MaxSupply         int64
	TreasuryAccountID string
	Memo              string
}

// ScheduleMintRequest schedules a mint that executes once signed by the supply key holder
type ScheduleMintRequest struct {
	TransactionID string
	TokenID       string
	Amount        int64
	Memo          string
}

// SignScheduleRequest signs and thereby executes a scheduled transaction
type SignScheduleRequest struct {
	TransactionID string
	ScheduleID    string
	SignerRef     string
}

// FungibleTransfer moves token units. An empty FromKey means the operator signs.
type FungibleTransfer struct {
	TransactionID string
	TokenID       string
	From          string
	FromKey       string
	To            string
	Amount        int64
	Memo          string
}

// NativeTransfer moves native currency. An empty FromKey means the operator signs.
type NativeTransfer struct {
	TransactionID string
	From          string
	FromKey       string
	To            string
	Amount        decimal.Decimal
	Memo          string
}

// EscrowRelease pays the seller and the platform from escrow in one transaction
type EscrowRelease struct {
	TransactionID     string
	EscrowAccountID   string
	SellerAccountID   string
	SellerAmount      decimal.Decimal
	PlatformAccountID string
	PlatformFee       decimal.Decimal
	Memo              string
}

// TxResult identifies what the ledger accepted
type TxResult struct {
	TransactionID          string `json:"transaction_id"`
	TokenID                string `json:"token_id,omitempty"`
	ScheduleID             string `json:"schedule_id,omitempty"`
	AccountID              string `json:"account_id,omitempty"`
	ScheduledTransactionID string `json:"scheduled_transaction_id,omitempty"`
}

// OutcomeStatus is the ledger-side state of a transaction or schedule
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomePending   OutcomeStatus = "pending"
	OutcomeNotFound  OutcomeStatus = "not_found"
)

// Outcome is what reconciliation learns about a transaction or schedule
type Outcome struct {
	Status                 OutcomeStatus `json:"status"`
	TransactionID          string        `json:"transaction_id,omitempty"`
	TokenID                string        `json:"token_id,omitempty"`
	ScheduleID             string        `json:"schedule_id,omitempty"`
	AccountID              string        `json:"account_id,omitempty"`
	ScheduledTransactionID string        `json:"scheduled_transaction_id,omitempty"`
	Reason                 string        `json:"reason,omitempty"`
	ResolvedAt             time.Time     `json:"resolved_at"`
}

// New selects the gateway implementation once, from the configured credentials
func New(cfg config.LedgerConfig, logger *zap.Logger) (Gateway, error) {
	if cfg.Simulated() {
		return NewSimulatedGateway(cfg, logger), nil
	}
	return NewHederaClient(cfg, logger)
}

// Classify maps a raw gateway error onto the ledger error kinds.
// Deadlines and cancellations become unknown outcomes: the call may have landed.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) && (appErr.Kind == apperrors.KindLedger || appErr.Kind == apperrors.KindUnknownOutcome) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.UnknownOutcome(op, err)
	}
	return apperrors.LedgerFailure(op, err)
}

// IsUnknownOutcome reports whether err leaves the remote state undetermined
func IsUnknownOutcome(err error) bool {
	return apperrors.KindOf(err) == apperrors.KindUnknownOutcome
}

// ToTinybar converts a native amount to its smallest unit
func ToTinybar(amount decimal.Decimal) int64 {
	return amount.Shift(NativeScale).Round(0).IntPart()
}

// FromTinybar converts a smallest-unit amount to the native currency
func FromTinybar(tinybar int64) decimal.Decimal {
	return decimal.New(tinybar, -NativeScale)
}
