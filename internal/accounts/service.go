package accounts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/database"
	"github.com/Artifique/Agrilend-Backend/internal/ledger"
	"github.com/Artifique/Agrilend-Backend/internal/settlement"
)

// Service binds ledger accounts to users
type Service struct {
	repo           Repository
	gateway        ledger.Gateway
	journal        *settlement.Journal
	tx             database.Transactor
	vault          *KeyVault
	initialBalance decimal.Decimal
	logger         *zap.Logger
}

// NewService creates the accounts service
func NewService(
	repo Repository,
	gateway ledger.Gateway,
	journal *settlement.Journal,
	tx database.Transactor,
	vault *KeyVault,
	initialBalance decimal.Decimal,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:           repo,
		gateway:        gateway,
		journal:        journal,
		tx:             tx,
		vault:          vault,
		initialBalance: initialBalance,
		logger:         logger,
	}
}

// EnsureLedgerAccount returns the user's ledger account, creating and funding one if absent
func (s *Service) EnsureLedgerAccount(ctx context.Context, userID uuid.UUID) (*LedgerAccount, error) {
	var (
		existing *User
		rec      *settlement.Record
		keys     *ledger.KeyPair
	)
	txID := s.gateway.NewTransactionID()
	mode := string(s.gateway.Mode())

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		user, err := s.repo.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.HasLedgerAccount() {
			existing = user
			return nil
		}

		inflight, err := s.journal.InFlight(ctx, settlement.Filter{
			Types:  []settlement.RecordType{settlement.TypeAccountCreation},
			UserID: &userID,
		})
		if err != nil {
			return err
		}
		if len(inflight) > 0 {
			return ErrAccountCreationInProgress
		}

		// the sealed key is stored before submission so reconciliation can bind the account
		if keys, err = s.gateway.NewKeyPair(); err != nil {
			return fmt.Errorf("failed to generate ledger key: %w", err)
		}
		sealed, err := s.vault.Seal(keys.PrivateKey)
		if err != nil {
			return fmt.Errorf("failed to seal ledger key: %w", err)
		}
		if err := s.repo.StageLedgerKey(ctx, userID, Binding{PublicKey: keys.PublicKey, SealedKey: sealed, Mode: mode}); err != nil {
			return err
		}

		rec, err = s.journal.Open(ctx, settlement.Entry{
			Type:          settlement.TypeAccountCreation,
			TransactionID: txID,
			Amount:        s.initialBalance,
			From:          s.gateway.Accounts().Operator,
			UserID:        &userID,
			Memo:          "Account for user " + userID.String(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.open(existing)
	}

	handle, callErr := s.gateway.CreateAccount(ctx, ledger.CreateAccountRequest{
		TransactionID:  txID,
		OwnerRef:       userID.String(),
		PublicKey:      keys.PublicKey,
		InitialBalance: s.initialBalance,
	})
	if callErr != nil {
		s.logger.Error("Failed to create ledger account", zap.String("user_id", userID.String()), zap.Error(callErr))
		return nil, s.journal.Conclude(ctx, rec, "", callErr)
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.bindStaged(ctx, userID, handle.AccountID); err != nil {
			return err
		}
		rec.ToAccount = handle.AccountID
		return s.journal.Settle(ctx, rec, handle.TransactionID)
	})
	if err != nil {
		s.logger.Error("Ledger account created but not bound to user",
			zap.String("user_id", userID.String()),
			zap.String("account_id", handle.AccountID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Ledger account created",
		zap.String("user_id", userID.String()),
		zap.String("account_id", handle.AccountID),
		zap.String("ledger_mode", mode))

	return &LedgerAccount{
		UserID:     userID,
		AccountID:  handle.AccountID,
		PrivateKey: keys.PrivateKey,
		Mode:       mode,
	}, nil
}

// bindStaged binds accountID to the key staged on the user. A user already bound to accountID is left alone.
func (s *Service) bindStaged(ctx context.Context, userID uuid.UUID, accountID string) error {
	user, err := s.repo.GetForUpdate(ctx, userID)
	if err != nil {
		return err
	}
	if user.HasLedgerAccount() {
		if *user.LedgerAccountID == accountID {
			return nil
		}
		return apperrors.Wrap(ErrLedgerAccountConflict, "user %s bound to %s, ledger created %s", userID, *user.LedgerAccountID, accountID)
	}
	if user.LedgerPublicKey == nil || len(user.SealedLedgerKey) == 0 || user.LedgerMode == nil {
		return apperrors.Wrap(ErrLedgerKeyUnavailable, "user %s has no staged key", userID)
	}
	return s.repo.BindLedgerAccount(ctx, userID, Binding{
		AccountID: accountID,
		PublicKey: *user.LedgerPublicKey,
		SealedKey: user.SealedLedgerKey,
		Mode:      *user.LedgerMode,
	})
}

// LedgerAccount returns the user's existing ledger account without creating one
func (s *Service) LedgerAccount(ctx context.Context, userID uuid.UUID) (*LedgerAccount, error) {
	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasLedgerAccount() {
		return nil, apperrors.Wrap(ErrNoLedgerAccount, "user %s", userID)
	}
	return s.open(user)
}

// Contact implements Directory
func (s *Service) Contact(ctx context.Context, userID uuid.UUID) (*Contact, error) {
	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Contact{UserID: user.ID, Email: user.Email, FullName: user.FullName, Phone: user.Phone}, nil
}

func (s *Service) open(user *User) (*LedgerAccount, error) {
	mode := ""
	if user.LedgerMode != nil {
		mode = *user.LedgerMode
	}
	if mode != string(s.gateway.Mode()) {
		return nil, apperrors.Wrap(ErrLedgerModeMismatch, "user %s bound under %q, gateway is %q", user.ID, mode, s.gateway.Mode())
	}

	privateKey, err := s.vault.Open(user.SealedLedgerKey)
	if err != nil {
		s.logger.Error("Failed to open sealed ledger key", zap.String("user_id", user.ID.String()), zap.Error(err))
		return nil, apperrors.Wrap(ErrLedgerKeyUnavailable, "user %s", user.ID)
	}

	return &LedgerAccount{
		UserID:     user.ID,
		AccountID:  *user.LedgerAccountID,
		PrivateKey: privateKey,
		Mode:       mode,
	}, nil
}
