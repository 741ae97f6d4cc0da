package tokenization

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/Artifique/Agrilend-Backend/internal/accounts"
	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/catalog"
	"github.com/Artifique/Agrilend-Backend/internal/database"
	"github.com/Artifique/Agrilend-Backend/internal/ledger"
	"github.com/Artifique/Agrilend-Backend/internal/notifications"
	"github.com/Artifique/Agrilend-Backend/internal/settlement"
	"github.com/Artifique/Agrilend-Backend/pkg/pdf"
	"github.com/Artifique/Agrilend-Backend/pkg/security"
)

// ProductSource resolves the product a receipt was delivered for
type ProductSource interface {
	GetProduct(ctx context.Context, productID uuid.UUID) (*catalog.Product, error)
}

// LedgerAccounts resolves users to their ledger accounts
type LedgerAccounts interface {
	EnsureLedgerAccount(ctx context.Context, userID uuid.UUID) (*accounts.LedgerAccount, error)
	LedgerAccount(ctx context.Context, userID uuid.UUID) (*accounts.LedgerAccount, error)
}

// Dependencies wires the pipeline's collaborators
type Dependencies struct {
	Repo         Repository
	Products     ProductSource
	Accounts     LedgerAccounts
	Gateway      ledger.Gateway
	Journal      *settlement.Journal
	Tx           database.Transactor
	Signer       *security.Signer
	Certificates *pdf.Generator
	Notifier     notifications.Publisher
	Logger       *zap.Logger
}

// Service drives warehouse receipts from intake through validation, minting and distribution
type Service struct {
	repo         Repository
	products     ProductSource
	accounts     LedgerAccounts
	gateway      ledger.Gateway
	journal      *settlement.Journal
	tx           database.Transactor
	signer       *security.Signer
	certificates *pdf.Generator
	notifier     notifications.Publisher
	logger       *zap.Logger

	mints singleflight.Group
	now   func() time.Time
}

// NewService creates the tokenization service
func NewService(deps Dependencies) *Service {
	return &Service{
		repo:         deps.Repo,
		products:     deps.Products,
		accounts:     deps.Accounts,
		gateway:      deps.Gateway,
		journal:      deps.Journal,
		tx:           deps.Tx,
		signer:       deps.Signer,
		certificates: deps.Certificates,
		notifier:     deps.Notifier,
		logger:       deps.Logger.With(zap.String("ledger_mode", string(deps.Gateway.Mode()))),
		now:          time.Now,
	}
}

// ContentHash fingerprints the fields that must not change once a receipt is minted
func ContentHash(batchNumber string, netWeight decimal.Decimal, deliveredAt time.Time, producerID uuid.UUID) string {
	payload := fmt.Sprintf("%s|%s|%s|%s",
		batchNumber,
		netWeight.StringFixed(3),
		deliveredAt.UTC().Format(time.RFC3339),
		producerID)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// TokenSymbol derives the short code for a batch: three product letters, a dash, the batch
func TokenSymbol(productName, batchNumber string) string {
	prefix := ledger.SymbolPart(productName)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}

	symbol := ledger.SymbolPart(batchNumber)
	if prefix != "" {
		symbol = prefix + "-" + symbol
	}
	if len(symbol) > ledger.MaxSymbolLength {
		symbol = symbol[:ledger.MaxSymbolLength]
	}
	return symbol
}

// CreateReceipt records a delivered batch
func (s *Service) CreateReceipt(ctx context.Context, in ReceiptInput) (*WarehouseReceipt, error) {
	batch := strings.TrimSpace(in.BatchNumber)
	if batch == "" {
		return nil, ErrInvalidBatch
	}
	if err := checkWeights(in.GrossWeight, in.NetWeight); err != nil {
		return nil, err
	}
	if in.DeliveredAt.IsZero() {
		return nil, apperrors.Validation("invalid_delivery_date", "delivery date is required")
	}
	if _, err := s.products.GetProduct(ctx, in.ProductID); err != nil {
		return nil, err
	}

	exists, err := s.repo.BatchExists(ctx, batch)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperrors.Wrap(ErrDuplicateBatch, "batch %s", batch)
	}

	unit := strings.ToUpper(strings.TrimSpace(in.WeightUnit))
	if unit == "" {
		unit = "KG"
	}

	receipt := &WarehouseReceipt{
		BatchNumber:     batch,
		ProducerID:      in.ProducerID,
		ProductID:       in.ProductID,
		GrossWeight:     in.GrossWeight,
		NetWeight:       in.NetWeight,
		WeightUnit:      unit,
		StorageLocation: in.StorageLocation,
		QualityGrade:    in.QualityGrade,
		DeliveredAt:     in.DeliveredAt.UTC(),
		Notes:           in.Notes,
		ContentHash:     ContentHash(batch, in.NetWeight, in.DeliveredAt, in.ProducerID),
	}
	if err := s.repo.CreateReceipt(ctx, receipt); err != nil {
		return nil, err
	}

	s.logger.Info("Warehouse receipt created",
		zap.String("receipt_id", receipt.ID.String()),
		zap.String("batch_number", batch),
		zap.String("net_weight", receipt.NetWeight.String()))

	return receipt, nil
}

// AmendReceipt corrects intake data. Only unvalidated receipts can change.
func (s *Service) AmendReceipt(ctx context.Context, receiptID uuid.UUID, change ReceiptAmendment) (*WarehouseReceipt, error) {
	var receipt *WarehouseReceipt
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = s.repo.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if receipt.Validated || receipt.Minted {
			return apperrors.Wrap(ErrReceiptLocked, "receipt %s is validated", receiptID)
		}

		if change.GrossWeight != nil {
			receipt.GrossWeight = *change.GrossWeight
		}
		if change.NetWeight != nil {
			receipt.NetWeight = *change.NetWeight
		}
		if change.StorageLocation != nil {
			receipt.StorageLocation = *change.StorageLocation
		}
		if change.QualityGrade != nil {
			receipt.QualityGrade = *change.QualityGrade
		}
		if change.DeliveredAt != nil {
			receipt.DeliveredAt = change.DeliveredAt.UTC()
		}
		if change.Notes != nil {
			receipt.Notes = *change.Notes
		}
		if err := checkWeights(receipt.GrossWeight, receipt.NetWeight); err != nil {
			return err
		}

		receipt.ContentHash = ContentHash(receipt.BatchNumber, receipt.NetWeight, receipt.DeliveredAt, receipt.ProducerID)
		return s.repo.UpdateReceipt(ctx, receipt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Warehouse receipt amended", zap.String("receipt_id", receiptID.String()))
	return receipt, nil
}

// Validate records the inspector's sign-off. Validation is one-way.
func (s *Service) Validate(ctx context.Context, receiptID, validator uuid.UUID, inspectionReport string) (*WarehouseReceipt, error) {
	var receipt *WarehouseReceipt
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = s.repo.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if receipt.Validated {
			return apperrors.Wrap(ErrAlreadyValidated, "receipt %s", receiptID)
		}

		now := s.now()
		receipt.Validated = true
		receipt.ValidatedBy = &validator
		receipt.ValidatedAt = &now
		receipt.InspectionReport = inspectionReport
		receipt.AuditorSignature = s.signer.Sign(validator.String(), receipt.ContentHash, now)
		return s.repo.UpdateReceipt(ctx, receipt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Warehouse receipt validated",
		zap.String("receipt_id", receiptID.String()),
		zap.String("validator", validator.String()))

	s.notifier.Publish(notifications.NewEvent(notifications.EventReceiptValidated, receipt.ProducerID,
		"Batch validated",
		fmt.Sprintf("Batch %s (%s %s) passed inspection.", receipt.BatchNumber, receipt.NetWeight.String(), receipt.WeightUnit),
		map[string]string{"receipt_id": receiptID.String(), "batch_number": receipt.BatchNumber}))

	return receipt, nil
}

// PrepareMint creates the receipt's token if needed and schedules the mint of its full supply.
// Repeated and concurrent calls resolve to the same token and schedule.
func (s *Service) PrepareMint(ctx context.Context, receiptID uuid.UUID) (*MintPreparation, error) {
	v, err, _ := s.mints.Do(receiptID.String(), func() (any, error) {
		token, err := s.ensureToken(ctx, receiptID)
		if err != nil {
			return nil, err
		}
		return s.scheduleMint(ctx, receiptID, token)
	})
	if err != nil {
		return nil, err
	}
	return v.(*MintPreparation), nil
}

func (s *Service) ensureToken(ctx context.Context, receiptID uuid.UUID) (*HarvestToken, error) {
	var (
		token *HarvestToken
		rec   *settlement.Record
	)
	txID := s.gateway.NewTransactionID()

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		receipt, err := s.repo.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if err := mintable(receipt); err != nil {
			return err
		}

		token, err = s.repo.TokenByReceipt(ctx, receiptID)
		if errors.Is(err, ErrTokenNotFound) {
			token, err = s.newToken(ctx, receipt)
		}
		if err != nil {
			return err
		}
		if err := s.checkMode(token); err != nil {
			return err
		}
		if token.Issued() {
			return nil
		}

		if err := s.ensureIdle(ctx, receiptID, settlement.TypeTokenization); err != nil {
			return err
		}
		rec, err = s.journal.Open(ctx, settlement.Entry{
			Type:          settlement.TypeTokenization,
			TransactionID: txID,
			Amount:        decimal.NewFromInt(token.MaxSupply),
			AssetID:       token.Symbol,
			To:            token.TreasuryAccountID,
			ReceiptID:     &receiptID,
			TokenID:       &token.ID,
			Memo:          "Create token " + token.Symbol,
			Metadata: map[string]any{
				"name":       token.Name,
				"symbol":     token.Symbol,
				"max_supply": token.MaxSupply,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return token, nil
	}

	res, callErr := s.gateway.CreateFungibleToken(ctx, ledger.CreateTokenRequest{
		TransactionID:     txID,
		Name:              token.Name,
		Symbol:            token.Symbol,
		MaxSupply:         token.MaxSupply,
		TreasuryAccountID: token.TreasuryAccountID,
		Memo:              "Harvest token for receipt " + receiptID.String(),
	})
	if callErr != nil {
		s.logger.Error("Failed to create harvest token",
			zap.String("receipt_id", receiptID.String()),
			zap.String("symbol", token.Symbol),
			zap.Error(callErr))
		return nil, s.journal.Conclude(ctx, rec, "", callErr)
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		token, err = s.bindToken(ctx, receiptID, res.TokenID)
		if err != nil {
			return err
		}
		return s.journal.Settle(ctx, rec, res.TransactionID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Harvest token created",
		zap.String("receipt_id", receiptID.String()),
		zap.String("token_id", res.TokenID),
		zap.String("symbol", token.Symbol),
		zap.Int64("max_supply", token.MaxSupply))

	return token, nil
}

func (s *Service) newToken(ctx context.Context, receipt *WarehouseReceipt) (*HarvestToken, error) {
	product, err := s.products.GetProduct(ctx, receipt.ProductID)
	if err != nil {
		return nil, err
	}

	symbol := TokenSymbol(product.Name, receipt.BatchNumber)
	if err := ledger.ValidateTokenSymbol(symbol); err != nil {
		return nil, apperrors.Validation("invalid_symbol", "%v", err)
	}
	taken, err := s.repo.SymbolTaken(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperrors.Wrap(ErrDuplicateSymbol, "symbol %s", symbol)
	}

	// one token unit is one kilogram
	if receipt.WeightUnit != "KG" {
		return nil, apperrors.Wrap(ErrFractionalSupply, "weight unit %q is not KG", receipt.WeightUnit)
	}
	if !receipt.NetWeight.Equal(receipt.NetWeight.Truncate(0)) {
		return nil, apperrors.Wrap(ErrFractionalSupply, "net weight %s", receipt.NetWeight.String())
	}
	maxSupply := receipt.NetWeight.IntPart()
	if maxSupply < 1 {
		return nil, apperrors.Wrap(ErrInvalidWeight, "net weight %s is below one unit", receipt.NetWeight.String())
	}

	metadata, err := json.Marshal(map[string]string{
		"product":      product.Name,
		"batch_number": receipt.BatchNumber,
		"net_weight":   receipt.NetWeight.String(),
		"unit":         receipt.WeightUnit,
		"content_hash": receipt.ContentHash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode token metadata: %w", err)
	}

	token := &HarvestToken{
		ReceiptID:         receipt.ID,
		Name:              product.Name + " " + receipt.BatchNumber,
		Symbol:            symbol,
		MaxSupply:         maxSupply,
		TreasuryAccountID: s.gateway.Accounts().Treasury,
		LedgerMode:        string(s.gateway.Mode()),
		IsActive:          true,
		Metadata:          datatypes.JSON(metadata),
	}
	if err := s.repo.CreateToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (s *Service) scheduleMint(ctx context.Context, receiptID uuid.UUID, token *HarvestToken) (*MintPreparation, error) {
	var (
		receipt *WarehouseReceipt
		rec     *settlement.Record
		amount  int64
	)
	txID := s.gateway.NewTransactionID()

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = s.repo.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if err := mintable(receipt); err != nil {
			return err
		}
		if receipt.ScheduleID != nil {
			return nil
		}

		if err := s.ensureIdle(ctx, receiptID, settlement.TypeScheduledTransaction); err != nil {
			return err
		}
		amount = token.MaxSupply - token.MintedAmount
		rec, err = s.journal.Open(ctx, settlement.Entry{
			Type:          settlement.TypeScheduledTransaction,
			TransactionID: txID,
			Amount:        decimal.NewFromInt(amount),
			AssetID:       *token.LedgerTokenID,
			To:            token.TreasuryAccountID,
			ReceiptID:     &receiptID,
			TokenID:       &token.ID,
			Memo:          mintMemo(receipt),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &MintPreparation{Receipt: receipt, Token: token, ScheduleID: *receipt.ScheduleID}, nil
	}

	res, callErr := s.gateway.ScheduleMint(ctx, ledger.ScheduleMintRequest{
		TransactionID: txID,
		TokenID:       *token.LedgerTokenID,
		Amount:        amount,
		Memo:          mintMemo(receipt),
	})
	if callErr != nil {
		s.logger.Error("Failed to schedule mint",
			zap.String("receipt_id", receiptID.String()),
			zap.Error(callErr))
		return nil, s.journal.Conclude(ctx, rec, "", callErr)
	}

	// The record stays PENDING until the schedule is signed
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.journal.AttachSchedule(ctx, rec, res.ScheduleID); err != nil {
			return err
		}
		var err error
		receipt, err = s.attachSchedule(ctx, receiptID, res.ScheduleID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Mint scheduled",
		zap.String("receipt_id", receiptID.String()),
		zap.String("schedule_id", res.ScheduleID),
		zap.Int64("amount", amount))

	return &MintPreparation{Receipt: receipt, Token: token, ScheduleID: res.ScheduleID}, nil
}

// SignMint signs the scheduled mint, executing it on the ledger
func (s *Service) SignMint(ctx context.Context, scheduleID string, signer uuid.UUID) (*WarehouseReceipt, error) {
	var (
		scheduled *settlement.Record
		rec       *settlement.Record
		receiptID uuid.UUID
		amount    int64
	)
	txID := s.gateway.NewTransactionID()

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		scheduled, err = s.journal.FindBySchedule(ctx, scheduleID, settlement.TypeScheduledTransaction)
		if errors.Is(err, settlement.ErrRecordNotFound) {
			return apperrors.Wrap(ErrScheduleNotFound, "schedule %s", scheduleID)
		}
		if err != nil {
			return err
		}
		if scheduled.ReceiptID == nil || scheduled.Status == settlement.StatusFailed || scheduled.Status == settlement.StatusCancelled {
			return apperrors.Wrap(ErrScheduleNotFound, "schedule %s is %s", scheduleID, scheduled.Status)
		}
		if err := s.journal.CheckMode(scheduled); err != nil {
			return err
		}
		receiptID = *scheduled.ReceiptID

		receipt, err := s.repo.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if receipt.Minted {
			return apperrors.Wrap(ErrAlreadyMinted, "receipt %s", receiptID)
		}
		token, err := s.repo.TokenByReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		amount = scheduled.Amount.IntPart()
		if token.MintedAmount+amount > token.MaxSupply {
			return apperrors.Wrap(ErrSupplyExceeded, "minted %d + %d > %d", token.MintedAmount, amount, token.MaxSupply)
		}

		if err := s.ensureIdle(ctx, receiptID, settlement.TypeTokenMint); err != nil {
			return err
		}
		rec, err = s.journal.Open(ctx, settlement.Entry{
			Type:          settlement.TypeTokenMint,
			TransactionID: txID,
			ScheduleID:    scheduleID,
			Amount:        decimal.NewFromInt(amount),
			AssetID:       *token.LedgerTokenID,
			To:            token.TreasuryAccountID,
			ReceiptID:     &receiptID,
			TokenID:       &token.ID,
			UserID:        &signer,
			Memo:          mintMemo(receipt),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	res, callErr := s.gateway.SignSchedule(ctx, ledger.SignScheduleRequest{
		TransactionID: txID,
		ScheduleID:    scheduleID,
		SignerRef:     signer.String(),
	})
	if callErr != nil {
		s.logger.Error("Failed to sign mint schedule",
			zap.String("schedule_id", scheduleID),
			zap.Error(callErr))
		return nil, s.journal.Conclude(ctx, rec, "", callErr)
	}

	var receipt *WarehouseReceipt
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		receipt, _, err = s.applyMint(ctx, receiptID, res.ScheduledTransactionID, amount)
		if err != nil {
			return err
		}
		if err := s.journal.Settle(ctx, rec, res.TransactionID); err != nil {
			return err
		}
		if err := s.journal.Settle(ctx, scheduled, res.ScheduledTransactionID); err != nil && !errors.Is(err, settlement.ErrRecordClosed) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Mint executed",
		zap.String("receipt_id", receiptID.String()),
		zap.String("schedule_id", scheduleID),
		zap.String("mint_transaction_id", res.ScheduledTransactionID),
		zap.Int64("amount", amount))

	s.notifier.Publish(notifications.NewEvent(notifications.EventTokensMinted, receipt.ProducerID,
		"Harvest tokens minted",
		fmt.Sprintf("%d tokens were minted for batch %s.", amount, receipt.BatchNumber),
		map[string]string{"receipt_id": receiptID.String(), "transaction_id": res.ScheduledTransactionID}))

	return receipt, nil
}

// Distribute transfers minted units from the treasury, one ledger transfer per line.
// A failed line does not undo earlier lines; callers retry with the remaining recipients.
func (s *Service) Distribute(ctx context.Context, receiptID uuid.UUID, lines []DistributionLine) (*DistributionResult, error) {
	if len(lines) == 0 {
		return nil, apperrors.Wrap(ErrInvalidDistribution, "no recipients")
	}
	var total int64
	for i, line := range lines {
		if line.Amount <= 0 {
			return nil, apperrors.Wrap(ErrInvalidDistribution, "line %d: amount must be positive", i)
		}
		if line.AccountID == "" && line.UserID == nil {
			return nil, apperrors.Wrap(ErrInvalidDistribution, "line %d: recipient is required", i)
		}
		total += line.Amount
	}

	receipt, token, err := s.mintedToken(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	available, err := s.available(ctx, token)
	if err != nil {
		return nil, err
	}
	if total > available {
		return nil, apperrors.Wrap(ErrInsufficientTokens, "requested %d, treasury holds %d", total, available)
	}

	result := &DistributionResult{ReceiptID: receiptID, Transfers: make([]TransferResult, 0, len(lines))}
	for _, line := range lines {
		tr, err := s.distributeLine(ctx, receipt, line)
		if err != nil {
			tr.Error = err.Error()
			result.Failed++
			s.logger.Warn("Distribution line failed",
				zap.String("receipt_id", receiptID.String()),
				zap.String("account_id", tr.AccountID),
				zap.Int64("amount", line.Amount),
				zap.Error(err))
		} else {
			result.Distributed += line.Amount
			if line.UserID != nil {
				s.notifier.Publish(notifications.NewEvent(notifications.EventTokensDistributed, *line.UserID,
					"Harvest tokens received",
					fmt.Sprintf("You received %d tokens from batch %s.", line.Amount, receipt.BatchNumber),
					map[string]string{"receipt_id": receiptID.String(), "transaction_id": tr.TransactionID}))
			}
		}
		result.Transfers = append(result.Transfers, tr)
	}

	s.logger.Info("Distribution finished",
		zap.String("receipt_id", receiptID.String()),
		zap.Int64("distributed", result.Distributed),
		zap.Int("failed", result.Failed))

	return result, nil
}

func (s *Service) distributeLine(ctx context.Context, receipt *WarehouseReceipt, line DistributionLine) (TransferResult, error) {
	tr := TransferResult{AccountID: line.AccountID, UserID: line.UserID, Amount: line.Amount}
	if line.UserID != nil {
		account, err := s.accounts.EnsureLedgerAccount(ctx, *line.UserID)
		if err != nil {
			return tr, err
		}
		tr.AccountID = account.AccountID
	}

	var (
		token *HarvestToken
		rec   *settlement.Record
	)
	txID := s.gateway.NewTransactionID()

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		token, err = s.repo.TokenByReceiptForUpdate(ctx, receipt.ID)
		if err != nil {
			return err
		}
		available, err := s.available(ctx, token)
		if err != nil {
			return err
		}
		if line.Amount > available {
			return apperrors.Wrap(ErrInsufficientTokens, "requested %d, treasury holds %d", line.Amount, available)
		}

		rec, err = s.journal.Open(ctx, settlement.Entry{
			Type:          settlement.TypeFarmerPayment,
			TransactionID: txID,
			Amount:        decimal.NewFromInt(line.Amount),
			AssetID:       *token.LedgerTokenID,
			From:          token.TreasuryAccountID,
			To:            tr.AccountID,
			ReceiptID:     &receipt.ID,
			TokenID:       &token.ID,
			UserID:        line.UserID,
			Memo:          "Distribution for batch " + receipt.BatchNumber,
		})
		return err
	})
	if err != nil {
		return tr, err
	}
	tr.RecordID = &rec.ID

	res, callErr := s.gateway.TransferFungible(ctx, ledger.FungibleTransfer{
		TransactionID: txID,
		TokenID:       *token.LedgerTokenID,
		From:          token.TreasuryAccountID,
		To:            tr.AccountID,
		Amount:        line.Amount,
		Memo:          rec.Memo,
	})
	if callErr != nil {
		return tr, s.journal.Conclude(ctx, rec, "", callErr)
	}
	tr.TransactionID = res.TransactionID

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.adjustToken(ctx, receipt.ID, func(t *HarvestToken) { t.DistributedAmount += line.Amount }); err != nil {
			return err
		}
		return s.journal.Settle(ctx, rec, res.TransactionID)
	})
	return tr, err
}

// Redeem returns a holder's units to the treasury
func (s *Service) Redeem(ctx context.Context, receiptID, holderID uuid.UUID, amount int64) (*HarvestToken, error) {
	if amount <= 0 {
		return nil, apperrors.Wrap(ErrInvalidDistribution, "amount must be positive")
	}
	receipt, token, err := s.mintedToken(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	holder, err := s.accounts.LedgerAccount(ctx, holderID)
	if err != nil {
		return nil, err
	}

	txID := s.gateway.NewTransactionID()
	rec, err := s.journal.Open(ctx, settlement.Entry{
		Type:          settlement.TypeTokenBurn,
		TransactionID: txID,
		Amount:        decimal.NewFromInt(amount),
		AssetID:       *token.LedgerTokenID,
		From:          holder.AccountID,
		To:            token.TreasuryAccountID,
		ReceiptID:     &receiptID,
		TokenID:       &token.ID,
		UserID:        &holderID,
		Memo:          "Redemption for batch " + receipt.BatchNumber,
	})
	if err != nil {
		return nil, err
	}

	res, callErr := s.gateway.TransferFungible(ctx, ledger.FungibleTransfer{
		TransactionID: txID,
		TokenID:       *token.LedgerTokenID,
		From:          holder.AccountID,
		FromKey:       holder.PrivateKey,
		To:            token.TreasuryAccountID,
		Amount:        amount,
		Memo:          rec.Memo,
	})
	if callErr != nil {
		s.logger.Error("Failed to redeem tokens",
			zap.String("receipt_id", receiptID.String()),
			zap.String("holder_id", holderID.String()),
			zap.Error(callErr))
		return nil, s.journal.Conclude(ctx, rec, "", callErr)
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.adjustToken(ctx, receiptID, func(t *HarvestToken) { t.RedeemedAmount += amount }); err != nil {
			return err
		}
		return s.journal.Settle(ctx, rec, res.TransactionID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Tokens redeemed",
		zap.String("receipt_id", receiptID.String()),
		zap.String("holder_id", holderID.String()),
		zap.Int64("amount", amount))

	return s.repo.TokenByReceipt(ctx, receiptID)
}

// GetReceipt returns one receipt
func (s *Service) GetReceipt(ctx context.Context, receiptID uuid.UUID) (*WarehouseReceipt, error) {
	return s.repo.GetReceipt(ctx, receiptID)
}

// ListReceipts returns receipts matching filter
func (s *Service) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]WarehouseReceipt, error) {
	return s.repo.ListReceipts(ctx, filter)
}

// Token returns the token backing a receipt
func (s *Service) Token(ctx context.Context, receiptID uuid.UUID) (*HarvestToken, error) {
	return s.repo.TokenByReceipt(ctx, receiptID)
}

func (s *Service) mintedToken(ctx context.Context, receiptID uuid.UUID) (*WarehouseReceipt, *HarvestToken, error) {
	receipt, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, nil, err
	}
	if !receipt.Minted {
		return nil, nil, apperrors.Wrap(ErrNotMinted, "receipt %s", receiptID)
	}
	token, err := s.repo.TokenByReceipt(ctx, receiptID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkMode(token); err != nil {
		return nil, nil, err
	}
	if !token.Issued() || !token.IsActive {
		return nil, nil, apperrors.Wrap(ErrTokenNotFound, "token for receipt %s is not active", receiptID)
	}
	return receipt, token, nil
}

// available is the treasury balance minus transfers still in flight
func (s *Service) available(ctx context.Context, token *HarvestToken) (int64, error) {
	inflight, err := s.journal.InFlight(ctx, settlement.Filter{
		Types:     []settlement.RecordType{settlement.TypeFarmerPayment},
		ReceiptID: &token.ReceiptID,
	})
	if err != nil {
		return 0, err
	}
	available := token.InTreasury()
	for _, rec := range inflight {
		available -= rec.Amount.IntPart()
	}
	return available, nil
}

func (s *Service) ensureIdle(ctx context.Context, receiptID uuid.UUID, recType settlement.RecordType) error {
	inflight, err := s.journal.InFlight(ctx, settlement.Filter{
		Types:     []settlement.RecordType{recType},
		ReceiptID: &receiptID,
	})
	if err != nil {
		return err
	}
	if len(inflight) > 0 {
		return apperrors.Wrap(ErrOperationInProgress, "%s record %s", recType, inflight[0].ID)
	}
	return nil
}

func (s *Service) checkMode(token *HarvestToken) error {
	if token.LedgerMode != string(s.gateway.Mode()) {
		return apperrors.Wrap(ErrLedgerModeMismatch, "token %s created under %q, gateway is %q", token.Symbol, token.LedgerMode, s.gateway.Mode())
	}
	return nil
}

// bindToken stores the ledger token id. Must run inside a transaction.
func (s *Service) bindToken(ctx context.Context, receiptID uuid.UUID, ledgerTokenID string) (*HarvestToken, error) {
	token, err := s.repo.TokenByReceiptForUpdate(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if token.Issued() {
		if *token.LedgerTokenID != ledgerTokenID {
			return nil, apperrors.Integrity("token_id_immutable", "token %s is already bound to %s", token.Symbol, *token.LedgerTokenID)
		}
		return token, nil
	}
	token.LedgerTokenID = &ledgerTokenID
	if err := s.repo.UpdateToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// attachSchedule stores the schedule id on the receipt. Must run inside a transaction.
func (s *Service) attachSchedule(ctx context.Context, receiptID uuid.UUID, scheduleID string) (*WarehouseReceipt, error) {
	receipt, err := s.repo.GetReceiptForUpdate(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt.ScheduleID != nil && *receipt.ScheduleID == scheduleID {
		return receipt, nil
	}
	receipt.ScheduleID = &scheduleID
	if err := s.repo.UpdateReceipt(ctx, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// applyMint marks the receipt minted and grows the token supply. Idempotent; must run inside a transaction.
func (s *Service) applyMint(ctx context.Context, receiptID uuid.UUID, mintTxID string, amount int64) (*WarehouseReceipt, *HarvestToken, error) {
	receipt, err := s.repo.GetReceiptForUpdate(ctx, receiptID)
	if err != nil {
		return nil, nil, err
	}
	token, err := s.repo.TokenByReceiptForUpdate(ctx, receiptID)
	if err != nil {
		return nil, nil, err
	}
	if receipt.Minted {
		return receipt, token, nil
	}
	if token.MintedAmount+amount > token.MaxSupply {
		return nil, nil, apperrors.Wrap(ErrSupplyExceeded, "minted %d + %d > %d", token.MintedAmount, amount, token.MaxSupply)
	}

	now := s.now()
	token.MintedAmount += amount
	receipt.Minted = true
	receipt.MintedAt = &now
	if mintTxID != "" {
		receipt.MintTransactionID = &mintTxID
	}

	if err := s.repo.UpdateToken(ctx, token); err != nil {
		return nil, nil, err
	}
	if err := s.repo.UpdateReceipt(ctx, receipt); err != nil {
		return nil, nil, err
	}
	return receipt, token, nil
}

func (s *Service) adjustToken(ctx context.Context, receiptID uuid.UUID, apply func(*HarvestToken)) error {
	token, err := s.repo.TokenByReceiptForUpdate(ctx, receiptID)
	if err != nil {
		return err
	}
	apply(token)
	return s.repo.UpdateToken(ctx, token)
}

func mintable(receipt *WarehouseReceipt) error {
	if !receipt.Validated {
		return apperrors.Wrap(ErrNotValidated, "receipt %s", receipt.ID)
	}
	if receipt.Minted {
		return apperrors.Wrap(ErrAlreadyMinted, "receipt %s", receipt.ID)
	}
	return nil
}

func checkWeights(gross, net decimal.Decimal) error {
	if !net.IsPositive() || net.GreaterThan(gross) {
		return apperrors.Wrap(ErrInvalidWeight, "gross %s, net %s", gross.String(), net.String())
	}
	return nil
}

func mintMemo(receipt *WarehouseReceipt) string {
	return "Mint for batch: " + receipt.BatchNumber
}
