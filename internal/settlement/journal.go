package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/Artifique/Agrilend-Backend/internal/ledger"
)

// Entry describes a ledger call about to be made
type Entry struct {
	Type          RecordType
	TransactionID string
	ScheduleID    string
	Amount        decimal.Decimal
	AssetID       string
	From          string
	To            string
	OrderID       *uuid.UUID
	ReceiptID     *uuid.UUID
	TokenID       *uuid.UUID
	UserID        *uuid.UUID
	Memo          string
	Metadata      map[string]any
}

// Journal writes the PENDING record before a ledger call and closes it afterwards
type Journal struct {
	repo   Repository
	mode   ledger.Mode
	logger *zap.Logger
	now    func() time.Time
}

// NewJournal creates a journal bound to the gateway's ledger mode
func NewJournal(repo Repository, mode ledger.Mode, logger *zap.Logger) *Journal {
	return &Journal{
		repo:   repo,
		mode:   mode,
		logger: logger,
		now:    time.Now,
	}
}

// Mode returns the ledger mode records are written under
func (j *Journal) Mode() ledger.Mode {
	return j.mode
}

// Open inserts a PENDING record. Must be called before the gateway call it describes.
func (j *Journal) Open(ctx context.Context, entry Entry) (*Record, error) {
	if entry.AssetID == "" {
		entry.AssetID = NativeAsset
	}

	metadata := datatypes.JSON([]byte("{}"))
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record metadata: %w", err)
		}
		metadata = datatypes.JSON(raw)
	}

	rec := &Record{
		Type:        entry.Type,
		Status:      StatusPending,
		LedgerMode:  string(j.mode),
		Amount:      entry.Amount,
		AssetID:     entry.AssetID,
		FromAccount: entry.From,
		ToAccount:   entry.To,
		OrderID:     entry.OrderID,
		ReceiptID:   entry.ReceiptID,
		TokenID:     entry.TokenID,
		UserID:      entry.UserID,
		Memo:        entry.Memo,
		Metadata:    metadata,
	}
	if entry.TransactionID != "" {
		txID := entry.TransactionID
		rec.TransactionID = &txID
	}
	if entry.ScheduleID != "" {
		scheduleID := entry.ScheduleID
		rec.ScheduleID = &scheduleID
	}

	if err := j.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	j.logger.Debug("Settlement record opened",
		zap.String("record_id", rec.ID.String()),
		zap.String("type", string(rec.Type)),
		zap.String("transaction_id", entry.TransactionID))

	return rec, nil
}

// AttachSchedule stores the schedule id returned for a still-pending record
func (j *Journal) AttachSchedule(ctx context.Context, rec *Record, scheduleID string) error {
	if err := j.repo.AttachSchedule(ctx, rec.ID, scheduleID); err != nil {
		return err
	}
	rec.ScheduleID = &scheduleID
	return nil
}

// Settle closes the record as SUCCESS
func (j *Journal) Settle(ctx context.Context, rec *Record, finalTxID string) error {
	return j.close(ctx, rec, Closure{Status: StatusSuccess, FinalTransactionID: finalTxID})
}

// Fail closes the record as FAILED
func (j *Journal) Fail(ctx context.Context, rec *Record, reason string) error {
	return j.close(ctx, rec, Closure{Status: StatusFailed, FailureReason: reason})
}

// Cancel closes a record whose call was never issued
func (j *Journal) Cancel(ctx context.Context, rec *Record, reason string) error {
	return j.close(ctx, rec, Closure{Status: StatusCancelled, FailureReason: reason})
}

func (j *Journal) close(ctx context.Context, rec *Record, change Closure) error {
	change.At = j.now()
	if err := j.repo.Close(ctx, rec.ID, change); err != nil {
		return err
	}

	rec.Status = change.Status
	rec.SettledAt = &change.At
	if change.FinalTransactionID != "" {
		rec.FinalTransactionID = &change.FinalTransactionID
	}
	if change.FailureReason != "" {
		rec.FailureReason = &change.FailureReason
	}

	j.logger.Info("Settlement record closed",
		zap.String("record_id", rec.ID.String()),
		zap.String("type", string(rec.Type)),
		zap.String("status", string(change.Status)))
	return nil
}

// Conclude applies the outcome of a gateway call to its record.
// Unknown outcomes leave the record PENDING for reconciliation; the call error is always returned.
func (j *Journal) Conclude(ctx context.Context, rec *Record, finalTxID string, callErr error) error {
	if callErr == nil {
		if err := j.Settle(ctx, rec, finalTxID); err != nil {
			return fmt.Errorf("failed to settle record %s: %w", rec.ID, err)
		}
		return nil
	}

	if ledger.IsUnknownOutcome(callErr) {
		j.logger.Warn("Ledger outcome unknown, record left pending",
			zap.String("record_id", rec.ID.String()),
			zap.String("type", string(rec.Type)),
			zap.Error(callErr))
		return callErr
	}

	if err := j.Fail(ctx, rec, callErr.Error()); err != nil && !errors.Is(err, ErrRecordClosed) {
		j.logger.Error("Failed to mark record failed",
			zap.String("record_id", rec.ID.String()),
			zap.Error(err))
	}
	return callErr
}

// InFlight returns PENDING records matching filter
func (j *Journal) InFlight(ctx context.Context, filter Filter) ([]Record, error) {
	pending := StatusPending
	filter.Status = &pending
	return j.repo.List(ctx, filter)
}

// CheckMode rejects records written under another ledger mode
func (j *Journal) CheckMode(rec *Record) error {
	if rec.LedgerMode != string(j.mode) {
		return ErrLedgerModeMismatch
	}
	return nil
}

// FindBySchedule returns the newest record of recType carrying scheduleID
func (j *Journal) FindBySchedule(ctx context.Context, scheduleID string, recType RecordType) (*Record, error) {
	return j.repo.FindBySchedule(ctx, scheduleID, recType)
}

// Get returns one record
func (j *Journal) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return j.repo.Get(ctx, id)
}

// List returns records matching filter
func (j *Journal) List(ctx context.Context, filter Filter) ([]Record, error) {
	return j.repo.List(ctx, filter)
}
