package tokenization

import (
	"context"
	"errors"
	"fmt"

	"github.com/Artifique/Agrilend-Backend/internal/ledger"
	"github.com/Artifique/Agrilend-Backend/internal/settlement"
)

// Finalizer applies reconciled outcomes of tokenization records
type Finalizer struct {
	service *Service
}

// Finalizer returns the reconciliation hook for this pipeline
func (s *Service) Finalizer() *Finalizer {
	return &Finalizer{service: s}
}

// RegisterFinalizers binds the tokenization record types to r
func (s *Service) RegisterFinalizers(r *settlement.Reconciler) {
	f := s.Finalizer()
	for _, recType := range []settlement.RecordType{
		settlement.TypeTokenization,
		settlement.TypeScheduledTransaction,
		settlement.TypeTokenMint,
		settlement.TypeFarmerPayment,
		settlement.TypeTokenBurn,
	} {
		r.Register(recType, f)
	}
}

func (f *Finalizer) ApplySettlement(ctx context.Context, rec *settlement.Record, outcome *ledger.Outcome) error {
	if rec.ReceiptID == nil {
		return fmt.Errorf("record %s has no receipt", rec.ID)
	}
	receiptID := *rec.ReceiptID
	s := f.service

	switch rec.Type {
	case settlement.TypeTokenization:
		if outcome.TokenID == "" {
			return fmt.Errorf("token creation %s resolved without a token id", rec.ID)
		}
		_, err := s.bindToken(ctx, receiptID, outcome.TokenID)
		return err

	case settlement.TypeScheduledTransaction:
		_, _, err := s.applyMint(ctx, receiptID, outcome.ScheduledTransactionID, rec.Amount.IntPart())
		return err

	case settlement.TypeTokenMint:
		if _, _, err := s.applyMint(ctx, receiptID, outcome.ScheduledTransactionID, rec.Amount.IntPart()); err != nil {
			return err
		}
		if rec.ScheduleID == nil {
			return nil
		}
		scheduled, err := s.journal.FindBySchedule(ctx, *rec.ScheduleID, settlement.TypeScheduledTransaction)
		if errors.Is(err, settlement.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if scheduled.Status != settlement.StatusPending {
			return nil
		}
		if err := s.journal.Settle(ctx, scheduled, outcome.ScheduledTransactionID); err != nil && !errors.Is(err, settlement.ErrRecordClosed) {
			return err
		}
		return nil

	case settlement.TypeFarmerPayment:
		amount := rec.Amount.IntPart()
		return s.adjustToken(ctx, receiptID, func(t *HarvestToken) { t.DistributedAmount += amount })

	case settlement.TypeTokenBurn:
		amount := rec.Amount.IntPart()
		return s.adjustToken(ctx, receiptID, func(t *HarvestToken) { t.RedeemedAmount += amount })
	}
	return nil
}

func (f *Finalizer) ApplyFailure(ctx context.Context, rec *settlement.Record, reason string) error {
	if rec.Type != settlement.TypeScheduledTransaction || rec.ReceiptID == nil || rec.ScheduleID == nil {
		return nil
	}

	// Release the schedule so PrepareMint can schedule again
	s := f.service
	receipt, err := s.repo.GetReceiptForUpdate(ctx, *rec.ReceiptID)
	if err != nil {
		return err
	}
	if receipt.Minted || receipt.ScheduleID == nil || *receipt.ScheduleID != *rec.ScheduleID {
		return nil
	}
	receipt.ScheduleID = nil
	return s.repo.UpdateReceipt(ctx, receipt)
}

// BindSchedule stores a schedule id recovered by reconciliation
func (f *Finalizer) BindSchedule(ctx context.Context, rec *settlement.Record, scheduleID string) error {
	if rec.ReceiptID == nil {
		return nil
	}
	_, err := f.service.attachSchedule(ctx, *rec.ReceiptID, scheduleID)
	return err
}
