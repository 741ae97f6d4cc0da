package escrow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Artifique/Agrilend-Backend/internal/ledger"
	"github.com/Artifique/Agrilend-Backend/internal/settlement"
)

// Finalizer applies reconciled outcomes of escrow records
type Finalizer struct {
	service *Service
}

// Finalizer returns the reconciliation hook for this pipeline
func (s *Service) Finalizer() *Finalizer {
	return &Finalizer{service: s}
}

// RegisterFinalizers binds the escrow record types to r
func (s *Service) RegisterFinalizers(r *settlement.Reconciler) {
	f := s.Finalizer()
	for _, recType := range []settlement.RecordType{
		settlement.TypeEscrowDeposit,
		settlement.TypeEscrowRelease,
		settlement.TypeRefund,
		settlement.TypeFaucetTopUp,
	} {
		r.Register(recType, f)
	}
}

type releaseMetadata struct {
	FarmerAmount decimal.Decimal `json:"farmer_amount"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
}

type refundMetadata struct {
	Reason string `json:"reason"`
}

func (f *Finalizer) ApplySettlement(ctx context.Context, rec *settlement.Record, outcome *ledger.Outcome) error {
	if rec.Type == settlement.TypeFaucetTopUp {
		return nil
	}
	if rec.OrderID == nil {
		return fmt.Errorf("record %s has no order", rec.ID)
	}
	orderID := *rec.OrderID
	txID := outcome.TransactionID
	if txID == "" {
		txID = rec.Ref()
	}
	s := f.service

	switch rec.Type {
	case settlement.TypeEscrowDeposit:
		_, err := s.markFunded(ctx, orderID, rec.FromAccount, txID)
		return err

	case settlement.TypeEscrowRelease:
		var meta releaseMetadata
		if err := rec.DecodeMetadata(&meta); err != nil {
			return fmt.Errorf("failed to decode release metadata: %w", err)
		}
		_, err := s.markReleased(ctx, orderID, Split{FarmerAmount: meta.FarmerAmount, PlatformFee: meta.PlatformFee}, txID)
		return err

	case settlement.TypeRefund:
		var meta refundMetadata
		if err := rec.DecodeMetadata(&meta); err != nil {
			return fmt.Errorf("failed to decode refund metadata: %w", err)
		}
		_, err := s.markRefunded(ctx, orderID, meta.Reason, txID)
		return err
	}
	return nil
}

// ApplyFailure leaves the order in its prior state; the caller may retry
func (f *Finalizer) ApplyFailure(ctx context.Context, rec *settlement.Record, reason string) error {
	return nil
}
