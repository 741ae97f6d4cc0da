package accounts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/ledger"
	"github.com/Artifique/Agrilend-Backend/internal/settlement"
)

// Finalizer binds accounts whose creation was confirmed by reconciliation
type Finalizer struct {
	service *Service
}

// RegisterFinalizers binds the account creation record type to r
func (s *Service) RegisterFinalizers(r *settlement.Reconciler) {
	r.Register(settlement.TypeAccountCreation, &Finalizer{service: s})
}

func (f *Finalizer) ApplySettlement(ctx context.Context, rec *settlement.Record, outcome *ledger.Outcome) error {
	if rec.UserID == nil {
		return fmt.Errorf("record %s has no user", rec.ID)
	}
	if outcome.AccountID == "" {
		return fmt.Errorf("account creation %s resolved without an account id", rec.ID)
	}
	if err := f.service.bindStaged(ctx, *rec.UserID, outcome.AccountID); err != nil {
		return err
	}
	rec.ToAccount = outcome.AccountID

	f.service.logger.Info("Recovered ledger account",
		zap.String("user_id", rec.UserID.String()),
		zap.String("account_id", outcome.AccountID))
	return nil
}

// ApplyFailure leaves the staged key in place. The next attempt replaces it.
func (f *Finalizer) ApplyFailure(ctx context.Context, rec *settlement.Record, reason string) error {
	return nil
}
