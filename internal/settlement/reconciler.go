package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/config"
	"github.com/Artifique/Agrilend-Backend/internal/database"
	"github.com/Artifique/Agrilend-Backend/internal/ledger"
)

// ErrReconcileInProgress is returned when a run is already active in this process
var ErrReconcileInProgress = apperrors.Conflict("reconcile_in_progress", "reconciliation is already running")

// Finalizer applies the domain effects of a resolved record.
// Both methods run inside the transaction that closes the record and must be idempotent.
type Finalizer interface {
	ApplySettlement(ctx context.Context, rec *Record, outcome *ledger.Outcome) error
	ApplyFailure(ctx context.Context, rec *Record, reason string) error
}

// ScheduleBinder is implemented by finalizers that must learn a schedule id recovered from the ledger
type ScheduleBinder interface {
	BindSchedule(ctx context.Context, rec *Record, scheduleID string) error
}

// OutcomeSource is the read side of the ledger gateway
type OutcomeSource interface {
	Mode() ledger.Mode
	TransactionOutcome(ctx context.Context, transactionID string) (*ledger.Outcome, error)
	ScheduleOutcome(ctx context.Context, scheduleID string) (*ledger.Outcome, error)
}

// RunSummary counts what one reconciliation pass did
type RunSummary struct {
	Scanned      int `json:"scanned"`
	Settled      int `json:"settled"`
	Failed       int `json:"failed"`
	StillPending int `json:"still_pending"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
}

// Reconciler closes PENDING records left behind by interrupted requests
type Reconciler struct {
	repo       Repository
	journal    *Journal
	source     OutcomeSource
	tx         database.Transactor
	cfg        config.ReconciliationConfig
	logger     *zap.Logger
	finalizers map[RecordType]Finalizer
	processed  *prometheus.CounterVec
	running    sync.Mutex
	now        func() time.Time
}

// NewReconciler creates a reconciler. reg may be nil.
func NewReconciler(
	repo Repository,
	journal *Journal,
	source OutcomeSource,
	tx database.Transactor,
	cfg config.ReconciliationConfig,
	reg prometheus.Registerer,
	logger *zap.Logger,
) *Reconciler {
	r := &Reconciler{
		repo:       repo,
		journal:    journal,
		source:     source,
		tx:         tx,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "reconciler")),
		finalizers: make(map[RecordType]Finalizer),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrilend",
			Subsystem: "reconciliation",
			Name:      "records_total",
			Help:      "Pending settlement records examined by reconciliation, by result.",
		}, []string{"type", "result"}),
		now: time.Now,
	}
	if reg != nil {
		reg.MustRegister(r.processed)
	}
	return r
}

// Register binds a finalizer to a record type. Call before Run.
func (r *Reconciler) Register(recType RecordType, f Finalizer) {
	r.finalizers[recType] = f
}

// Run reconciles one batch of stale PENDING records, least recently checked first
func (r *Reconciler) Run(ctx context.Context) (*RunSummary, error) {
	if !r.running.TryLock() {
		return nil, ErrReconcileInProgress
	}
	defer r.running.Unlock()

	cutoff := r.now().Add(-r.cfg.PendingThreshold)
	records, err := r.repo.ListStalePending(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{}
	for i := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Scanned++

		result, err := r.reconcile(ctx, &records[i])
		if err != nil {
			summary.Errors++
			r.logger.Error("Failed to reconcile record",
				zap.String("record_id", records[i].ID.String()),
				zap.String("type", string(records[i].Type)),
				zap.Error(err))
			result = "error"
		}

		switch result {
		case "settled":
			summary.Settled++
		case "failed":
			summary.Failed++
		case "pending":
			summary.StillPending++
		case "skipped":
			summary.Skipped++
		}
		r.processed.WithLabelValues(string(records[i].Type), result).Inc()
	}

	if summary.Scanned > 0 {
		r.logger.Info("Reconciliation pass finished",
			zap.Int("scanned", summary.Scanned),
			zap.Int("settled", summary.Settled),
			zap.Int("failed", summary.Failed),
			zap.Int("still_pending", summary.StillPending),
			zap.Int("skipped", summary.Skipped),
			zap.Int("errors", summary.Errors))
	}
	return summary, nil
}

func (r *Reconciler) reconcile(ctx context.Context, rec *Record) (string, error) {
	if rec.LedgerMode != string(r.source.Mode()) {
		r.logger.Warn("Skipping record from another ledger mode",
			zap.String("record_id", rec.ID.String()),
			zap.String("record_mode", rec.LedgerMode),
			zap.String("gateway_mode", string(r.source.Mode())))
		return "skipped", nil
	}

	outcome, err := r.lookup(ctx, rec)
	if markErr := r.repo.MarkReconcileAttempt(ctx, rec.ID, r.now()); markErr != nil {
		r.logger.Warn("Failed to mark reconcile attempt", zap.String("record_id", rec.ID.String()), zap.Error(markErr))
	}
	if err != nil {
		return "", fmt.Errorf("failed to query ledger outcome: %w", err)
	}

	switch outcome.Status {
	case ledger.OutcomeSucceeded:
		if rec.Type == TypeScheduledTransaction && rec.ScheduleID == nil && outcome.ScheduleID != "" {
			// The schedule was created but never attached; it still awaits its signature
			return "pending", r.recoverSchedule(ctx, rec, outcome.ScheduleID)
		}
		return "settled", r.settle(ctx, rec, outcome)
	case ledger.OutcomeFailed:
		return "failed", r.fail(ctx, rec, outcome.Reason)
	case ledger.OutcomeNotFound:
		if r.now().Sub(rec.CreatedAt) > r.cfg.ValidityWindow {
			return "failed", r.fail(ctx, rec, "transaction not found on ledger after validity window")
		}
		return "pending", nil
	default:
		return "pending", nil
	}
}

func (r *Reconciler) lookup(ctx context.Context, rec *Record) (*ledger.Outcome, error) {
	if rec.Type == TypeScheduledTransaction && rec.ScheduleID != nil {
		return r.source.ScheduleOutcome(ctx, *rec.ScheduleID)
	}
	if rec.TransactionID != nil {
		return r.source.TransactionOutcome(ctx, *rec.TransactionID)
	}
	// Opened without a transaction id, so nothing can have been submitted under it
	return &ledger.Outcome{Status: ledger.OutcomeNotFound, ResolvedAt: r.now()}, nil
}

func (r *Reconciler) recoverSchedule(ctx context.Context, rec *Record, scheduleID string) error {
	return r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.journal.AttachSchedule(ctx, rec, scheduleID); err != nil {
			return err
		}
		if binder, ok := r.finalizers[rec.Type].(ScheduleBinder); ok {
			if err := binder.BindSchedule(ctx, rec, scheduleID); err != nil {
				return fmt.Errorf("failed to bind recovered schedule: %w", err)
			}
		}
		r.logger.Info("Recovered schedule id for pending record",
			zap.String("record_id", rec.ID.String()),
			zap.String("schedule_id", scheduleID))
		return nil
	})
}

func (r *Reconciler) settle(ctx context.Context, rec *Record, outcome *ledger.Outcome) error {
	finalTxID := outcome.TransactionID
	if outcome.ScheduledTransactionID != "" {
		finalTxID = outcome.ScheduledTransactionID
	}

	err := r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if f, ok := r.finalizers[rec.Type]; ok {
			if err := f.ApplySettlement(ctx, rec, outcome); err != nil {
				return fmt.Errorf("failed to apply settlement: %w", err)
			}
		}
		return r.journal.Settle(ctx, rec, finalTxID)
	})
	if errors.Is(err, ErrRecordClosed) {
		return nil
	}
	return err
}

func (r *Reconciler) fail(ctx context.Context, rec *Record, reason string) error {
	err := r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if f, ok := r.finalizers[rec.Type]; ok {
			if err := f.ApplyFailure(ctx, rec, reason); err != nil {
				return fmt.Errorf("failed to apply failure: %w", err)
			}
		}
		return r.journal.Fail(ctx, rec, reason)
	})
	if errors.Is(err, ErrRecordClosed) {
		return nil
	}
	return err
}
