package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/settlement"
)

const (
	ReconcileJobName = "settlement-reconcile"
	ExportJobName    = "settlement-journal-export"
)

// Reconciler closes pending settlement records
type Reconciler interface {
	Run(ctx context.Context) (*settlement.RunSummary, error)
}

// Exporter uploads the journal for a period
type Exporter interface {
	Export(ctx context.Context, from, to time.Time) (string, error)
}

// ReconcileJob runs one reconciliation pass per tick
func ReconcileJob(schedule string, r Reconciler, logger *zap.Logger) Job {
	return Job{
		Name:     ReconcileJobName,
		Schedule: schedule,
		Timeout:  5 * time.Minute,
		Run: func(ctx context.Context) error {
			summary, err := r.Run(ctx)
			if err != nil {
				return err
			}
			if summary.Scanned > 0 {
				logger.Info("Reconciliation pass",
					zap.Int("scanned", summary.Scanned),
					zap.Int("settled", summary.Settled),
					zap.Int("failed", summary.Failed),
					zap.Int("still_pending", summary.StillPending),
					zap.Int("errors", summary.Errors))
			}
			return nil
		},
	}
}

// ExportJob uploads the previous UTC day's journal on each tick
func ExportJob(schedule string, e Exporter, logger *zap.Logger) Job {
	return Job{
		Name:     ExportJobName,
		Schedule: schedule,
		Timeout:  15 * time.Minute,
		Run: func(ctx context.Context) error {
			from, to := PreviousDay(time.Now())
			key, err := e.Export(ctx, from, to)
			if err != nil {
				return err
			}
			logger.Info("Exported settlement journal",
				zap.String("key", key),
				zap.Time("from", from),
				zap.Time("to", to))
			return nil
		},
	}
}

// PreviousDay returns the UTC day before now as [from, to)
func PreviousDay(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return to.AddDate(0, 0, -1), to
}
