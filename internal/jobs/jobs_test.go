package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/settlement"
)

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Run(ctx context.Context) (*settlement.RunSummary, error) {
	args := m.Called(ctx)
	if summary, ok := args.Get(0).(*settlement.RunSummary); ok {
		return summary, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockExporter struct {
	mock.Mock
}

func (m *mockExporter) Export(ctx context.Context, from, to time.Time) (string, error) {
	args := m.Called(ctx, from, to)
	return args.String(0), args.Error(1)
}

func TestPreviousDay(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 30, 0, 0, time.FixedZone("WAT", 3600))

	from, to := PreviousDay(now)

	assert.Equal(t, time.Date(2025, 2, 27, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), to)
}

func TestSchedulerRejectsBadJobs(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	assert.Error(t, s.Add(Job{Name: "empty", Schedule: "*/5 * * * * *"}))
	assert.Error(t, s.Add(Job{Name: "bad", Schedule: "not a cron", Run: func(context.Context) error { return nil }}))

	ok := Job{Name: "ok", Schedule: "*/5 * * * * *", Run: func(context.Context) error { return nil }}
	require.NoError(t, s.Add(ok))
	assert.Error(t, s.Add(ok))
	assert.Error(t, s.RunNow("missing"))
}

func TestReconcileJobRunsOnePass(t *testing.T) {
	reconciler := &mockReconciler{}
	reconciler.On("Run", mock.Anything).Return(&settlement.RunSummary{Scanned: 2, Settled: 1, StillPending: 1}, nil).Once()

	s := NewScheduler(zap.NewNop())
	require.NoError(t, s.Add(ReconcileJob("0 */5 * * * *", reconciler, zap.NewNop())))
	require.NoError(t, s.RunNow(ReconcileJobName))

	reconciler.AssertExpectations(t)
}

func TestReconcileJobSurfacesErrors(t *testing.T) {
	reconciler := &mockReconciler{}
	reconciler.On("Run", mock.Anything).Return(nil, errors.New("database unavailable"))

	err := ReconcileJob("0 */5 * * * *", reconciler, zap.NewNop()).Run(context.Background())
	assert.EqualError(t, err, "database unavailable")
}

func TestExportJobExportsPreviousDay(t *testing.T) {
	exporter := &mockExporter{}
	exporter.On("Export", mock.Anything, mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
		Return("settlement-journal/x.xlsx", nil).Once()

	job := ExportJob("0 30 0 * * *", exporter, zap.NewNop())
	require.NoError(t, job.Run(context.Background()))

	exporter.AssertExpectations(t)
	from := exporter.Calls[0].Arguments.Get(1).(time.Time)
	to := exporter.Calls[0].Arguments.Get(2).(time.Time)
	assert.Equal(t, 24*time.Hour, to.Sub(from))
}
