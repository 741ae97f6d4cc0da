package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named unit of background work run on a cron schedule
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs registered jobs. A job still running when its next tick fires is skipped.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *zap.Logger
	running bool
}

// NewScheduler creates a scheduler accepting six-field (seconds first) expressions
func NewScheduler(logger *zap.Logger) *Scheduler {
	cronLogger := zapCronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Add registers job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Run == nil {
		return fmt.Errorf("job %q has no run function", job.Name)
	}
	if _, exists := s.entries[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}

	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("failed to add cron job %q: %w", job.Name, err)
	}
	s.entries[job.Name] = entryID

	s.logger.Info("Added job",
		zap.String("job", job.Name),
		zap.String("cron", job.Schedule))
	return nil
}

// RunNow executes a registered job synchronously, outside its schedule
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	entryID, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	s.cron.Entry(entryID).WrappedJob.Run()
	return nil
}

// Start begins firing schedules
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.logger.Info("Starting scheduler", zap.Int("jobs", len(s.entries)))
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs still running at shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) execute(job Job) {
	ctx := context.Background()
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	started := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("Job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(started)),
			zap.Error(err))
		return
	}
	s.logger.Info("Job completed",
		zap.String("job", job.Name),
		zap.Duration("duration", time.Since(started)))
}

// zapCronLogger adapts zap to the cron.Logger interface
type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
