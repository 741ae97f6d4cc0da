package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/app"
	"github.com/Artifique/Agrilend-Backend/internal/config"
	"github.com/Artifique/Agrilend-Backend/internal/jobs"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("AGRILEND_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("process", "workers"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	application.Start()

	scheduler := jobs.NewScheduler(logger)
	if err := scheduler.Add(jobs.ReconcileJob(cfg.Reconciliation.Schedule, application.Reconciler, logger)); err != nil {
		logger.Fatal("Failed to schedule reconciliation", zap.Error(err))
	}
	if application.Exporter != nil {
		if err := scheduler.Add(jobs.ExportJob(cfg.Export.Schedule, application.Exporter, logger)); err != nil {
			logger.Fatal("Failed to schedule journal export", zap.Error(err))
		}
	} else {
		logger.Info("Journal export disabled: no export bucket configured")
	}

	// Close anything a crash left pending before waiting for the first tick
	if err := scheduler.RunNow(jobs.ReconcileJobName); err != nil {
		logger.Error("Initial reconciliation failed", zap.Error(err))
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("Shutting down workers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("Scheduler did not stop cleanly", zap.Error(err))
	}
	if err := application.Close(shutdownCtx); err != nil {
		logger.Error("Failed to release resources", zap.Error(err))
	}

	logger.Info("Workers exiting")
}
