package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Artifique/Agrilend-Backend/internal/config"
)

// Connect opens the postgres pool, retrying while the server comes up
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 1; i <= attempts; i++ {
		db, err = gorm.Open(postgres.Open(cfg.GetDatabaseURL()), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			break
		}

		logger.Warn("Database connection attempt failed",
			zap.Int("attempt", i),
			zap.Int("max_attempts", attempts),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.ConnectBackoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)

	logger.Info("Connected to database",
		zap.String("host", cfg.Host),
		zap.String("db_name", cfg.DBName))

	return db, nil
}

// Migrate creates or updates the tables backing the given models
func Migrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
