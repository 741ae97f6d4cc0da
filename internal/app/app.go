package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Artifique/Agrilend-Backend/internal/accounts"
	"github.com/Artifique/Agrilend-Backend/internal/catalog"
	"github.com/Artifique/Agrilend-Backend/internal/config"
	"github.com/Artifique/Agrilend-Backend/internal/database"
	"github.com/Artifique/Agrilend-Backend/internal/escrow"
	"github.com/Artifique/Agrilend-Backend/internal/ledger"
	"github.com/Artifique/Agrilend-Backend/internal/notifications"
	"github.com/Artifique/Agrilend-Backend/internal/notifications/websocket"
	"github.com/Artifique/Agrilend-Backend/internal/settlement"
	"github.com/Artifique/Agrilend-Backend/internal/tokenization"
	"github.com/Artifique/Agrilend-Backend/pkg/pdf"
	"github.com/Artifique/Agrilend-Backend/pkg/security"
	"github.com/Artifique/Agrilend-Backend/pkg/storage"
)

// App holds the wired services shared by the API server and the workers
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *gorm.DB
	Registry *prometheus.Registry
	AWS      *AWSClients

	Gateway    ledger.Gateway
	Records    settlement.Repository
	Journal    *settlement.Journal
	Reconciler *settlement.Reconciler
	Exporter   *settlement.JournalExporter

	Accounts     *accounts.Service
	Catalog      *catalog.Service
	Tokenization *tokenization.Service
	Escrow       *escrow.Service

	Dispatcher *notifications.Dispatcher
	Sockets    *websocket.Manager
}

// NewLogger builds the process logger from the logging section
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

// Models lists every persisted type, in dependency order
func Models() []any {
	return []any{
		&accounts.User{},
		&catalog.Product{},
		&catalog.Offer{},
		&settlement.Record{},
		&tokenization.WarehouseReceipt{},
		&tokenization.HarvestToken{},
		&escrow.Order{},
	}
}

// New connects the database and the ledger and wires every pipeline
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	policy, err := escrow.PolicyFromConfig(cfg.Settlement)
	if err != nil {
		return nil, err
	}
	buyerMargin, err := decimal.NewFromString(cfg.Settlement.BuyerMargin)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement.buyer_margin: %w", err)
	}
	initialBalance, err := decimal.NewFromString(cfg.Ledger.InitialBalance)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger.initial_balance: %w", err)
	}
	vault, err := accounts.NewKeyVault(cfg.Security.KeyEncryptionKey)
	if err != nil {
		return nil, err
	}
	signer, err := security.NewSigner(cfg.Security.SignatureSecret)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, Models()...); err != nil {
			database.Close(db)
			return nil, err
		}
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		database.Close(db)
		return nil, err
	}
	clients := NewAWSClients(awsCfg, cfg.AWS)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rawGateway, err := ledger.New(cfg.Ledger, logger)
	if err != nil {
		database.Close(db)
		return nil, err
	}
	gateway := ledger.Instrument(ledger.WithTimeout(rawGateway, cfg.Ledger.RequestTimeout), ledger.NewMetrics(registry))
	logger.Info("Ledger gateway ready",
		zap.String("mode", string(gateway.Mode())),
		zap.String("network", cfg.Ledger.Network))

	tx := database.NewTransactor(db)
	records := settlement.NewGormRepository(db)
	journal := settlement.NewJournal(records, gateway.Mode(), logger)

	accountService := accounts.NewService(accounts.NewGormRepository(db), gateway, journal, tx, vault, initialBalance, logger)
	contacts := accounts.NewCachedDirectory(accountService, cfg.Notifications.ContactTTL)

	sockets := websocket.NewManager(nil, logger)
	senders := []notifications.Sender{sockets}
	if cfg.Notifications.EnableEmail {
		senders = append(senders, notifications.NewEmailSender(clients.SES, contacts, cfg.Notifications.FromAddress))
	}
	if cfg.Notifications.SNSTopicARN != "" {
		senders = append(senders, notifications.NewTopicPublisher(clients.SNS, cfg.Notifications.SNSTopicARN))
	}
	dispatcher := notifications.NewDispatcher(cfg.Notifications, senders, registry, logger)

	catalogRepo := catalog.NewGormRepository(db)
	catalogService := catalog.NewService(catalogRepo, tx, dispatcher, buyerMargin, logger)

	tokenService := tokenization.NewService(tokenization.Dependencies{
		Repo:         tokenization.NewGormRepository(db),
		Products:     catalogRepo,
		Accounts:     accountService,
		Gateway:      gateway,
		Journal:      journal,
		Tx:           tx,
		Signer:       signer,
		Certificates: pdf.NewGenerator(),
		Notifier:     dispatcher,
		Logger:       logger,
	})

	escrowService := escrow.NewService(escrow.Dependencies{
		Repo:     escrow.NewGormRepository(db),
		Offers:   catalogService,
		Accounts: accountService,
		Gateway:  gateway,
		Journal:  journal,
		Tx:       tx,
		Policy:   policy,
		Notifier: dispatcher,
		Logger:   logger,
	})

	reconciler := settlement.NewReconciler(records, journal, gateway, tx, cfg.Reconciliation, registry, logger)
	accountService.RegisterFinalizers(reconciler)
	tokenService.RegisterFinalizers(reconciler)
	escrowService.RegisterFinalizers(reconciler)

	var exporter *settlement.JournalExporter
	if cfg.Export.Bucket != "" {
		exporter = settlement.NewJournalExporter(records, storage.NewS3Store(clients.S3), cfg.Export.Bucket, cfg.Export.Prefix, logger)
	}

	return &App{
		Config:       cfg,
		Logger:       logger,
		DB:           db,
		Registry:     registry,
		AWS:          clients,
		Gateway:      gateway,
		Records:      records,
		Journal:      journal,
		Reconciler:   reconciler,
		Exporter:     exporter,
		Accounts:     accountService,
		Catalog:      catalogService,
		Tokenization: tokenService,
		Escrow:       escrowService,
		Dispatcher:   dispatcher,
		Sockets:      sockets,
	}, nil
}

// Start launches the background notification workers
func (a *App) Start() {
	a.Dispatcher.Start()
}

// Close drains notifications and releases the ledger client and the pool
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Dispatcher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("notification dispatcher: %w", err))
	}
	a.Sockets.Close()
	if err := a.Gateway.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ledger gateway: %w", err))
	}
	if err := database.Close(a.DB); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	return errors.Join(errs...)
}
