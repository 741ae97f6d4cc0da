package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/app"
	"github.com/Artifique/Agrilend-Backend/internal/auth"
	"github.com/Artifique/Agrilend-Backend/internal/catalog"
	"github.com/Artifique/Agrilend-Backend/internal/config"
	"github.com/Artifique/Agrilend-Backend/internal/escrow"
	"github.com/Artifique/Agrilend-Backend/internal/middleware"
	"github.com/Artifique/Agrilend-Backend/internal/settlement"
	"github.com/Artifique/Agrilend-Backend/internal/tokenization"
)

func main() {
	// .env is optional outside local development
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	application.Start()

	verifier, err := auth.NewVerifier(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)
	if err != nil {
		logger.Fatal("Failed to initialize token verifier", zap.Error(err))
	}
	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimit, logger)
	if err != nil {
		logger.Fatal("Failed to initialize rate limiter", zap.Error(err))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.CORS())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"ledger_mode": application.Gateway.Mode(),
			"timestamp":   time.Now(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(application.Registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1", auth.Middleware(verifier, logger))
	{
		auth.NewHandler().RegisterRoutes(api)
		catalog.NewHandler(application.Catalog).RegisterRoutes(api)
		tokenization.NewHandler(application.Tokenization).RegisterRoutes(api)
		escrow.NewHandler(application.Escrow, rateLimiter.Limit("orders")).RegisterRoutes(api)
		settlement.NewHandler(application.Journal, application.Reconciler).RegisterRoutes(api)
		api.GET("/ws/notifications", application.Sockets.Serve)
	}

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", srv.Addr),
		zap.String("ledger_mode", string(application.Gateway.Mode())))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := rateLimiter.Close(shutdownCtx); err != nil {
		logger.Warn("Failed to close rate limiter", zap.Error(err))
	}
	if err := application.Close(shutdownCtx); err != nil {
		logger.Error("Failed to release resources", zap.Error(err))
	}

	logger.Info("Server exiting")
}
