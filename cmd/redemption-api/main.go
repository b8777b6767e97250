package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"clearhaven/redemption-platform/redemption-backend/internal/auth"
	"clearhaven/redemption-platform/redemption-backend/internal/config"
	"clearhaven/redemption-platform/redemption-backend/internal/consensus"
	"clearhaven/redemption-platform/redemption-backend/internal/notifications"
	"clearhaven/redemption-platform/redemption-backend/internal/notifications/websocket"
	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
	"clearhaven/redemption-platform/redemption-backend/internal/reports"
	"clearhaven/redemption-platform/redemption-backend/internal/settlement"
	"clearhaven/redemption-platform/redemption-backend/internal/settlement/ledger"
	"clearhaven/redemption-platform/redemption-backend/internal/window"
	"clearhaven/redemption-platform/redemption-backend/pkg/pricing"
	"clearhaven/redemption-platform/redemption-backend/pkg/security"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Logging.Level)
	defer logger.Sync()

	// gorm connection for the domain packages
	db, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(
		&redemption.RedemptionRequest{},
		&redemption.ApprovalConfig{},
		&redemption.ApproverAssignment{},
		&redemption.Distribution{},
		&redemption.DistributionRedemption{},
		&redemption.AuditEntry{},
		&window.RedemptionWindow{},
		&settlement.Settlement{},
		&auth.RoleGrant{},
	); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// sqlx connection for the reporting read model
	reportDB, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("Failed to connect reporting database", zap.Error(err))
	}
	defer reportDB.Close()

	exec, err := buildExecutor(cfg)
	if err != nil {
		logger.Fatal("Failed to build ledger executor", zap.Error(err))
	}

	wsManager := websocket.NewManager(logger)
	defer wsManager.Close()
	notifier := notifications.MultiSink{notifications.NewLogSink(logger), wsManager}

	requestRepo := redemption.NewRepository(db)
	settlementRepo := settlement.NewRepository(db)
	windowRepo := window.NewRepository(db)
	directory := auth.NewDirectory(db)
	oracle := pricing.NewManualOracle()

	orchestrator := settlement.NewOrchestrator(settlementRepo, requestRepo, exec, settlement.Config{
		Retry: settlement.RetryPolicy{
			MaxAttempts: cfg.Settlement.MaxAttempts,
			Backoff:     settlement.ExponentialBackoff(cfg.Settlement.BackoffBase, cfg.Settlement.BackoffCap),
		},
		ConfirmPollInterval: cfg.Settlement.ConfirmPollInterval,
		ConfirmTimeout:      cfg.Settlement.ConfirmTimeout,
		SettlementCurrency:  cfg.Settlement.SettlementCurrency,
	}, notifier, logger)

	engine := consensus.NewEngine(requestRepo, directory, orchestrator, notifier, logger)
	scheduler := window.NewScheduler(windowRepo, requestRepo, orchestrator, oracle, notifier, logger)
	scheduler.ProcessingSLA = cfg.Windows.ProcessingSLA
	service := redemption.NewService(requestRepo, scheduler, engine, notifier, logger)

	reportsService := reports.NewService(reports.NewPostgresRepository(reportDB), logger)

	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})
	router.GET("/ws", func(c *gin.Context) {
		if _, err := wsManager.HandleConnection(c.Writer, c.Request); err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
		}
	})

	api := router.Group("/api/v1", auth.Middleware(cfg.Auth.JWTSecret))
	{
		redemption.NewHandler(service).RegisterRoutes(api)
		consensus.NewHandler(engine, security.NewSigner(cfg.Auth.JWTSecret)).RegisterRoutes(api)
		window.NewHandler(scheduler, windowRepo).RegisterRoutes(api)
		settlement.NewHandler(settlementRepo, orchestrator).RegisterRoutes(api)
		reports.NewHandler(reportsService).RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()
	logger.Info("Server started", zap.String("addr", srv.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exiting")
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zcfg.Level = lvl
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func buildExecutor(cfg *config.Config) (ledger.Executor, error) {
	if cfg.Ledger.Mode != "stellar" {
		return ledger.NewMemoryExecutor(), nil
	}
	return ledger.NewStellarExecutor(&ledger.StellarConfig{
		HorizonURL:        cfg.Ledger.HorizonURL,
		OperatorSecretKey: cfg.Ledger.OperatorSecretKey,
		Network:           cfg.Ledger.Network,
		IssuerAddress:     cfg.Ledger.IssuerAddress,
		SettlementAsset:   cfg.Ledger.SettlementAsset,
		SettlementIssuer:  cfg.Ledger.SettlementIssuer,
	})
}
