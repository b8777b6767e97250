package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"clearhaven/redemption-platform/redemption-backend/internal/config"
	"clearhaven/redemption-platform/redemption-backend/internal/notifications"
	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
	"clearhaven/redemption-platform/redemption-backend/internal/settlement"
	"clearhaven/redemption-platform/redemption-backend/internal/settlement/ledger"
	"clearhaven/redemption-platform/redemption-backend/internal/window"
	"clearhaven/redemption-platform/redemption-backend/pkg/pricing"
)

// The worker owns the scheduled maintenance passes: opening and closing
// redemption windows on their boundaries, and reconciling settlements whose
// ledger legs went stale.
func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	exec, err := buildExecutor(cfg)
	if err != nil {
		logger.Fatal("Failed to build ledger executor", zap.Error(err))
	}

	notifier := notifications.NewLogSink(logger)
	requestRepo := redemption.NewRepository(db)
	settlementRepo := settlement.NewRepository(db)
	windowRepo := window.NewRepository(db)
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

	reconciler := settlement.NewReconciler(settlementRepo, exec, orchestrator, logger)
	reconciler.PendingTimeout = cfg.Settlement.PendingTimeout

	scheduler := window.NewScheduler(windowRepo, requestRepo, orchestrator, oracle, notifier, logger)
	scheduler.ProcessingSLA = cfg.Windows.ProcessingSLA

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := cron.New()
	if _, err := c.AddFunc(everySchedule(cfg.Windows.SweepInterval), func() {
		scheduler.Sweep(ctx)
	}); err != nil {
		logger.Fatal("Failed to schedule window sweep", zap.Error(err))
	}
	if _, err := c.AddFunc(everySchedule(cfg.Settlement.ReconcileInterval), func() {
		if err := reconciler.Sweep(ctx); err != nil {
			logger.Error("settlement reconciliation failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("Failed to schedule settlement reconciliation", zap.Error(err))
	}

	c.Start()
	logger.Info("Worker started",
		zap.Duration("window_sweep_interval", cfg.Windows.SweepInterval),
		zap.Duration("reconcile_interval", cfg.Settlement.ReconcileInterval))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received")
	cancel()
	<-c.Stop().Done()
	logger.Info("Worker stopped")
}

func everySchedule(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
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
