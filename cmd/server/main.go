package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/payrollhq/entitlement-engine/internal/config"
	"github.com/payrollhq/entitlement-engine/internal/engine"
	httpserver "github.com/payrollhq/entitlement-engine/internal/interfaces/http"
	"github.com/payrollhq/entitlement-engine/internal/metrics"
	"github.com/payrollhq/entitlement-engine/internal/repository"
	"github.com/payrollhq/entitlement-engine/internal/service"
	"github.com/payrollhq/entitlement-engine/pkg/database"
	"github.com/payrollhq/entitlement-engine/pkg/utils"
)

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting expense entitlement engine",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Path))

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal("Failed to create data directory", zap.Error(err))
		}
	}

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	entitlementRepo := repository.NewEntitlementRepository(db, logger)
	claimRepo := repository.NewClaimRepository(db, logger)

	locks := engine.NewKeyLock()
	aggregator := engine.NewAggregator(entitlementRepo, claimRepo)
	validator := engine.NewValidator(entitlementRepo, aggregator, cfg.Engine.AnnualClaimLimit)
	committer := engine.NewCommitter(validator, claimRepo, locks, cfg.Engine.MaxCommitRetries, logger)

	registry := prometheus.NewRegistry()
	engineMetrics := metrics.New(registry)

	authorizer := service.NewStaticAuthorizer(cfg.Engine.OverrideApprovers)
	sugar := logger.Sugar()
	expenseService := service.NewExpenseService(
		validator,
		committer,
		entitlementRepo,
		claimRepo,
		locks,
		authorizer,
		engineMetrics,
		sugaredLogger{sugar},
	)

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, expenseService, registry, sugaredLogger{sugar})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutdown signal received")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited")
}

// sugaredLogger adapts zap's sugared logger to the narrow Logger interfaces
// the service and HTTP layers depend on.
type sugaredLogger struct {
	sugar *zap.SugaredLogger
}

func (l sugaredLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l sugaredLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}
