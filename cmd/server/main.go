// Package main is the entry point for the Coffer pooled-capital yield
// router. It pools deposits into shares, routes the capital into one
// yield venue at a time and keeps an exact, append-only record of every
// movement.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coffer/internal/access"
	"github.com/aristath/coffer/internal/config"
	"github.com/aristath/coffer/internal/database"
	"github.com/aristath/coffer/internal/decision"
	"github.com/aristath/coffer/internal/feed"
	"github.com/aristath/coffer/internal/ledger"
	"github.com/aristath/coffer/internal/rebalancing"
	"github.com/aristath/coffer/internal/reliability"
	"github.com/aristath/coffer/internal/scheduler"
	"github.com/aristath/coffer/internal/server"
	"github.com/aristath/coffer/internal/strategy"
	"github.com/aristath/coffer/pkg/logger"
)

// vaultID is the identity the ledger presents on every adapter call.
// Adapters reject calls from any other caller.
const vaultID = "coffer-vault"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Coffer")

	// Check for a staged restore BEFORE opening any database. A restore
	// swaps database files, which must never happen under a live
	// connection.
	restoreSvc := reliability.NewRestoreService(nil, cfg.DataDir, log)
	hasPendingRestore, err := restoreSvc.CheckPendingRestore()
	if err != nil {
		log.Error().Err(err).Msg("Failed to check for pending restore")
	}
	if hasPendingRestore {
		log.Warn().Msg("Pending restore detected, executing staged restore")
		if err := restoreSvc.ExecuteStagedRestore(); err != nil {
			log.Fatal().Err(err).Msg("Failed to execute staged restore")
		}
		log.Info().Msg("Restore completed, proceeding with normal startup")
	}

	// Databases. The ledger database holds the audit trail and gets the
	// maximum-safety profile; metrics and recommendations live in the
	// market database; job history and snapshots are ephemeral cache.
	ledgerDB := mustOpenDB(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	defer ledgerDB.Close()
	marketDB := mustOpenDB(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "market.db"),
		Profile: database.ProfileStandard,
		Name:    "market",
	})
	defer marketDB.Close()
	cacheDB := mustOpenDB(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	defer cacheDB.Close()

	roles := access.NewRoles(cfg.OwnerKey, cfg.AgentKey)

	ledgerRepo, err := ledger.NewRepository(ledgerDB.Conn())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ledger repository")
	}

	// Venue adapters. Built from configuration, then bound to the vault
	// once; persisted principals are recovered inside Initialize.
	principalStore := strategy.NewPrincipalStore(ledgerDB.Conn())
	registry, err := strategy.BuildRegistry(cfg.Venues, vaultID, roles, principalStore, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build venue registry")
	}
	for _, adapter := range registry.List() {
		if err := adapter.Initialize(vaultID, vaultID, cfg.BaseAsset); err != nil {
			log.Fatal().Err(err).Str("venue", adapter.StrategyName()).Msg("Failed to initialize adapter")
		}
	}

	led, err := ledger.New(ledger.Config{
		VaultID:       vaultID,
		BaseAsset:     cfg.BaseAsset,
		MinYieldClaim: cfg.MinYieldClaim,
		Roles:         roles,
		Repo:          ledgerRepo,
		Log:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ledger")
	}

	// Re-bind the persisted active venue from the previous process
	// lifetime. A venue that disappeared from configuration while
	// holding capital is a configuration error worth refusing to start
	// over.
	state, _, err := ledgerRepo.LoadState()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger state")
	}
	if state.ActiveAdapter != "" {
		adapter, err := registry.Get(state.ActiveAdapter)
		if err != nil {
			log.Fatal().Err(err).Str("venue", state.ActiveAdapter).Msg("Persisted active venue is not configured")
		}
		if err := led.RestoreStrategy(adapter); err != nil {
			log.Fatal().Err(err).Msg("Failed to restore active venue binding")
		}
		log.Info().Str("venue", state.ActiveAdapter).Msg("Restored active venue binding")
	}

	// Metrics feed. The websocket stream is optional; when configured it
	// front-runs the poll cycle with fresher numbers.
	metricsRepo := feed.NewMetricsRepository(marketDB.Conn())
	feedClient := feed.NewClient(cfg.FeedURL)
	var stream *feed.StreamClient
	if cfg.FeedStreamURL != "" {
		stream = feed.NewStreamClient(cfg.FeedStreamURL, log)
		if err := stream.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start metrics stream, falling back to polling")
			stream = nil
		}
	}
	feedService := feed.NewService(feedClient, stream, metricsRepo, log)

	decisionRepo := decision.NewRepository(marketDB.Conn())
	engine := decision.NewEngine(cfg.Scoring, log)

	rebalanceHistory := rebalancing.NewHistoryRepository(ledgerDB.Conn())
	coordinator := rebalancing.NewCoordinator(led, registry, roles, rebalanceHistory, log)

	// Off-site backups, when configured.
	var backupService *reliability.BackupService
	var backupRestoreService *reliability.RestoreService
	var snapshots *reliability.SnapshotStore
	if cfg.Backup.Enabled {
		r2Client, err := reliability.NewR2Client(context.Background(), reliability.R2Config{
			Endpoint:        cfg.Backup.Endpoint,
			AccessKeyID:     cfg.Backup.AccessKey,
			SecretAccessKey: cfg.Backup.SecretKey,
			Bucket:          cfg.Backup.Bucket,
			Region:          cfg.Backup.Region,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup storage client")
		}
		databases := map[string]*database.DB{
			"ledger": ledgerDB,
			"market": marketDB,
			"cache":  cacheDB,
		}
		backupService = reliability.NewBackupService(r2Client, databases, cfg.DataDir, log)
		backupRestoreService = reliability.NewRestoreService(r2Client, cfg.DataDir, log)
		snapshots = reliability.NewSnapshotStore(cacheDB.Conn())
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Off-site backups enabled")
	}

	// Background jobs.
	sched := scheduler.New(cacheDB.Conn(), log)

	collectionJob := scheduler.NewMetricsCollectionJob(feedService, log)
	if err := sched.AddJob(cfg.PollSchedule, collectionJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule metrics collection")
	}

	decisionJob := scheduler.NewDecisionCycleJob(scheduler.DecisionCycleConfig{
		FeedService:   feedService,
		Engine:        engine,
		Repo:          decisionRepo,
		Ledger:        led,
		Coordinator:   coordinator,
		AutoRebalance: cfg.AutoRebalance,
		AgentKey:      cfg.AgentKey,
		Log:           log,
	})
	if err := sched.AddJob(cfg.DecisionSchedule, decisionJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule decision cycle")
	}

	if backupService != nil {
		backupJob := scheduler.NewBackupJob(backupService, snapshots, led, cfg.Backup.Keep, log)
		if err := sched.AddJob(cfg.BackupSchedule, backupJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule backups")
		}
	}

	if cfg.EventRetentionDays > 0 {
		retentionJob := scheduler.NewRetentionJob(ledgerRepo, metricsRepo, cacheDB.Conn(), cfg.EventRetentionDays, log)
		if err := sched.AddJob(cfg.CleanupSchedule, retentionJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule retention cleanup")
		}
	}

	sched.Start()

	srv := server.New(server.Config{
		Log:              log,
		Config:           cfg,
		LedgerDB:         ledgerDB,
		MarketDB:         marketDB,
		CacheDB:          cacheDB,
		Ledger:           led,
		LedgerRepo:       ledgerRepo,
		Registry:         registry,
		Roles:            roles,
		Coordinator:      coordinator,
		RebalanceHistory: rebalanceHistory,
		DecisionRepo:     decisionRepo,
		Evaluator:        decisionJob,
		FeedService:      feedService,
		BackupService:    backupService,
		RestoreService:   backupRestoreService,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down server cleanly")
	}

	sched.Stop()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop metrics stream cleanly")
		}
	}

	log.Info().Msg("Shutdown complete")
}

// mustOpenDB opens a database and applies its schema, or exits.
func mustOpenDB(log zerolog.Logger, cfg database.Config) *database.DB {
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("database", cfg.Name).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Str("database", cfg.Name).Msg("Failed to migrate database")
	}
	return db
}
