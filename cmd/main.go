package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mongomirror/internal/migration/adapter/persistence"
	"mongomirror/internal/migration/adapter/persistence/checkpointfile"
	"mongomirror/internal/migration/adapter/persistence/mongodb"
	"mongomirror/internal/migration/adapter/persistence/sink"
	"mongomirror/internal/migration/config"
	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/migration/usecase"
	"mongomirror/internal/shared/database"
	"mongomirror/internal/shared/eventbus"
	"mongomirror/internal/shared/logger"
	"mongomirror/internal/shared/utils"
)

func usageAndExit() {
	fmt.Fprintln(os.Stderr, "usage: mongomirror [migrate|cdc|update|verify]")
	os.Exit(2)
}

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	mode := "migrate"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	switch mode {
	case "migrate", "cdc", "update", "verify":
	default:
		usageAndExit()
	}

	appLogger := logger.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		appLogger.Errorf("Failed to load configuration: %v", err)
		os.Exit(2)
	}

	specs, err := config.LoadCollections(cfg.CollectionsFile)
	if err != nil {
		appLogger.Errorf("Failed to load collections: %v", err)
		os.Exit(2)
	}
	appLogger.Infof("Loaded %d collections from %s", len(specs), cfg.CollectionsFile)

	// Cancel the run on SIGINT/SIGTERM; workers commit final checkpoints on
	// the way out.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = utils.WithMode(ctx, mode)
	ctx = utils.WithRunID(ctx, uuid.NewString())
	appLogger = appLogger.WithContext(ctx)

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sourceClient, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.SourceURI))
	if err != nil {
		appLogger.Fatalf("Failed to connect to source: %v", err)
	}
	targetClient, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.TargetURI))
	if err != nil {
		appLogger.Fatalf("Failed to connect to target: %v", err)
	}

	conns := database.NewConnections(sourceClient, targetClient, appLogger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := conns.Close(closeCtx); err != nil {
			appLogger.Errorf("Failed to close connections: %v", err)
		}
	}()

	if err := conns.Validate(ctx); err != nil {
		appLogger.Fatalf("Connection validation failed: %v", err)
	}
	appLogger.Info("Source and target connections validated")

	checkpoints, err := checkpointfile.NewStore(cfg.CheckpointDir, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to initialize checkpoint store: %v", err)
	}
	failedDocs, err := sink.NewFileSink(cfg.FailedDocDir, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to initialize failed-document sink: %v", err)
	}

	bus := eventbus.NewEventBus(appLogger)

	// External progress monitoring is optional; the engine runs the same
	// without it.
	if cfg.RedisAddr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		persistence.NewRedisProgressStore(redisClient, cfg.RedisProgressStream, appLogger).Attach(bus)
		appLogger.Infof("Publishing progress snapshots to Redis stream %s", cfg.RedisProgressStream)
	}

	progress := usecase.NewProgressAggregator(bus)
	retry := usecase.NewRetryPolicy(cfg.RetryLimit, cfg.RetryBaseDelay, cfg.RetryMultiplier, cfg.RetryMaxDelay)

	source := mongodb.NewSourceReader(conns, appLogger)
	target := mongodb.NewTargetWriter(conns, appLogger)

	applier := usecase.NewApplier(target, failedDocs, retry, progress, appLogger)
	verifier := usecase.NewVerifier(source, target, retry, cfg.BatchSize, cfg.VerifySampleSize, appLogger)
	copier := usecase.NewCopier(source, target, checkpoints, failedDocs, retry, progress, bus, cfg.BatchSize, cfg.VerifySampleSize, appLogger)
	worker := usecase.NewCaptureWorker(source, checkpoints, applier, verifier, retry, progress, bus, usecase.CaptureOptions{
		PollingInterval:      cfg.PollingInterval,
		CommitInterval:       cfg.StreamCommitInterval,
		MaxRestarts:          cfg.MaxWorkerRestarts,
		BatchSize:            cfg.BatchSize,
		DeletionSampleSize:   cfg.DeletionSampleSize,
		DeletionSampleForced: cfg.DeletionSampleForced,
		ForceRefresh:         cfg.ForceRefresh,
	}, appLogger)
	pool := usecase.NewCapturePool(worker, cfg.WorkerCount(len(specs)), cfg.ShutdownGrace, appLogger)
	engine := usecase.NewEngine(specs, copier, worker, pool, verifier, progress, bus, cfg.Concurrency, appLogger)

	appLogger.Infof("Starting %s run over %d collections", mode, len(specs))

	var runErr error
	switch mode {
	case "migrate":
		runErr = engine.Migrate(ctx)
	case "cdc":
		runErr = engine.Capture(ctx)
	case "update":
		runErr = engine.Update(ctx)
	case "verify":
		var results []model.VerificationResult
		results, runErr = engine.Verify(ctx, cfg.VerificationMode())
		for _, r := range results {
			appLogger.Infof("Verification %s: collection=%s source=%d target=%d checked=%d mismatched=%d missing=%d extra=%d indexes_match=%t",
				r.Status, r.CollectionID, r.SourceCount, r.TargetCount, r.CheckedDocs,
				len(r.MismatchedIDs), len(r.MissingIDs), len(r.ExtraIDs), r.IndexesMatch)
		}
	}

	if runErr != nil && ctx.Err() == nil {
		appLogger.Errorf("Run finished with errors: %v", runErr)
		os.Exit(1)
	}
	appLogger.Infof("Run finished: %s", mode)
}
