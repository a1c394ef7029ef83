package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"docdigitizer/internal/api"
	"docdigitizer/internal/blob"
	"docdigitizer/internal/config"
	"docdigitizer/internal/events"
	"docdigitizer/internal/extraction"
	"docdigitizer/internal/logging"
	"docdigitizer/internal/queue"
	"docdigitizer/internal/redis"
	"docdigitizer/internal/service/ingest"
	"docdigitizer/internal/service/orchestrator"
	"docdigitizer/internal/service/query"
	"docdigitizer/internal/storage"
	"docdigitizer/internal/worker"
)

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]api.HealthCheck{}
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	store, err := openStore(ctx, cfg, checks, &closers)
	if err != nil {
		return err
	}
	blobs, err := openBlobs(ctx, cfg, &closers)
	if err != nil {
		return err
	}

	var (
		broker   queue.Broker
		notifier events.Notifier
	)
	switch cfg.Queue.Backend {
	case "redis":
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		closers = append(closers, func() { rdb.Close() })
		checks["redis"] = rdb.Ping
		broker = queue.NewRedisBroker(rdb, queue.RedisBrokerOptions{
			KeyPrefix:    cfg.Queue.KeyPrefix,
			StatusTTL:    time.Duration(cfg.Queue.StatusTTLMinutes) * time.Minute,
			BlockTimeout: time.Duration(cfg.Queue.BlockTimeoutSecond) * time.Second,
		})
		notifier = events.NewRedisNotifier(rdb, cfg.Queue.KeyPrefix, logger)
	default:
		mem := queue.NewMemoryBroker(cfg.Workers.QueueSize)
		closers = append(closers, func() { mem.Close() })
		broker = mem
		notifier = events.NewHub()
	}
	logger.Info("backends ready",
		zap.String("store", cfg.Store.Backend),
		zap.String("blobs", cfg.Blobs.Backend),
		zap.String("queue", cfg.Queue.Backend),
		zap.String("engine", cfg.Engine.Provider))

	engine, err := extraction.New(ctx, cfg.Engine)
	if err != nil {
		return fmt.Errorf("init extraction engine: %w", err)
	}
	orch := orchestrator.New(store, blobs, engine, notifier, time.Duration(cfg.Engine.TimeoutSeconds)*time.Second, logger)

	manager := worker.NewManager(broker, orch, worker.DispatcherConfig{
		MinWorkers:        cfg.Workers.MinWorkers,
		MaxWorkers:        cfg.Workers.MaxWorkers,
		QueueSize:         cfg.Workers.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.Workers.WorkerIdleTimeout) * time.Minute,
		TaskTimeout:       time.Duration(cfg.Workers.TaskTimeout) * time.Minute,
	}, logger)
	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		if err := manager.Run(ctx); err != nil {
			logger.Error("task consumer stopped", zap.Error(err))
		}
	}()

	handler := api.NewHandler(
		ingest.NewService(store, blobs, manager, cfg.Ingest, logger),
		query.NewService(store, blobs, logger),
		manager,
		notifier,
		cfg.Server,
		logger,
	)
	for name, check := range checks {
		handler.AddHealthCheck(name, check)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(logging.Middleware(logger), gin.Recovery())
	handler.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.Server.Address, Handler: router}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", cfg.Server.Address))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			stop()
			<-consumeDone
			manager.Close()
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-consumeDone
	manager.Close()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, checks map[string]api.HealthCheck, closers *[]func()) (storage.DocumentStore, error) {
	switch cfg.Store.Backend {
	case "firestore":
		client, err := storage.NewFirestoreClient(ctx, cfg.Store.FirestoreProject)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { client.Close() })
		return storage.NewFirestoreStore(client, cfg.Store.FirestoreCollection), nil
	default:
		db, err := storage.Open(cfg.Store.Driver, cfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		*closers = append(*closers, func() { db.Close() })
		if err := storage.Migrate(db, cfg.Store.Driver); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		checks["store"] = db.PingContext
		return storage.NewSQLStore(db), nil
	}
}

func openBlobs(ctx context.Context, cfg *config.Config, closers *[]func()) (blob.Store, error) {
	switch cfg.Blobs.Backend {
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		*closers = append(*closers, func() { client.Close() })
		return blob.NewGCSStore(client, cfg.Blobs.Bucket, cfg.Blobs.Prefix), nil
	default:
		return blob.NewDiskStore(cfg.Blobs.BaseDir)
	}
}
