package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"messenger/internal/broker/kafka"
	"messenger/internal/config"
	ginserver "messenger/internal/http/gin"
	"messenger/internal/intent"
	intentmemory "messenger/internal/intent/memory"
	intentmongo "messenger/internal/intent/mongo"
	"messenger/internal/messenger"
	"messenger/internal/obs"
	"messenger/internal/reconcile"
	"messenger/internal/store"
	storememory "messenger/internal/store/memory"
	"messenger/internal/store/scylla"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	st, cleanup, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	intents, intentCleanup, err := buildIntentLog(ctx, cfg, logger)
	if err != nil {
		logger.Error("intent log init failed", "error", err)
		os.Exit(1)
	}
	defer intentCleanup()

	queue, queueCleanup, err := buildOperatorQueue(cfg, logger)
	if err != nil {
		logger.Error("operator queue init failed", "error", err)
		os.Exit(1)
	}
	defer queueCleanup()

	svc := messenger.NewService(st, intents, logger)
	svc.IntentGrace = cfg.ReconcileGrace

	worker := &reconcile.Worker{
		Intents:     intents,
		Store:       st,
		Repair:      svc,
		Queue:       queue,
		Logger:      logger,
		Interval:    cfg.ReconcilePollInterval,
		Backoff:     cfg.RetryBackoff,
		MaxAttempts: cfg.ReconcileMaxAttempts,
	}
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reconcile worker stopped", "error", err)
		}
	}()

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return st.Ping(pingCtx)
		},
	}, ginserver.Handlers{
		Messages: ginserver.MessageHandler{Service: svc, Logger: logger},
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("messenger starting", "addr", cfg.HTTPAddr, "env", cfg.Env, "store", cfg.StoreMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("messenger stopped")
}

func buildStore(cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.StoreMode == "memory" {
		logger.Warn("using in-memory store, data will not survive restarts")
		return storememory.NewStore(), func() {}, nil
	}
	session, err := scylla.NewSession(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return scylla.NewStore(session, logger), session.Close, nil
}

func buildIntentLog(ctx context.Context, cfg config.Config, logger *slog.Logger) (intent.Log, func(), error) {
	if cfg.MongoURI == "" {
		logger.Warn("MONGO_URI not set, intent log is in-memory and will not survive restarts")
		return intentmemory.NewLog(), func() {}, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	logger.Info("mongo connected", "db", cfg.MongoDB)
	cleanup := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}
	return intentmongo.NewLog(client.Database(cfg.MongoDB)), cleanup, nil
}

func buildOperatorQueue(cfg config.Config, logger *slog.Logger) (reconcile.OperatorQueue, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set, exhausted intents go to the log only")
		return reconcile.LogQueue{Logger: logger}, func() {}, nil
	}
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("kafka connected", "brokers", cfg.KafkaBrokers)
	cleanup := func() { _ = producer.Close() }
	return kafka.OperatorQueue{Producer: producer, TopicPrefix: cfg.KafkaTopicPrefix}, cleanup, nil
}
