package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/taesoo1298/coupon-indexer/app"
	"github.com/taesoo1298/coupon-indexer/internal/dispatcher"
	"github.com/taesoo1298/coupon-indexer/internal/fanout"
	"github.com/taesoo1298/coupon-indexer/internal/handler"
	"github.com/taesoo1298/coupon-indexer/internal/indexer"
	"github.com/taesoo1298/coupon-indexer/internal/monitor"
	"github.com/taesoo1298/coupon-indexer/internal/repo"
	"github.com/taesoo1298/coupon-indexer/internal/repo/ledger"
	"github.com/taesoo1298/coupon-indexer/internal/resync"
	"github.com/taesoo1298/coupon-indexer/lib/kafka"
	"github.com/taesoo1298/coupon-indexer/lib/redis"
	"github.com/taesoo1298/coupon-indexer/router"

	"github.com/sirupsen/logrus"
)

func main() {
	app.Setup()

	if err := redis.Setup(redis.Options{
		Addr:     app.Redis.Addr,
		Password: app.Redis.Password,
		IndexDB:  app.Redis.IndexDB,
		PubSubDB: app.Redis.PubSubDB,
	}); err != nil {
		logrus.WithError(err).Fatal("Redis setup failed")
	}
	defer redis.Close()

	kafka.Setup(app.Kafka.Brokers, app.Kafka.GroupID)
	if kafka.Enabled() {
		if err := kafka.CreateTopic(app.Indexer.EventTopic, 3, 1); err != nil {
			logrus.WithError(err).Warn("Failed to create event topic")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := app.Database.DB

	// Data access
	entities := repo.NewEntities(db)
	events := ledger.NewRepo(db, app.Indexer.MaxRetries)

	var enqueuer ledger.Enqueuer
	if kafka.Enabled() {
		enqueuer = kafka.NewProducer()
	}
	eventLogger := ledger.NewLogger(events, enqueuer, app.Indexer.EventTopic)

	// Index engine
	keys := indexer.NewKeys(app.Indexer.KeyPrefix)
	store := indexer.NewStore(redis.Index, app.Indexer.IndexTTL)
	engine := indexer.NewEngine(store, keys, indexer.NewDBStatusRecorder(db))
	queries := indexer.NewQueries(store, keys)

	// Fanout
	pubsub := fanout.New(redis.PubSub, fanout.DefaultConfig(app.Indexer.EventChannel))

	// Dispatch pipeline
	disp := dispatcher.New(events, entities, engine, pubsub, dispatcher.Config{
		Retry:            dispatcher.RetryPolicy{MaxAttempts: app.Indexer.RetryAttempts, Delay: app.Indexer.RetryDelay},
		ReindexChunkSize: app.Indexer.SyncChunkSize,
		ProcessTimeout:   dispatcher.DefaultConfig().ProcessTimeout,
	})
	runner := dispatcher.NewRunner(disp, events, app.Indexer.PollInterval, app.Indexer.PollBatchSize)

	if kafka.Enabled() {
		consumer := runner.NewConsumer(app.Kafka.GroupID, app.Indexer.EventTopic, 4)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Error("Kafka consumer stopped")
			}
		}()
		defer consumer.Close()
	}
	go func() {
		if err := runner.RunPoller(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("Event poller stopped")
		}
	}()

	// Maintenance and monitoring
	resyncer := resync.New(entities, engine)
	cleaner := resync.NewCleaner(db, events, entities, engine, resync.CleanupConfig{
		EventRetention:  app.Indexer.EventRetention,
		TerminalAge:     resync.DefaultCleanupConfig().TerminalAge,
		TerminalBatch:   resync.DefaultCleanupConfig().TerminalBatch,
		StatusRetention: app.Indexer.EventRetention,
	})
	mon := monitor.New(entities, events, store, keys, resyncer, app.Indexer.SampleSize)
	health := monitor.NewHealth(db, entities, store, events, entities, monitor.DefaultHealthThresholds())

	router.Setup(
		handler.NewQuery(queries),
		handler.NewEvents(eventLogger, events),
		handler.NewAdmin(events, resyncer, cleaner, mon, health, pubsub),
	)
}
