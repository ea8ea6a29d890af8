package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/freightdeck/pulse/internal/channels"
	"github.com/freightdeck/pulse/internal/config"
	"github.com/freightdeck/pulse/internal/consumer"
	"github.com/freightdeck/pulse/internal/dedup"
	"github.com/freightdeck/pulse/internal/dispatch"
	"github.com/freightdeck/pulse/internal/evaluator"
	"github.com/freightdeck/pulse/internal/execution"
	"github.com/freightdeck/pulse/internal/metrics"
	"github.com/freightdeck/pulse/internal/orchestrator"
	"github.com/freightdeck/pulse/internal/prefs"
	"github.com/freightdeck/pulse/internal/proactive"
	"github.com/freightdeck/pulse/internal/producer"
	"github.com/freightdeck/pulse/internal/quiethours"
	"github.com/freightdeck/pulse/internal/rules"
)

const serviceName = "pulse-engine"

func main() {
	cfg := &config.Config{}
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", config.EnvOr("KAFKA_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&cfg.EventsTopic, "events-topic", config.EnvOr("EVENTS_TOPIC", "events.domain"), "Kafka topic for incoming domain events")
	flag.StringVar(&cfg.AuditTopic, "audit-topic", config.EnvOr("AUDIT_TOPIC", "engine.audit"), "Kafka topic for the execution record stream")
	flag.StringVar(&cfg.ConsumerGroupID, "consumer-group-id", config.EnvOr("CONSUMER_GROUP_ID", "pulse-engine-group"), "Kafka consumer group ID")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", config.EnvOr("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", os.Getenv("POSTGRES_DSN"), "Postgres DSN for the rule store (empty runs in-memory)")
	flag.DurationVar(&cfg.DebounceWindow, "debounce-window", 5*time.Minute, "Dedup debounce window")
	flag.DurationVar(&cfg.ScanInterval, "scan-interval", time.Minute, "Schedule trigger scan interval")
	flag.DurationVar(&cfg.QuietFlushInterval, "quiet-flush-interval", 30*time.Second, "Quiet hours flush scan interval")
	flag.DurationVar(&cfg.WebhookTimeout, "webhook-timeout", 30*time.Second, "Per-call webhook timeout")
	flag.DurationVar(&cfg.ProactiveInterval, "proactive-interval", 15*time.Minute, "Proactive alert generation interval")
	flag.IntVar(&cfg.ProactiveMinConfidence, "proactive-min-confidence", 60, "Minimum confidence for generated alerts")
	flag.DurationVar(&cfg.ProactiveAlertTTL, "proactive-alert-ttl", 72*time.Hour, "Proactive alert lifetime (0 = no expiry)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	slog.Info("Starting engine",
		"kafka_brokers", cfg.KafkaBrokers,
		"events_topic", cfg.EventsTopic,
		"audit_topic", cfg.AuditTopic,
		"redis_addr", cfg.RedisAddr,
		"postgres_dsn", config.MaskDSN(cfg.PostgresDSN),
		"debounce_window", cfg.DebounceWindow,
		"scan_interval", cfg.ScanInterval,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	redisClient, err := config.DialRedis(ctx, cfg.RedisAddr)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("Connected to Redis")

	var ruleStore rules.Store
	if cfg.PostgresDSN != "" {
		pgStore, err := rules.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			slog.Error("Failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		ruleStore = pgStore
		slog.Info("Connected to Postgres rule store")
	} else {
		ruleStore = rules.NewMemoryStore()
		slog.Warn("No Postgres DSN configured, running in-memory rule store")
	}
	defer ruleStore.Close()

	eventConsumer, err := consumer.NewConsumer(cfg.KafkaBrokers, cfg.EventsTopic, cfg.ConsumerGroupID)
	if err != nil {
		slog.Error("Failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}
	defer eventConsumer.Close()

	auditProducer, err := producer.NewProducer(cfg.KafkaBrokers, cfg.AuditTopic)
	if err != nil {
		slog.Error("Failed to create Kafka producer", "error", err)
		os.Exit(1)
	}
	defer auditProducer.Close()

	collector := metrics.NewCollector(serviceName, redisClient)
	collector.Start(ctx)
	defer collector.Stop()

	prefStore := prefs.NewMemoryStore()

	// External transports register here; in_app is the built-in channel.
	registry := channels.NewRegistry()
	registry.Register(channels.NewMemorySender("in_app"))

	queue := quiethours.NewQueue()
	acks := dispatch.NewAckChecker()
	dispatcher := dispatch.NewDispatcher(
		prefStore,
		registry,
		queue,
		dispatch.NewWebhook(cfg.WebhookTimeout),
		dispatch.NewMemoryUpdater(),
		acks,
		collector,
	)
	dispatcher.SetAudit(auditProducer)
	flusher := quiethours.NewFlusher(queue, cfg.QuietFlushInterval, dispatcher.DeliverFlushed)

	orch := orchestrator.New(orchestrator.Config{
		Rules:      ruleStore,
		Evaluator:  evaluator.NewEvaluator(evaluator.NewBehaviorTracker(24 * time.Hour)),
		Leaser:     dedup.NewRedisLeaser(redisClient),
		Window:     cfg.DebounceWindow,
		Records:    execution.NewMemoryStore(),
		Dispatcher: dispatcher,
		Acks:       acks,
		Prefs:      prefStore,
		Audit:      auditProducer,
		Metrics:    collector,
	})

	feed := proactive.NewFeed(auditProducer, collector)
	generator := proactive.NewGenerator(nil, &proactive.StaticScorer{
		Confidence: cfg.ProactiveMinConfidence,
		ImpactVal:  proactive.ImpactMedium,
	}, feed, cfg.ProactiveMinConfidence, cfg.ProactiveAlertTTL)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.RunScans(ctx, cfg.ScanInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		flusher.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		generator.Run(ctx, cfg.ProactiveInterval)
	}()

	if err := orch.Run(ctx, eventConsumer); err != nil {
		slog.Error("Event processing stopped with error", "error", err)
	}

	cancel()
	wg.Wait()
	orch.Wait()
	slog.Info("Engine stopped")
}
