// main assembles the cirvia identity service: stores, the resolver and reveal
// services, the audit pipeline, and the HTTP surface. Business logic lives in
// the internal feature packages.
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

	"cirvia/internal/identity"
	"cirvia/internal/identity/avatar"
	identityhandler "cirvia/internal/identity/handler"
	identitymetrics "cirvia/internal/identity/metrics"
	identityservice "cirvia/internal/identity/service"
	"cirvia/internal/notify"
	"cirvia/internal/platform/config"
	"cirvia/internal/platform/httpserver"
	jwttoken "cirvia/internal/platform/jwt"
	"cirvia/internal/platform/kafka"
	"cirvia/internal/platform/logger"
	"cirvia/internal/platform/postgres"
	platformredis "cirvia/internal/platform/redis"
	"cirvia/internal/reveal"
	"cirvia/internal/reveal/gateway"
	revealhandler "cirvia/internal/reveal/handler"
	revealmetrics "cirvia/internal/reveal/metrics"
	revealservice "cirvia/internal/reveal/service"
	httptransport "cirvia/internal/transport/http"
	"cirvia/pkg/domain"
	"cirvia/pkg/platform/audit"
	auditworker "cirvia/pkg/platform/audit/worker"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		profiles   identity.ProfileStore
		scopes     identity.ScopeStore
		chats      reveal.ChatStore
		revealRepo reveal.Store
	)
	health := make(map[string]httptransport.HealthChecker)

	if cfg.PostgresURL != "" {
		pool, err := postgres.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		profiles = identity.NewPostgresProfileStore(pool)
		scopes = identity.NewPostgresScopeStore(pool)
		chats = reveal.NewPostgresChatStore(pool)
		revealRepo = reveal.NewPostgresStore(pool)
		health["postgres"] = poolHealth{pool: pool}
	} else {
		log.Warn("POSTGRES_URL not set, using in-memory stores")
		profiles = identity.NewInMemoryProfileStore()
		scopes = identity.NewInMemoryScopeStore()
		chats = reveal.NewInMemoryChatStore()
		revealRepo = reveal.NewInMemoryStore()
	}

	var notifier notify.Notifier = notify.NewInMemoryNotifier()
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		notifier = notify.NewRedisNotifier(redisClient.Client, log)
		health["redis"] = redisClient
	}

	auditStore, stopAudit := buildAuditPipeline(ctx, cfg, log)
	defer stopAudit()
	auditPublisher := audit.NewPublisher(auditStore, audit.WithLogger(log))

	var signer identity.AvatarSigner
	if os.Getenv("AWS_REGION") != "" {
		s3Signer, err := avatar.NewS3Signer(ctx, cfg.AvatarBucket, cfg.AvatarTTL)
		if err != nil {
			log.Error("failed to build avatar signer", "error", err)
			os.Exit(1)
		}
		signer = s3Signer
	} else {
		log.Warn("AWS_REGION not set, serving unsigned avatar paths")
		signer = avatar.StaticSigner{BaseURL: "/avatars/"}
	}

	resolver := identityservice.New(profiles, scopes, signer,
		identityservice.WithLogger(log),
		identityservice.WithMetrics(identitymetrics.New()),
		identityservice.WithAuditPublisher(auditPublisher),
		identityservice.WithChatDirectory(chatDirectory{chats: chats}),
	)

	revealMetrics := revealmetrics.New()
	bus := gateway.New(
		gateway.WithLogger(log),
		gateway.WithMetrics(revealMetrics),
	)
	revealSvc := revealservice.New(chats, revealRepo, scopes, resolver,
		revealservice.WithLogger(log),
		revealservice.WithMetrics(revealMetrics),
		revealservice.WithAuditPublisher(auditPublisher),
		revealservice.WithNotifier(notifier),
		revealservice.WithEventBus(bus),
	)

	router := httptransport.NewRouter(httptransport.Deps{
		Identity:     identityhandler.New(resolver, log),
		Reveal:       revealhandler.New(revealSvc, revealhandler.NewStream(chats, bus, log), log),
		JWTValidator: jwttoken.NewValidator(cfg.JWTSigningKey),
		Logger:       log,
		Health:       health,
	})

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("starting cirvia server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// buildAuditPipeline returns the audit store the publisher writes to. With
// Kafka configured, events flow through a buffered channel worker into the
// producer; otherwise they land in an in-memory store.
func buildAuditPipeline(ctx context.Context, cfg config.Server, log *slog.Logger) (audit.Store, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		log.Warn("KAFKA_BROKERS not set, keeping audit events in memory")
		return audit.NewInMemoryStore(), func() {}
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.AuditTopic)
	if err != nil {
		log.Error("failed to build kafka producer", "error", err)
		os.Exit(1)
	}

	store, inbox := auditworker.NewChannel(1024)
	worker := auditworker.NewWorker(audit.NewKafkaStore(producer), inbox)
	workerCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()

	return store, func() {
		cancel()
		producer.Close()
	}
}

// chatDirectory adapts the chat store to the resolver's scope-listing context
// lookup.
type chatDirectory struct {
	chats reveal.ChatStore
}

func (d chatDirectory) Participants(ctx context.Context, chatID domain.ChatID) ([]domain.UserID, error) {
	chat, err := d.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return []domain.UserID{chat.ParticipantAID, chat.ParticipantBID}, nil
}

// poolHealth adapts a pgx pool to the router's health check.
type poolHealth struct {
	pool interface {
		Ping(ctx context.Context) error
	}
}

func (p poolHealth) Health(ctx context.Context) error { return p.pool.Ping(ctx) }
