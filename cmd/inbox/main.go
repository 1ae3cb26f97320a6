package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"crm-inbox/config"
	"crm-inbox/internal/adapters/whatsapp"
	"crm-inbox/internal/cache"
	"crm-inbox/internal/db"
	"crm-inbox/internal/events"
	"crm-inbox/internal/handlers"
	"crm-inbox/internal/identity"
	"crm-inbox/internal/media"
	"crm-inbox/internal/phone"
	"crm-inbox/internal/poller"
	"crm-inbox/internal/services"
	"crm-inbox/internal/store"
	"crm-inbox/pkg/logger"
)

func main() {
	logger.InitLogger()

	log.Info().Msg("Loading configuration...")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Configure(cfg.LogFormat, cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := store.Open(ctx, cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to hosted database")
	}
	defer sqlDB.Close()

	auditDB, err := db.Open(cfg.AuditDatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audit database")
	}
	audit := db.NewAuditStore(auditDB)

	var backend cache.Store
	switch cfg.CacheBackend {
	case "redis":
		redisStore, err := cache.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisStore.Close()
		backend = redisStore
	default:
		backend = cache.NewMemoryStore(2*cfg.CacheFreshness, cfg.CacheFreshness)
	}
	sessionCache := cache.New(backend,
		cache.WithNamespace("crm_inbox"),
		cache.WithFreshness(cfg.CacheFreshness),
	)

	var sinks []events.Sink
	if cfg.RabbitMQURL != "" {
		publisher, err := events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueuePrefix)
		if err != nil {
			log.Error().Err(err).Msg("RabbitMQ unavailable, events will not be published")
		} else {
			defer publisher.Close()
			sinks = append(sinks, publisher)
		}
	}
	dispatcher := events.NewDispatcher(sinks)
	defer dispatcher.Stop()

	resolver := identity.NewResolver(phone.NewNormalizer(cfg.CountryPrefix))

	inbox, err := services.NewInboxService(services.InboxDeps{
		Store:    store.NewSQLStore(sqlDB),
		Cache:    sessionCache,
		Resolver: resolver,
		Poll: poller.Config{
			ListInterval: cfg.ListPollInterval,
			OpenInterval: cfg.OpenPollInterval,
			SettleDelay:  cfg.PollSettleDelay,
			FetchTimeout: cfg.PollFetchTimeout,
			WindowTick:   cfg.WindowTickInterval,
		},
		Audit:  audit,
		Events: dispatcher,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize InboxService")
	}

	waClient, err := whatsapp.NewClient(cfg.WhatsAppBaseURL, cfg.WhatsAppToken, cfg.WhatsAppTimeout, cfg.WhatsAppRetries)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize WhatsApp API client")
	}

	var uploader services.MediaUploader
	if cfg.S3Enabled() {
		s3Uploader, err := media.NewS3Uploader(media.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 uploader")
		}
		uploader = s3Uploader
	}

	sender, err := services.NewSendService(inbox, waClient, uploader, audit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize SendService")
	}

	if err := inbox.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start inbox")
	}
	defer inbox.Stop()

	server, err := handlers.NewServer(inbox, sender, dispatcher, audit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize HTTP server")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msgf("Server starting on port %s...", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}
