package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"imjang/api/internal/api"
	"imjang/api/internal/api/middleware"
	"imjang/api/internal/cache"
	"imjang/api/internal/config"
	"imjang/api/internal/db"
	"imjang/api/internal/email"
	"imjang/api/internal/observability"
	"imjang/api/internal/services"
	"imjang/api/internal/storage"
	"imjang/api/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'img' (image processing), 'all' (default)")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := observability.NewLogger(observability.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Logger = logger

	// Initialize Database
	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			logger.Error().Err(err).Msg("error disconnecting from MongoDB")
		}
	}()

	// Initialize Cache (Redis)
	redisClient, err := cache.ConnectRedis(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			logger.Error().Err(err).Msg("error disconnecting from Redis")
		}
	}()

	s3StorageService, err := storage.NewS3Storage(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize S3 storage")
	}

	// Initialize Email Sender
	var primaryEmailSender email.Sender
	if os.Getenv("MOCK_SERVICES") == "true" {
		logger.Info().Msg("MOCK_SERVICES enabled: using Redis email sender")
		primaryEmailSender = email.NewRedisSender(redisClient, cfg.SmtpFromAddress)
	} else {
		primaryEmailSender = email.NewSMTPSender(cfg)
	}
	compositeSender := email.NewCompositeEmailSender(primaryEmailSender)
	if logEmailsPath := os.Getenv("LOG_EMAILS"); logEmailsPath != "" {
		fileSender, err := email.NewFileEmailSender(logEmailsPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", logEmailsPath).Msg("proceeding without file email logging")
		} else {
			compositeSender.AddSender(fileSender)
			logger.Info().Str("path", logEmailsPath).Msg("file email logger enabled")
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("imjang", registry)

	// Initialize Services
	store := services.NewMongoInspectionStore(mongoDb)
	indexCtx, cancelIndex := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.EnsureIndexes(indexCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure inspection indexes")
	}
	cancelIndex()

	listingService := services.NewListingService(mongoDb)
	identityResolver := services.NewIdentityResolver(mongoDb)
	emailTemplateService := services.NewEmailTemplateService(mongoDb)

	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()
	publisher := tasks.NewEventPublisher(taskClient)

	inspectionService := services.NewInspectionService(
		cfg, store, listingService, identityResolver, s3StorageService, publisher, logger, metrics)

	taskProcessor := tasks.NewTaskProcessor(
		cfg, compositeSender, s3StorageService, store, identityResolver, emailTemplateService, taskClient, logger)

	var wg sync.WaitGroup
	shutdownChan := make(chan struct{}, 1)

	// Service API (always runs)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(redisClient, emailTemplateService, shutdownChan, registry, logger),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("port", cfg.ServiceApiPort).Msg("service API listening")
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("service API ListenAndServe error")
		}
	}()

	// --- Mode-specific servers ---
	var mainApiSrv *http.Server
	var rateLimiter *middleware.RateLimiterMiddleware
	var taskSrv *asynq.Server

	logger.Info().Str("mode", cfg.RunMode).Msg("starting application")

	startAPI := func() {
		rateLimiter = middleware.NewRateLimiterMiddleware(cfg, logger)
		router, err := api.SetupRouter(cfg, inspectionService, rateLimiter)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to set up router")
		}
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: router,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info().Str("port", cfg.ApiPort).Msg("main API listening")
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal().Err(err).Msg("main API ListenAndServe error")
			}
		}()
	}

	startWorkers := func(isImageWorker, isBgWorker bool) {
		srv, mux := tasks.SetupServer(redisClient, taskProcessor, isImageWorker, isBgWorker)
		if srv == nil {
			return
		}
		if err := srv.Start(mux); err != nil {
			logger.Fatal().Err(err).Msg("failed to start task server")
		}
		taskSrv = srv
	}

	switch cfg.RunMode {
	case "api":
		startAPI()
	case "bg":
		startWorkers(false, true)
	case "img":
		startWorkers(true, false)
	case "all":
		startAPI()
		startWorkers(true, true)
	default:
		logger.Fatal().Str("mode", cfg.RunMode).Msg("invalid run mode")
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case <-shutdownChan:
		logger.Info().Msg("shutdown requested via service API")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("service API shutdown error")
	}
	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			logger.Error().Err(err).Msg("main API shutdown error")
		}
	}
	if rateLimiter != nil {
		rateLimiter.Stop()
	}
	if taskSrv != nil {
		taskSrv.Shutdown()
	}

	wg.Wait()
	logger.Info().Msg("server gracefully stopped")
}
