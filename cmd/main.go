package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talentmail/internal/api"
	"talentmail/internal/api/middleware"
	"talentmail/internal/config"
	"talentmail/internal/db"
	"talentmail/internal/handlers"
	"talentmail/internal/recipients"
	"talentmail/internal/repository"
	"talentmail/internal/rewriter"
	"talentmail/internal/services"
	"talentmail/internal/storage"
	"talentmail/internal/tasks"
	"talentmail/internal/tasks/rate"
	"talentmail/internal/transport"
	"talentmail/internal/utils"
	"talentmail/internal/utils/crypto"
	"talentmail/internal/utils/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// 🚀 Main function
func main() {
	logger := logger.New("talentmail")

	// check if .env file exists
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		logger.Info("No .env file found, skipping environment variable loading")
	} else {
		logger.Info("Loading environment variables from .env file")
		if err := godotenv.Load(); err != nil {
			log.Fatalf("Failed to load environment variables: %v", err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := newZapLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build task logger: %v", err)
	}
	defer zapLogger.Sync()

	dbInstance, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(dbInstance); err != nil {
			logger.Error("Failed to close database connection", err)
		}
	}()

	ctx := context.Background()

	// Redis backs the shared send throttle and the API rate limit. Without
	// it both fall back to in-process limits.
	var (
		throttle   rate.Throttle
		apiCounter middleware.Counter
		checks     = map[string]api.HealthCheck{
			"database": func(ctx context.Context) error {
				sqlDB, err := dbInstance.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		}
	)
	redisClient, err := utils.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, using local limiters: %v", err)
	} else {
		defer redisClient.Close()
		throttle = rate.NewQueueRateLimiter(redisClient, rate.QueueConfig{
			Name:      "mail",
			RateLimit: rate.RateLimit{Window: time.Second, MaxJobs: cfg.Mail.MaxSendRate},
		})
		apiCounter = redisClient
		checks["redis"] = redisClient.HealthCheck
	}

	sealer, err := crypto.NewSealer(cfg.Crypto.CredentialsKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential sealer: %v", err)
	}

	provider, err := transport.NewSESProvider(ctx, cfg.Mail)
	if err != nil {
		log.Fatalf("Failed to initialize mail provider: %v", err)
	}

	var archiver transport.Archiver
	if cfg.Storage.S3.Bucket != "" {
		s3Archiver, err := storage.NewS3Archiver(ctx, cfg.Storage.S3)
		if err != nil {
			log.Fatalf("Failed to initialize S3 archive: %v", err)
		}
		archiver = s3Archiver
		logger.Info("Archiving imported mail to s3://%s", cfg.Storage.S3.Bucket)
	}

	store := repository.NewStore(dbInstance)
	resolver := recipients.NewResolver(recipients.NewHTTPListService(cfg.Services), store)
	rw := rewriter.New(store, cfg.Tracking)

	taskClient := tasks.NewTaskClient(cfg.Redis)
	defer taskClient.Close()

	credentials := services.NewCredentialService(store, sealer)
	dispatcher := services.NewDispatcher(cfg, store, resolver, rw, provider, throttle, credentials)
	campaigns := services.NewCampaignService(store, dispatcher, taskClient)
	scheduler := services.NewCampaignScheduler(store, taskClient)
	bounces := services.NewBounceReconciler(store)
	tracking := services.NewTrackingService(store, cfg.Tracking)
	importer := services.NewConversationImporter(store, credentials, taskClient, archiver)

	taskHandler := tasks.NewTaskHandler(tasks.Handlers{
		Dispatcher: dispatcher,
		Scheduler:  scheduler,
		Importer:   importer,
		Permanent:  services.IsPermanent,
	}, zapLogger)

	taskServer := tasks.NewServer(cfg, taskHandler, zapLogger)
	if err := taskServer.Start(); err != nil {
		log.Fatalf("Failed to start task server: %v", err)
	}

	taskScheduler := tasks.NewScheduler(cfg.Redis, logger)
	go func() {
		if err := taskScheduler.Start(); err != nil {
			logger.Error("Task scheduler error", err)
		}
	}()

	apiServer := api.NewServer(cfg, api.Handlers{
		Campaigns:     handlers.NewCampaignHandler(campaigns),
		Tracking:      handlers.NewTrackingHandler(tracking),
		Notifications: handlers.NewNotificationHandler(bounces),
		Conversations: handlers.NewConversationHandler(importer),
		Credentials:   handlers.NewCredentialsHandler(credentials),
	}, apiCounter, checks)
	go func() {
		logger.Success("API server started")
		if err := apiServer.Start(); err != nil {
			logger.Error("API server error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the servers
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	taskScheduler.Stop()
	taskServer.Shutdown()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown API server", err)
	}

	logger.Info("Servers shutdown gracefully")
}

// loadConfig reads CONFIG_FILE when set, otherwise the environment
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
