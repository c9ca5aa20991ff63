package main

import (
	"context"
	"log"
	"strings"

	api "safe-backend/cmd/api"
	authdomain "safe-backend/internal/auth/domain"
	authRepo "safe-backend/internal/auth/repository"
	authUsecase "safe-backend/internal/auth/usecase"
	creddomain "safe-backend/internal/credential/domain"
	credRepo "safe-backend/internal/credential/repository"
	insightdomain "safe-backend/internal/insight/domain"
	insightRepo "safe-backend/internal/insight/repository"
	insightUsecase "safe-backend/internal/insight/usecase"
	"safe-backend/internal/notification"
	"safe-backend/pkg/cache"
	"safe-backend/pkg/config"
	"safe-backend/pkg/database"
	"safe-backend/pkg/gmail"
	"safe-backend/pkg/queue"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(&authdomain.User{}, &authdomain.RefreshToken{}, &creddomain.OAuthCredential{}, &insightdomain.Email{}); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	userRepo := authRepo.NewUserRepository(db)
	credentialRepo := credRepo.NewCredentialRepository(db)
	emailRepo := insightRepo.NewEmailRepository(db)

	// Initialize Gmail service
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret)

	// Queue and cache run on Redis when configured, otherwise in process.
	var syncQueue queue.Queue
	var insightCache cache.InsightCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatal("Failed to connect to redis:", err)
		}
		syncQueue = queue.NewRedisQueue(redisClient)
		insightCache = cache.NewRedisCache(redisClient)
		log.Printf("[Redis] Using redis at %s for sync queue and insight cache", cfg.RedisAddr)
	} else {
		syncQueue = queue.NewMemoryQueue()
		insightCache = cache.NewMemoryCache()
		log.Printf("[Redis] REDIS_ADDR not configured, using in-memory sync queue and insight cache")
	}

	// Initialize use cases (dependency injection)
	authUsecaseInstance := authUsecase.NewAuthUsecase(userRepo, cfg)
	insightUsecaseInstance := insightUsecase.NewInsightUsecase(emailRepo, credentialRepo, gmailService, syncQueue, insightCache, cfg)

	// Start the background sync worker
	syncQueue.Start(insightUsecaseInstance.HandleSyncJob)
	defer syncQueue.Close()

	// Initialize Notification Service (Pub/Sub)
	// Only start if project ID is configured
	if cfg.GoogleProjectID != "" {
		// Extract short topic name from full resource name if necessary
		topicName := cfg.GooglePubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}

		notifService, err := notification.NewService(cfg.GoogleProjectID, topicName, cfg.GoogleCredentials, insightUsecaseInstance)
		if err != nil {
			log.Printf("[ERROR] Failed to initialize notification service: %v", err)
		} else {
			go notifService.Start(context.Background())
		}
	} else {
		log.Printf("[WARN] GoogleProjectID not configured, notification service disabled")
	}

	// Initialize HTTP handler
	handler := api.NewHandler(authUsecaseInstance, insightUsecaseInstance, cfg)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
