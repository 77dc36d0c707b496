package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mentorlink/mentorlink-api/internal/config"
	"github.com/mentorlink/mentorlink-api/internal/database"
	"github.com/mentorlink/mentorlink-api/internal/handler"
	"github.com/mentorlink/mentorlink-api/internal/middleware"
	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/internal/repository"
	"github.com/mentorlink/mentorlink-api/internal/router"
	"github.com/mentorlink/mentorlink-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.ChatMessage{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	messageRepo := repository.NewMessageRepository(db)
	userRepo := repository.NewUserRepository(db)

	chatService := service.NewChatService(messageRepo, userRepo, redisClient, cfg.ChannelBase, natsConn, validate, logger)
	conversationService := service.NewConversationService(messageRepo, userRepo, logger)

	chatHandler := handler.NewChatHandler(chatService, conversationService, logger)

	seedService := service.NewSeedService(userRepo, cfg.SeedEnabled, cfg.SeedToken, logger)
	seedHandler := handler.NewSeedHandler(seedService, logger)

	serviceCtx, cancelServices := context.WithCancel(context.Background())
	defer cancelServices()
	chatService.Start(serviceCtx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:         chatHandler,
		SeedHandler:         seedHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		WebsocketMiddleware: middleware.WebsocketProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cancelServices)
}

func waitForShutdown(app *fiber.App, cancelServices context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	cancelServices()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
