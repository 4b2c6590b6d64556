package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"

	"adoptme/internal/adapter/api"
	"adoptme/internal/adapter/api/handler"
	apimiddleware "adoptme/internal/adapter/api/middleware"
	"adoptme/internal/adapter/api/router"
	"adoptme/internal/adapter/repository"
	domainrepo "adoptme/internal/domain/repository"
	"adoptme/internal/infrastructure/auth"
	"adoptme/internal/infrastructure/database"
	"adoptme/internal/infrastructure/pubsub"
	"adoptme/internal/infrastructure/ratelimit"
	"adoptme/internal/infrastructure/websocket"
	"adoptme/internal/usecase"
	"adoptme/pkg/config"
	"adoptme/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageRepo, userRepo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open message store: %v", err)
	}
	defer closeStore()

	broker, err := openBroker(cfg)
	if err != nil {
		log.Fatalf("Failed to open broker: %v", err)
	}
	defer broker.Close()

	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Limit{
		ratelimit.ActionSendMessage: ratelimit.PerMinute(int(cfg.SendRatePerMinute)),
		ratelimit.ActionAPIRequest:  ratelimit.PerMinute(int(cfg.APIRatePerMinute)),
		ratelimit.ActionSubscribe:   ratelimit.PerMinute(60),
	})
	limiter.StartCleanupRoutine(5*time.Minute, ctx.Done())

	tokens := auth.NewTokenService(cfg.JWTSecret)
	chatUseCase := usecase.NewChatUseCase(messageRepo, userRepo, broker, limiter)

	wsManager := websocket.NewManager(broker, chatUseCase, tokens, websocket.Options{
		RequireAuth: cfg.RealtimeRequireAuth,
		Limiter:     limiter,
	})
	wsManager.Start(ctx)

	handler.SetupHealthHandler(wsManager)
	handler.SetupDevTokenHandler(tokens, userRepo)

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSAllowedOrigins,
	}))

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(tokens)
	chatHandler := handler.NewChatHandler(chatUseCase)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.CORSAllowedOrigins)

	router.Setup(e, cfg.Environment, chatHandler, wsHandler, authMiddleware, limiter)

	go func() {
		logger.Info("Starting server on port %s...", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (domainrepo.MessageRepository, domainrepo.UserRepository, func(), error) {
	switch cfg.StoreDriver {
	case "firestore":
		var opt option.ClientOption
		if cfg.ServiceAccountJSON != "" {
			logger.Info("Using Firebase service account from environment variable")
			opt = option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON))
		} else {
			if _, err := os.Stat(cfg.ServiceAccountPath); err != nil {
				return nil, nil, nil, err
			}
			logger.Info("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
			opt = option.WithCredentialsFile(cfg.ServiceAccountPath)
		}

		client, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { client.Close() }
		return repository.NewFirestoreMessageRepository(client), repository.NewFirestoreUserRepository(client), closeFn, nil

	default:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return repository.NewGormMessageRepository(db), repository.NewGormUserRepository(db), closeFn, nil
	}
}

func openBroker(cfg *config.Config) (pubsub.Broker, error) {
	if cfg.BrokerDriver == "nats" {
		logger.Info("Using NATS broker at %s", cfg.NatsURL)
		return pubsub.NewNatsBroker(cfg.NatsURL, cfg.NatsSubjectPrefix)
	}
	return pubsub.NewMemoryBroker(), nil
}
