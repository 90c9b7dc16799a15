package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/tickflow/tickflow/internal/api/http"
	"github.com/tickflow/tickflow/internal/api/http/handlers"
	"github.com/tickflow/tickflow/internal/auth"
	"github.com/tickflow/tickflow/internal/completion"
	"github.com/tickflow/tickflow/internal/config"
	"github.com/tickflow/tickflow/internal/events"
	"github.com/tickflow/tickflow/internal/observability"
	"github.com/tickflow/tickflow/internal/persistence"
	"github.com/tickflow/tickflow/internal/ratelimit"
	"github.com/tickflow/tickflow/internal/repository"
	"github.com/tickflow/tickflow/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	categoryRepo := repository.NewCategoryRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)

	dispatcher := events.NewInMemoryDispatcher()
	events.RegisterAuditLog(dispatcher, logger)

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:   ticketRepo,
		CategoryRepo: categoryRepo,
		Dispatcher:   dispatcher,
	})
	authService := service.NewAuthService(cfg.Auth, userRepo)
	completionClient := completion.NewClient(cfg.Completion, logger)
	aiService := service.NewAIService(completionClient, categoryRepo, ticketService, logger)

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo, cfg.Auth.SessionCookieName)

	metrics := observability.NewMetrics()
	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	var rateLimitHandler fiber.Handler
	if cfg.RateLimit.Enabled {
		var limiter ratelimit.Limiter
		if redis.Ping(ctx) == nil {
			limiter = ratelimit.NewRedisLimiter(redis.Client, cfg.RateLimit.Requests, cfg.RateLimit.Window())
		} else {
			logger.Warn("redis unavailable; using in-memory rate limiter")
			limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window())
		}
		rateLimitHandler = httptransport.RateLimitMiddleware(limiter, logger)
	}

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis)
	authHandler := handlers.NewAuthHandler(authService, cfg.Auth.SessionCookieName)
	ticketsHandler := handlers.NewTicketsHandler(ticketService)
	aiHandler := handlers.NewAIHandler(aiService)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Auth:           authHandler,
		Tickets:        ticketsHandler,
		AI:             aiHandler,
		AuthMiddleware: authMiddleware,
		RateLimit:      rateLimitHandler,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
