package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ripple-rt/ripple-server/internal/api"
	"github.com/ripple-rt/ripple-server/internal/app"
	"github.com/ripple-rt/ripple-server/internal/config"
	"github.com/ripple-rt/ripple-server/internal/gateway"
	"github.com/ripple-rt/ripple-server/internal/httputil"
	"github.com/ripple-rt/ripple-server/internal/postgres"
	"github.com/ripple-rt/ripple-server/internal/valkey"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.ServerEnv).Msg("Starting Ripple")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard \"*\". Set an explicit origin for production deployments.")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := valkey.Connect(ctx, valkey.Options{
		URL:         cfg.ValkeyURL,
		DialTimeout: cfg.ValkeyDialTimeout,
		ClientName:  "ripple",
	})
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer rdb.Close()
	log.Info().Msg("Valkey connected")

	var apps app.Repository = app.NewPGRepository(db, log.Logger)
	if cfg.AppCacheEnabled {
		apps = app.NewCachedRepository(apps, rdb, cfg.AppCacheTTL, log.Logger)
		log.Info().Dur("ttl", cfg.AppCacheTTL).Msg("App lookup cache enabled")
	}

	hub := gateway.NewHub(apps, cfg, log.Logger)
	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	go func() {
		if err := hub.Run(hubCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Gateway hub stopped")
		}
	}()

	fa := fiber.New(fiber.Config{
		AppName: "Ripple",
		// ErrorHandler catches errors returned by handlers that are not already mapped to structured API responses
		// (e.g. Fiber's built-in 404/405). errors.AsType is a generic helper added in Go 1.26.
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return httputil.Fail(c, status, message)
		},
	})

	fa.Use(requestid.New())
	fa.Use(httputil.RequestLogger(log.Logger))
	fa.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	registerRoutes(fa, apps, hub, db, rdb)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		hubCancel()
		_ = fa.Shutdown()
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")
	if err := fa.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func registerRoutes(fa *fiber.App, apps app.Repository, hub *gateway.Hub, db api.Pinger, rdb *redis.Client) {
	health := api.NewHealthHandler(db, redisPinger{client: rdb})
	fa.Get("/health", health.Health)

	gw := api.NewGatewayHandler(hub)
	fa.Get("/app/:id", gw.Upgrade)

	appsHandler := api.NewAppHandler(apps, log.Logger)
	fa.Get("/apps", appsHandler.List)
	fa.Post("/apps", appsHandler.Create)
	fa.Delete("/apps/:id", appsHandler.Delete)

	channels := api.NewChannelHandler(apps, hub, log.Logger)
	fa.Get("/apps/:id/channels", channels.List)
	fa.Get("/apps/:id/channels/:channel/users", channels.Users)

	events := api.NewEventHandler(apps, hub, log.Logger)
	fa.Post("/apps/:id/events", events.Publish)
}

// redisPinger adapts *redis.Client to the api.Pinger interface.
type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }
