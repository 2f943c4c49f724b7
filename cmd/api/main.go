package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/app"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/config"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/db"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/handlers"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/jobs"
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if err := db.Migrate(svc.DB); err != nil {
		slog.Error("migrate failed", "error", err)
		os.Exit(1)
	}

	go svc.Hub.Run(ctx)
	go svc.Feed.Relay(ctx)

	c := cron.New()
	if _, err := jobs.NewReconciler(svc.Store, svc.Escrow).Schedule(c, cfg.ReconcileCron); err != nil {
		slog.Error("schedule reconciler failed", "error", err, "schedule", cfg.ReconcileCron)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()
	slog.Info("reconciler scheduled", "module", "jobs", "schedule", cfg.ReconcileCron)

	api := fiber.New(fiber.Config{
		AppName:      "Consultant Escrow",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	})
	api.Use(recover.New())
	api.Use(logger.New())
	api.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.CORSOrigins, ", "),
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))

	handlers.Routes{
		JWTSecret:   cfg.JWTSecret,
		Webhook:     handlers.NewWebhookHandler(svc.Webhooks, cfg.WebhookScheme),
		Escrow:      handlers.NewEscrowHandler(svc.Escrow),
		Consultants: handlers.NewConsultantHandler(svc.Store, svc.Accounts),
		Matches:     handlers.NewMatchHandler(svc.Matching),
		Hub:         svc.Hub,
	}.Mount(api)

	go func() {
		<-ctx.Done()
		_ = api.ShutdownWithTimeout(10 * time.Second)
	}()

	slog.Info("listening", "port", cfg.AppPort)
	if err := api.Listen(":" + cfg.AppPort); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server stopped", "error", err)
	}
}
