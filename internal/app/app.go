// Package app wires the services shared by the API server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/config"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/db"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/realtime"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/alert"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/connect"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/escrow"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/locker"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/matching"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/processor"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/store"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/webhook"
)

type Services struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Store     store.Store
	Processor processor.Client
	Hub       *realtime.Hub
	Feed      *realtime.PaymentFeed
	Escrow    *escrow.Orchestrator
	Accounts  *connect.Synchronizer
	Webhooks  *webhook.Processor
	Matching  *matching.Engine
}

func Build(ctx context.Context, cfg config.Config) (*Services, error) {
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	s := &Services{DB: gdb, Store: store.NewGormStore(gdb), Hub: realtime.NewHub()}

	var locks locker.Locker = locker.NewLocal()
	if rdb := realtime.NewRedis(cfg.RedisAddr, cfg.RedisPassword); rdb != nil {
		if err := realtime.Ping(ctx, rdb); err != nil {
			return nil, err
		}
		s.Redis = rdb
		locks = locker.NewRedis(rdb, cfg.LockTTLDuration())
	} else {
		slog.Default().Warn("REDIS_ADDR not set, record locks are local to this process", "module", "app")
	}
	s.Feed = realtime.NewPaymentFeed(s.Hub, s.Redis)

	switch cfg.ProcessorMode {
	case "fake":
		s.Processor = processor.NewFake()
	default:
		s.Processor = processor.NewStripeClient(cfg.StripeSecretKey)
	}

	retry := processor.DefaultRetryPolicy()
	retry.MaxRetries = uint64(max(cfg.ProcessorMaxRetries, 0))
	if cfg.ProcessorTimeoutMS > 0 {
		retry.Timeout = cfg.ProcessorTimeout()
	}

	var alerter escrow.Alerter
	if cfg.SendgridAPIKey != "" {
		alerter = alert.NewEmailAlerter(alert.Config{
			APIKey:    cfg.SendgridAPIKey,
			FromEmail: cfg.AlertEmailFrom,
			ToEmail:   cfg.AlertEmailTo,
		})
	}

	ecfg := escrow.DefaultConfig()
	ecfg.DefaultCurrency = cfg.DefaultCurrency
	s.Escrow = escrow.NewOrchestrator(escrow.Deps{
		Store:     s.Store,
		Processor: s.Processor,
		Locker:    locks,
		Retry:     retry,
		Notifier:  s.Feed,
		Alerter:   alerter,
	}, ecfg)
	s.Accounts = connect.NewSynchronizer(s.Store, s.Processor, locks, retry)

	var verifier webhook.Verifier
	switch cfg.WebhookScheme {
	case "stripe":
		verifier = webhook.StripeVerifier{Secret: cfg.WebhookSecret}
	case "hmac":
		verifier = webhook.HMACVerifier{Secret: cfg.WebhookSecret}
	default:
		return nil, fmt.Errorf("unknown webhook scheme %q", cfg.WebhookScheme)
	}
	s.Webhooks = webhook.NewProcessor(verifier, s.Store, locks, s.Escrow, s.Accounts)
	s.Matching = matching.NewEngine(s.Store)
	return s, nil
}

func (s *Services) Close() {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if sqlDB, err := s.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
