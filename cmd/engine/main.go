// Command engine runs a headless forwarding node: session supervision,
// ingress, dispatcher workers, and the anti-ban controller, without the
// control-plane HTTP API. Deployments that keep the API separate run one of
// these next to a stateless cmd/server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sunil55999/autoforwardx/internal/adapter/events"
	"github.com/sunil55999/autoforwardx/internal/adapter/observability"
	"github.com/sunil55999/autoforwardx/internal/adapter/repo/postgres"
	"github.com/sunil55999/autoforwardx/internal/adapter/telegram"
	"github.com/sunil55999/autoforwardx/internal/config"
	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/internal/engine"
	"github.com/sunil55999/autoforwardx/internal/service/audit"
	"github.com/sunil55999/autoforwardx/internal/service/dailycounter"
)

const (
	exitBadConfig    = 2
	exitStoreFailure = 3
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(exitBadConfig)
	}
	plans, err := config.LoadPlanTable(cfg.PlanLimitsFile)
	if err != nil {
		slog.Error("plan table load failed", slog.Any("error", err))
		os.Exit(exitBadConfig)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("engine metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(exitStoreFailure)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url invalid", slog.Any("error", err))
		os.Exit(exitBadConfig)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	userRepo := postgres.NewUserRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)
	pairRepo := postgres.NewPairRepo(pool)
	filterRepo := postgres.NewFilterRepo(pool)
	queueRepo := postgres.NewQueueRepo(pool)
	activityRepo := postgres.NewActivityRepo(pool)

	var publisher domain.EventPublisher
	if cfg.PublisherEnabled() {
		pub, err := events.NewPublisher(cfg.KafkaBrokers, cfg.ActivityTopic)
		if err != nil {
			slog.Error("activity publisher init failed", slog.Any("error", err))
		} else {
			publisher = pub
			defer func() { _ = pub.Close() }()
		}
	}
	aud := audit.New(activityRepo, publisher, logger)

	sealer, err := telegram.NewSealer(cfg.CredentialSealKey)
	if err != nil {
		slog.Error("credential seal key invalid", slog.Any("error", err))
		os.Exit(exitBadConfig)
	}
	clientPool := telegram.NewPool(cfg.TelegramAPIID, cfg.TelegramAPIHash, sealer, cfg.IngressBuffer, logger,
		telegram.WithPersistHook(func(ctx context.Context, sessionID string, sealed []byte) error {
			return sessionRepo.UpdateCredentials(ctx, sessionID, sealed, "")
		}),
	)

	eng := engine.New(engine.Config{
		Workers:        cfg.Workers,
		ClaimBatch:     cfg.ClaimBatch,
		ClaimInterval:  cfg.ClaimInterval,
		HealthInterval: cfg.HealthInterval,
		DrainBudget:    cfg.DrainBudget,
		AntiBan: engine.AntiBanConfig{
			PerMinute: cfg.RateLimitPerMinute,
			PerHour:   cfg.RateLimitPerHour,
			WarnAt:    cfg.WarningThreshold,
			CritAt:    cfg.CriticalThreshold,
		},
	}, engine.Deps{
		Users:    userRepo,
		Sessions: sessionRepo,
		Pairs:    pairRepo,
		Filters:  filterRepo,
		Queue:    queueRepo,
		Daily:    dailycounter.New(rdb),
		Plans:    plans,
		Client:   clientPool,
		Audit:    aud,
		Log:      logger,
	})

	slog.Info("engine node starting", slog.Int("workers", cfg.Workers))
	if err := eng.Run(ctx); err != nil {
		slog.Error("engine stopped with error", slog.Any("error", err))
		os.Exit(exitStoreFailure)
	}
	clientPool.CloseAll(context.Background())
	slog.Info("engine node stopped")
}
