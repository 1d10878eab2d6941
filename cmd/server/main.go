// Command server runs the AutoForwardX service: the forwarding engine and
// the control-plane HTTP API in one process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/sunil55999/autoforwardx/internal/adapter/events"
	httpserver "github.com/sunil55999/autoforwardx/internal/adapter/httpserver"
	"github.com/sunil55999/autoforwardx/internal/adapter/observability"
	"github.com/sunil55999/autoforwardx/internal/adapter/repo/postgres"
	"github.com/sunil55999/autoforwardx/internal/adapter/telegram"
	"github.com/sunil55999/autoforwardx/internal/app"
	"github.com/sunil55999/autoforwardx/internal/config"
	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/internal/engine"
	"github.com/sunil55999/autoforwardx/internal/service/audit"
	"github.com/sunil55999/autoforwardx/internal/service/dailycounter"
	"github.com/sunil55999/autoforwardx/internal/usecase"
)

// Exit codes: 0 clean shutdown, 2 bad config, 3 unrecoverable store failure.
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

	// Infra: DB pool.
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(exitStoreFailure)
	}
	defer pool.Close()

	// Infra: Redis.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url invalid", slog.Any("error", err))
		os.Exit(exitBadConfig)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	// Repositories.
	userRepo := postgres.NewUserRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)
	pairRepo := postgres.NewPairRepo(pool)
	filterRepo := postgres.NewFilterRepo(pool)
	queueRepo := postgres.NewQueueRepo(pool)
	activityRepo := postgres.NewActivityRepo(pool)
	statsRepo := postgres.NewStatsRepo(pool)

	// Activity retention.
	if cfg.ActivityRetentionDays > 0 {
		cleanup := postgres.NewCleanupService(pool, cfg.ActivityRetentionDays)
		go cleanup.RunPeriodic(ctx, cfg.CleanupInterval)
	}

	// Optional Kafka mirror for activity entries.
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

	// Platform client pool; rotated credential blobs persist through the
	// session repository so reconnects survive restarts.
	sealer, err := telegram.NewSealer(cfg.CredentialSealKey)
	if err != nil {
		slog.Error("credential seal key invalid", slog.Any("error", err))
		os.Exit(exitBadConfig)
	}
	clientPool := telegram.NewPool(cfg.TelegramAPIID, cfg.TelegramAPIHash, sealer, cfg.IngressBuffer, logger,
		telegram.WithPersistHook(func(ctx context.Context, sessionID string, sealed []byte) error {
			return sessionRepo.UpdateCredentials(ctx, sessionID, sealed, "")
		}),
		telegram.WithOverflowHook(func(sessionID string) {
			observability.IngressOverflowTotal.WithLabelValues(sessionID).Inc()
			aud.Record(context.Background(), domain.ActivityEntry{
				SessionID: &sessionID,
				Kind:      domain.ActivityIngressOverflow,
				Message:   "ingress buffer full, oldest update dropped",
			})
		}),
	)

	// Forwarding engine.
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

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	// Control plane.
	srv := &httpserver.Server{
		Cfg: cfg,
		Pairs: usecase.NewPairService(pairRepo, sessionRepo, userRepo, queueRepo, plans),
		Sessions: usecase.SessionService{
			Sessions: sessionRepo,
			Users:    userRepo,
			Client:   clientPool,
			Plans:    plans,
			Health:   eng.Health,
			Trigger:  eng.Supervisor,
			Closer:   eng.Supervisor,
		},
		Stats:   usecase.StatsService{Stats: statsRepo, Activity: activityRepo},
		Admin:   usecase.AdminService{StatsRepo: statsRepo, Queue: queueRepo, Control: eng.Dispatcher},
		Filters: filterRepo,
		DBCheck: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
		RedisCheck: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}

	httpSrv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      app.BuildRouter(cfg, srv, rdb),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
	go func() {
		slog.Info("control plane listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown requested")

	// Drain order: stop accepting control-plane writes, then let the engine
	// finish in-flight sends and roll claims back.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", slog.Any("error", err))
	}
	if err := <-engineDone; err != nil {
		slog.Error("engine stopped with error", slog.Any("error", err))
		os.Exit(exitStoreFailure)
	}
	clientPool.CloseAll(shutdownCtx)
	slog.Info("shutdown complete")
}
