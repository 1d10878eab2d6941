package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/internal/service/audit"
)

// windowResetInterval is the cadence of the anti-ban window-reset ticker.
const windowResetInterval = 5 * time.Second

// Config carries engine tunables; values come from the process config.
type Config struct {
	Workers        int
	ClaimBatch     int
	ClaimInterval  time.Duration
	HealthInterval time.Duration
	DrainBudget    time.Duration
	AntiBan        AntiBanConfig
}

// Engine wires the supervisor, ingress router, dispatcher, and anti-ban
// controller into one runnable unit.
type Engine struct {
	cfg        Config
	Supervisor *Supervisor
	Dispatcher *Dispatcher
	Ingress    *Ingress
	AntiBan    *AntiBan
	Health     *HealthRegistry
	Queue      domain.QueueRepository
	Log        *slog.Logger
}

// Deps bundles the ports the engine builds on.
type Deps struct {
	Users    domain.UserRepository
	Sessions domain.SessionRepository
	Pairs    domain.PairRepository
	Filters  domain.FilterRepository
	Queue    domain.QueueRepository
	Daily    domain.DailyCounter
	Plans    PlanResolver
	Client   domain.PlatformClient
	Audit    *audit.Logger
	Log      *slog.Logger
}

// New assembles the engine.
func New(cfg Config, deps Deps) *Engine {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	health := NewHealthRegistry()
	antiban := NewAntiBan(cfg.AntiBan, deps.Audit)
	filter := NewFilterPipeline(deps.Filters)
	ingress := NewIngress(deps.Pairs, deps.Users, deps.Queue, deps.Daily, deps.Plans, filter, deps.Audit, log)
	supervisor := NewSupervisor(deps.Sessions, deps.Pairs, deps.Client, health, antiban, ingress, deps.Audit, cfg.HealthInterval, log)
	dispatcher := NewDispatcher(
		DispatcherConfig{Workers: cfg.Workers, ClaimBatch: cfg.ClaimBatch, ClaimInterval: cfg.ClaimInterval},
		deps.Queue, deps.Pairs, deps.Client, antiban, supervisor, ingress, deps.Audit, log,
	)
	return &Engine{
		cfg:        cfg,
		Supervisor: supervisor,
		Dispatcher: dispatcher,
		Ingress:    ingress,
		AntiBan:    antiban,
		Health:     health,
		Queue:      deps.Queue,
		Log:        log,
	}
}

// Run starts every engine task and blocks until ctx ends, then drains:
// stop claiming, await in-flight sends within the budget, roll processing
// items back to pending, close clients.
func (e *Engine) Run(ctx context.Context) error {
	// Crash recovery: items stranded in processing by a previous run go back
	// to pending before workers start.
	if released, err := e.Queue.ReleaseAllProcessing(ctx); err != nil {
		return err
	} else if released > 0 {
		e.Log.Info("recovered stranded items", slog.Int64("count", released))
	}

	if err := e.Supervisor.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		e.Supervisor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		e.Dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		e.AntiBan.RunWindowReset(ctx, windowResetInterval)
	}()

	<-ctx.Done()
	wg.Wait()

	shutdownCtx := context.WithoutCancel(ctx)
	e.Dispatcher.Drain(shutdownCtx, e.cfg.DrainBudget)
	e.Supervisor.Shutdown(shutdownCtx)
	return nil
}
