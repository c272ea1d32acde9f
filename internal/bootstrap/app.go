package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liqrisk/internal/infrastructure/grpchealth"
	"liqrisk/internal/infrastructure/health"
	"liqrisk/internal/infrastructure/metrics"
	"liqrisk/internal/risk"
	"liqrisk/internal/risk/liquidation"
	"liqrisk/pkg/concurrency"
	"liqrisk/pkg/liveserver"
	"liqrisk/pkg/logging"
	"liqrisk/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// App represents the application context and holds core dependencies.
type App struct {
	Cfg        *Config
	Logger     *logging.ZapLogger
	Telemetry  *telemetry.Telemetry
	Pool       *concurrency.WorkerPool
	Calculator *risk.Calculator
	Health     *health.HealthManager
	Hub        *liveserver.Hub
	Server     *liveserver.Server
}

// Options overrides process-wide sinks, mostly for tests
type Options struct {
	LogWriter  io.Writer
	Registerer prometheus.Registerer
}

// NewApp creates a new App instance by bootstrapping all dependencies.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return NewAppFromConfig(cfg, Options{})
}

// NewAppFromConfig wires the calculator, worker pool, health checks and
// live server for cfg.
func NewAppFromConfig(cfg *Config, opts Options) (*App, error) {
	if opts.LogWriter == nil {
		opts.LogWriter = os.Stdout
	}

	logger, err := InitLogger(cfg, opts.LogWriter)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	app := &App{Cfg: cfg, Logger: logger}

	if cfg.Telemetry.EnableMetrics {
		sink := io.Discard
		if cfg.Telemetry.TraceStdout {
			sink = os.Stdout
		}
		app.Telemetry, err = telemetry.SetupWithOptions(cfg.App.Name, telemetry.Options{
			TraceWriter: sink,
			LogWriter:   sink,
			Registerer:  opts.Registerer,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	app.Pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "sweep",
		MaxWorkers:  cfg.Concurrency.SweepPoolSize,
		MaxCapacity: cfg.Concurrency.SweepPoolBuffer,
	}, logger)

	app.Calculator = risk.NewCalculator(cfg.Engine.NewEngine(), app.Pool, logger)

	app.Health = health.NewHealthManager(logger)
	app.Health.Register("engine", app.checkEngine)
	app.Health.Register("sweep_pool", func() error {
		switch {
		case app.Pool.Stopped():
			return errors.New("worker pool stopped")
		case app.Pool.Saturated():
			return fmt.Errorf("worker pool queue full (%d tasks)", app.Pool.Stats().WaitingTasks)
		}
		return nil
	})

	app.Hub = liveserver.NewHub(logger)
	app.Server = liveserver.NewServer(app.Hub, app.Calculator, logger, cfg.Server.AllowedOrigins)
	app.Server.SetProduction(cfg.Server.Production)
	app.Server.SetMaxConnections(cfg.Server.MaxConnections)
	app.Server.SetRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst)
	app.Server.SetHealthMonitor(app.Health)
	if cfg.Server.StaticDir != "" {
		app.Server.SetStaticDir(cfg.Server.StaticDir)
	}

	return app, nil
}

// checkEngine checks the engine against a known scenario
func (a *App) checkEngine() error {
	res, err := a.Cfg.Engine.NewEngine().Compute(liquidation.Inputs{
		Mode:      liquidation.ModeHealthFactor,
		InitialHF: 1.5,
		FinalHF:   1.0,
	})
	if err != nil {
		return err
	}
	if res.Ratio != 1.5 {
		return fmt.Errorf("engine check returned ratio %v, want 1.5", res.Ratio)
	}
	return nil
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

// Run implements Runner
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Runners returns the long-running components enabled by the config
func (a *App) Runners() []Runner {
	runners := []Runner{
		RunnerFunc(func(ctx context.Context) error {
			a.Hub.Run(ctx)
			return nil
		}),
		RunnerFunc(func(ctx context.Context) error {
			return a.Server.Start(ctx, a.Cfg.Server.Port)
		}),
	}

	if a.Cfg.Telemetry.EnableMetrics && a.Cfg.Telemetry.MetricsPort > 0 {
		ms := metrics.NewServer(a.Cfg.Telemetry.MetricsPort, a.Logger)
		runners = append(runners, RunnerFunc(ms.Start))
	}

	if a.Cfg.GRPC.HealthPort != "" {
		hs := grpchealth.NewServer(a.Health, time.Duration(a.Cfg.GRPC.HealthInterval)*time.Second, a.Logger)
		runners = append(runners, RunnerFunc(func(ctx context.Context) error {
			return hs.Start(ctx, a.Cfg.GRPC.HealthPort)
		}))
	}

	return runners
}

// Serve runs every enabled component until ctx is done or the process
// receives SIGINT or SIGTERM, then releases shared resources.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := a.Run(ctx, a.Runners()...)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if closeErr := a.Close(shutdownCtx); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Run orchestrates the runners under one errgroup. The first failing runner
// cancels the rest.
func (a *App) Run(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "name", a.Cfg.App.Name, "runners", len(runners))

	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}

// Close releases the worker pool, flushes telemetry and syncs the logger
func (a *App) Close(ctx context.Context) error {
	a.Pool.Stop()

	var err error
	if a.Telemetry != nil {
		err = a.Telemetry.Shutdown(ctx)
	}
	_ = a.Logger.Sync()
	return err
}
