package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/vendaflow/broker-auth-service/internal/config"
	"github.com/vendaflow/broker-auth-service/internal/health"
	"github.com/vendaflow/broker-auth-service/internal/observability"
)

// App owns the process lifecycle: the HTTP listener, background tasks and
// the ordered shutdown of everything behind them.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	DB            *gorm.DB
	Redis         *redis.Client
	Observability *observability.Runtime
	Readiness     *health.ProbeRunner

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	stopBackground func()
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, db *gorm.DB, redisClient *redis.Client, runtime *observability.Runtime, readiness *health.ProbeRunner, stopBackground func()) *App {
	return &App{
		Config:                       cfg,
		Logger:                       logger,
		Server:                       server,
		DB:                           db,
		Redis:                        redisClient,
		Observability:                runtime,
		Readiness:                    readiness,
		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
		stopBackground:               stopBackground,
	}
}

// StopBackgroundTasks signals the sweeper and any other background loops.
func (a *App) StopBackgroundTasks() {
	if a.stopBackground != nil {
		a.stopBackground()
	}
}

// Run serves until ctx is cancelled, then drains and shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown drains HTTP first so in-flight requests can still reach the
// database, then stops background tasks, then flushes observability and
// closes connections.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	var errs []error

	drainCtx, drainCancel := context.WithTimeout(ctx, a.drainTimeout())
	if err := a.Server.Shutdown(drainCtx); err != nil {
		errs = append(errs, err)
	}
	drainCancel()

	a.StopBackgroundTasks()

	if a.Observability != nil {
		obsCtx, obsCancel := context.WithTimeout(ctx, a.observabilityTimeout())
		if err := a.Observability.Shutdown(obsCtx); err != nil {
			errs = append(errs, err)
		}
		obsCancel()
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	a.Logger.Info("shutdown complete", "errors", len(errs))
	return errors.Join(errs...)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.ShutdownTimeout > 0 {
		return a.ShutdownTimeout
	}
	return 15 * time.Second
}

func (a *App) drainTimeout() time.Duration {
	if a.ShutdownHTTPDrainTimeout > 0 {
		return a.ShutdownHTTPDrainTimeout
	}
	return 5 * time.Second
}

func (a *App) observabilityTimeout() time.Duration {
	if a.ShutdownObservabilityTimeout > 0 {
		return a.ShutdownObservabilityTimeout
	}
	return 5 * time.Second
}
