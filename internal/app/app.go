// Package app builds and holds the long-lived services of the crawler, acting
// as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/orchestrator"
	gcppublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-crawler/internal/scheduler"
)

const defaultShutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	crawls    *orchestrator.Service
	products  crawler.ProductStore
	apiServer *api.Server
	scheduler *scheduler.Scheduler

	pool           *pgxpool.Pool
	pubsubClient   *pubsub.Client
	publisher      *gcppublisher.Publisher
	storageClient  *storage.Client
	tracerProvider *sdktrace.TracerProvider

	closeOnce sync.Once
	closeErr  error
}

// Crawls exposes the orchestrator for one-shot CLI commands.
func (a *App) Crawls() *orchestrator.Service {
	return a.crawls
}

// Products exposes the product store.
func (a *App) Products() crawler.ProductStore {
	return a.products
}

// Handler returns the HTTP handler served by Serve.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP server and the crawl schedule until ctx is canceled or
// the process receives SIGINT or SIGTERM, then drains the server. The caller
// still owns Close.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
		a.logger.Info("crawl schedule started", zap.Time("next_run", a.scheduler.Next()))
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close stops background work and releases clients. Crawls still running
// are canceled and recorded as failed before their resources are closed.
// Calls after the first return the first result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { a.closeErr = a.close(ctx) })
	return a.closeErr
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
	}
	if a.crawls != nil {
		if err := a.crawls.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop crawls: %w", err))
		}
	}
	a.closeInfrastructure()
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
