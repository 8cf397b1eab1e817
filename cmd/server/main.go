// Command server runs the tariff publishing service: the versioned record
// store, workbasket workflow, packaging queue and the Crown Dependencies
// publish worker, all in one process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tariffpub/internal/platform/config"
	"tariffpub/internal/platform/httpserver"
	"tariffpub/internal/platform/logger"
	"tariffpub/internal/platform/metrics"
	"tariffpub/internal/platform/middleware"
	pubhandler "tariffpub/internal/publishing/handler"
	trackedhandler "tariffpub/internal/tracked/handler"
	httptransport "tariffpub/internal/transport/http"
	wbhandler "tariffpub/internal/workbasket/handler"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildDependencies(ctx, cfg, log, m)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	router := httptransport.NewRouter(
		middleware.NewJWTValidator(cfg.JWTSigningKey),
		log,
		wbhandler.New(deps.workbaskets, log),
		pubhandler.New(deps.queue, deps.envelopes, log),
		trackedhandler.New(deps.records, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting tariffpub",
		"addr", cfg.Addr,
		"postgres", cfg.Postgres.URL != "",
		"redis", cfg.Redis.URL != "",
		"kafka", len(cfg.Kafka.Brokers) > 0,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := deps.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
