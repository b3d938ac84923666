package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hackgods/slot-booking/internal/api"
	"github.com/hackgods/slot-booking/internal/app"
	"github.com/hackgods/slot-booking/internal/clock"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Service: "api-server"}).Fatal("config load error", "error", err)
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "api-server",
	})
	log.Info("api-server starting up",
		"env", cfg.Env,
		"http_port", cfg.HTTPPort,
		"storage", cfg.StorageBackend,
		"locks", cfg.LockBackend,
		"events", cfg.EventsBackend,
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem()

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 30*time.Second)
	backends, err := app.Open(connectCtx, cfg, log, clk)
	cancelConnect()
	if err != nil {
		log.Fatal("backend setup failed", "error", err)
	}
	defer backends.Close(log)

	svc := backends.NewService(cfg, log, clk)

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Checks:         backends.Checks,
		Idempotency:    api.NewIdempotencyCache(cfg.IdempotencyCacheSize, cfg.IdempotencyTTL),
		Logger:         log,
		RequestTimeout: cfg.RequestTimeout,
		Env:            cfg.Env,
		Version:        cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	if backends.Sweeper != nil {
		g.Go(func() error {
			return backends.Sweeper.Run(gctx, cfg.LockSweepInterval)
		})
	}

	g.Go(func() error {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("api-server stopped with error", "error", err)
		return
	}
	log.Info("api-server stopped")
}
