package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/slot-booking/internal/app"
	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/clock"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Service: "completion-worker"}).Fatal("config load error", "error", err)
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "completion-worker",
	})
	log.Info("completion worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval)

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

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping completion worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, log *logger.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.CompleteDueBookings(runCtx)
	if err != nil {
		log.Error("completion run error", "error", err, "completed", n)
		return
	}
	log.Info("completion run complete", "completed", n, "duration", time.Since(start))
}
