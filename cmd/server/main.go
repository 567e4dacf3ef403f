package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"skycrash/internal/config"
	"skycrash/internal/logger"
	"skycrash/internal/metrics"
	"skycrash/internal/server"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	sugar := log.Sugar()

	srv := server.New(cfg, sugar)
	srv.RegisterFiberRoutes()

	go func() {
		if err := metrics.Serve(":" + cfg.MetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorw("metrics listener failed", "error", err)
		}
	}()

	go func() {
		sugar.Infow("listening", "port", cfg.HTTPPort)
		if err := srv.Listen(":" + cfg.HTTPPort); err != nil {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("signal received, shutting down")
	if err := srv.Shutdown(); err != nil {
		sugar.Errorw("shutdown error", "error", err)
	}
}
