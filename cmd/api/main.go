package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/abduss/ciphare/internal/app"
	"github.com/abduss/ciphare/internal/config"
	"github.com/abduss/ciphare/internal/logger"
	"github.com/abduss/ciphare/internal/server"
)

func main() {
	_ = godotenv.Load()

	logg, err := logger.Init()
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer logg.Sync()

	cfg, err := config.Load()
	if err != nil {
		logg.Fatal("load config", zap.Error(err))
	}
	if logg, err = logger.New(cfg.Log); err != nil {
		panic("init logger: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, logg)
	if err != nil {
		logg.Fatal("open backends", zap.Error(err))
	}
	defer backends.Close()

	services := app.NewServices(cfg, backends, logg)

	if cfg.Janitor.SweepEnabled {
		services.Sweeper.Start()
	}
	if cfg.Janitor.GCEnabled {
		services.Collector.Start()
	}

	router := server.NewRouter(server.Dependencies{
		Config:       cfg,
		Logger:       logg,
		ShareService: services.Share,
		AdminService: services.Admin,
		Sweeper:      services.Sweeper,
		Collector:    services.Collector,
		Checks:       backends.Checks,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logg.Info("Ciphare API listening",
			zap.String("address", cfg.Server.Address()),
			zap.String("metadata_backend", cfg.Storage.MetadataBackend),
			zap.String("blob_backend", cfg.Storage.BlobBackend),
			zap.Bool("admin_enabled", services.Admin != nil),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logg.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("shutdown error", zap.Error(err))
	}
	if err := services.Sweeper.Stop(shutdownCtx); err != nil {
		logg.Error("stop sweeper", zap.Error(err))
	}
	if err := services.Collector.Stop(shutdownCtx); err != nil {
		logg.Error("stop collector", zap.Error(err))
	}
}
