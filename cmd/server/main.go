package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"paygate/config"
	"paygate/internal/database"
	"paygate/internal/router"
	"paygate/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	if err := logger.Init(cfg.Server.Env); err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	lg := logger.S()

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		lg.Fatalw("database_open_failed", "driver", cfg.Database.Driver, "error", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		lg.Fatalw("database_migrate_failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, cleanup, err := router.Setup(ctx, cfg, db)
	if err != nil {
		lg.Fatalw("router_setup_failed", "error", err)
	}
	defer cleanup()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		lg.Infow("server_listening", "port", cfg.Server.Port, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Errorw("server_listen_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	lg.Infow("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Errorw("server_shutdown_failed", "error", err)
	}
	lg.Infow("server_stopped")
}
