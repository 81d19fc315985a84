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

	"github.com/ent0n29/videochat/internal/app"
	"github.com/ent0n29/videochat/internal/config"
	"github.com/ent0n29/videochat/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	built, err := app.Build(runCtx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	built.StartSweepers(runCtx)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			"addr", cfg.BindAddr,
			"agent", cfg.AgentName,
			"env_file", cfg.EnvFile,
			"stt", built.Readiness.STTProvider,
			"chat", built.Readiness.ChatProvider,
			"voice", built.VoiceDetail,
			"ready", built.Readiness.Ready())
		for _, c := range built.Readiness.Checks {
			if c.Status != "ok" {
				logger.Warn("readiness check", "id", c.ID, "status", c.Status, "detail", c.Detail, "fix", c.Fix)
			}
		}
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen error", "err", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}
	built.Sessions.CloseAll()

	logger.Info("shutdown complete")
}
