package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/elijah-legal/ai-chat/internal/config"
	"github.com/elijah-legal/ai-chat/internal/gemini"
	"github.com/elijah-legal/ai-chat/internal/relay"
	"github.com/elijah-legal/ai-chat/internal/server"
	"github.com/elijah-legal/ai-chat/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("ai-chat-relay", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(os.Getenv("AICHAT_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// The credential is read exactly once. Without it the process still
	// serves, answering every generation request with a uniform 500, so
	// the misconfiguration is visible to callers as well as in logs.
	var upstream relay.Upstream
	if cfg.Gemini.APIKey == "" {
		logger.Warn("gemini api key is not set; all generation requests will be rejected")
	} else {
		opts := []gemini.ClientOption{gemini.WithModel(cfg.Gemini.Model)}
		if cfg.Gemini.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
		}
		upstream = gemini.NewClient(cfg.Gemini.APIKey, opts...)
	}

	handler := relay.NewHandler(upstream, logger)

	srv := server.New(cfg.Server.Port, logger)
	srv.Router.Post("/api/chat", handler.HandleChat)
	srv.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
