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

	"github.com/Brownie44l1/sentinel-api/internal/audio"
	"github.com/Brownie44l1/sentinel-api/internal/config"
	"github.com/Brownie44l1/sentinel-api/internal/emergency"
	"github.com/Brownie44l1/sentinel-api/internal/handlers"
	"github.com/Brownie44l1/sentinel-api/internal/model"
	"github.com/Brownie44l1/sentinel-api/internal/trace"
	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

var version = "0.1.0"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := &config.Config{}
	kong.Parse(cfg,
		kong.Name("sentinel-api"),
		kong.Description("Emergency sound detection over HTTP"),
		kong.UsageOnError(),
	)

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := trace.Initialize(ctx, trace.Config{
		ServiceName:    "sentinel-api",
		ServiceVersion: version,
		ExporterType:   cfg.TraceExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplingRate:   cfg.TraceSample,
	}); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := trace.Shutdown(shutdownCtx); err != nil {
			slog.Warn("trace shutdown failed", "error", err)
		}
	}()

	models := model.NewHandle(model.ONNXLoader(cfg.LoaderConfig()))
	defer func() {
		models.Close()
		if err := model.DestroyRuntime(); err != nil {
			slog.Warn("onnx runtime shutdown failed", "error", err)
		}
	}()

	if cfg.Preload {
		// A failed preload is retried on the first request.
		if _, _, err := models.EnsureLoaded(ctx); err != nil {
			slog.Warn("model preload failed", "error", err)
		}
	}

	handler := handlers.NewHandler(
		audio.NewLoader(cfg.FFmpeg, cfg.ScratchDir),
		models,
		emergency.New(),
		cfg.MaxUpload,
	)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("server starting", "addr", srv.Addr, "model", cfg.Model, "class_map", cfg.ClassMap)
	slog.Info("endpoints",
		"health", "GET /health",
		"analyze", "POST /analyze (multipart field audio)",
		"stream", "POST /stream-analyze (multipart field chunk)",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
