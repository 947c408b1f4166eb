package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/filipexyz/hookd/internal/config"
	"github.com/filipexyz/hookd/internal/nats"
	"github.com/filipexyz/hookd/internal/server"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	setupLogging(cfg)

	// Load webhook source table
	sources, err := config.LoadSources(cfg.SourcesConfigPath)
	if err != nil {
		slog.Error("failed to load sources config", "error", err)
		os.Exit(1)
	}
	slog.Info("sources loaded", "count", len(sources.Sources), "path", cfg.SourcesConfigPath)

	// Start embedded NATS if requested, otherwise connect out
	natsURL := cfg.NatsURL
	var embedded *nats.EmbeddedServer
	if cfg.NatsEmbedded {
		embedded, err = nats.StartEmbedded(nats.EmbeddedConfig{
			StoreDir: cfg.NatsStoreDir,
			Port:     -1,
		})
		if err != nil {
			slog.Error("failed to start embedded NATS", "error", err)
			os.Exit(1)
		}
		defer embedded.Shutdown()
		natsURL = embedded.ClientURL()
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	slog.Info("connected to NATS")

	// Ensure JetStream streams and the delivery bucket exist
	if err := nc.EnsureStreams(ctx); err != nil {
		slog.Error("failed to setup JetStream streams", "error", err)
		os.Exit(1)
	}

	// Create the server; nil consumer selects the HTTP forwarder from
	// DELIVER_URL
	srv, err := server.New(cfg, sources, nc, nil)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Mandatory before intake: rebuild the dedup index from the durable
	// log and start the delivery scheduler (which also recovers stale
	// in-flight claims from a previous run)
	if err := srv.Rebuild(ctx); err != nil {
		slog.Error("startup rebuild failed", "error", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("starting server", "port", cfg.Port)
		if err := srv.Start(); err != nil {
			slog.Error("server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}

func setupLogging(cfg *config.Config) {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{}
	switch cfg.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	slog.SetDefault(slog.New(handler))
}
