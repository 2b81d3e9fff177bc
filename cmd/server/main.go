package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sjin4861/deepcatch-agent/internal/aispeech"
	"github.com/sjin4861/deepcatch-agent/internal/bridge"
	"github.com/sjin4861/deepcatch-agent/internal/callstore"
	"github.com/sjin4861/deepcatch-agent/internal/carrier"
	"github.com/sjin4861/deepcatch-agent/internal/config"
	"github.com/sjin4861/deepcatch-agent/internal/engine"
	"github.com/sjin4861/deepcatch-agent/internal/metrics"
	"github.com/sjin4861/deepcatch-agent/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "deepcatch-agent"
	serviceVersion    = "1.0.0"
)

func main() {
	// Credentials come from the environment; a local .env is optional
	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("address", cfg.Server.Address),
		slog.String("public_url", cfg.Server.PublicURL),
		slog.String("aispeech_endpoint", cfg.AISpeech.Endpoint),
		slog.Int("aispeech_sample_rate", cfg.AISpeech.SampleRate),
		slog.Int("ring_timeout", cfg.Engine.RingTimeout),
		slog.Int("call_timeout", cfg.Engine.CallTimeout),
		slog.String("scenario_dir", cfg.Scenario.Dir),
		slog.String("log_level", cfg.Logging.Level),
	)

	if cfg.Carrier.Simulated() {
		logger.Warn("carrier credentials not set, call placement runs simulated")
	}

	appMetrics := metrics.NewMetrics()
	store := callstore.New()

	aiDialer := func(ctx context.Context, callbacks aispeech.Callbacks) (bridge.SpeechConn, error) {
		return aispeech.Dial(ctx, cfg.AISpeech, callbacks, logger)
	}
	bridges := bridge.NewManager(cfg.Bridge, cfg.AISpeech.SampleRate, aiDialer,
		store, appMetrics, logger)
	logger.Info("Bridge manager initialized",
		slog.Int("telephony_rate", cfg.Bridge.TelephonyRate),
		slog.Int("outbound_queue", cfg.Bridge.OutboundQueue),
	)

	placer := carrier.NewClient(cfg.Carrier, logger)

	eng := engine.New(engine.Options{
		Engine:    cfg.Engine,
		Scenario:  cfg.Scenario,
		Placer:    placer,
		Store:     store,
		Bridges:   bridgeDirectory{bridges},
		Metrics:   appMetrics,
		Logger:    logger,
		StreamURL: websocketURL(cfg.Server.PublicURL) + "/voice/stream",
		StatusURL: cfg.Server.PublicURL + "/voice/status",
	})

	httpServer := server.NewHTTPServer(cfg.Server, logger, store, bridges, eng, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	bridges.Stop()

	logger.Info("Service stopped",
		slog.Int("calls_still_active", len(store.ActiveCalls())),
	)
}

// bridgeDirectory adapts the bridge manager to the engine's view of live
// sessions.
type bridgeDirectory struct {
	manager *bridge.Manager
}

func (d bridgeDirectory) TextSender(callSID string) (engine.TextSender, bool) {
	session, ok := d.manager.GetSession(callSID)
	if !ok {
		return nil, false
	}
	return session, true
}

// websocketURL rewrites an http(s) base URL to its ws(s) counterpart.
func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// initLogger creates the structured logger from the logging configuration.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
