package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orgpilot/voice-agent-service/internal/config"
	"github.com/orgpilot/voice-agent-service/internal/llm"
	"github.com/orgpilot/voice-agent-service/internal/metrics"
	"github.com/orgpilot/voice-agent-service/internal/registry"
	"github.com/orgpilot/voice-agent-service/internal/server"
	"github.com/orgpilot/voice-agent-service/internal/session"
	"github.com/orgpilot/voice-agent-service/internal/stt"
	"github.com/orgpilot/voice-agent-service/internal/telephony"
	"github.com/orgpilot/voice-agent-service/internal/tts"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-agent-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("public_host", cfg.HTTP.PublicHost),
		slog.Int("max_concurrent_calls", cfg.Session.MaxConcurrentCalls),
		slog.String("recognizer_model", cfg.Recognizer.Model),
		slog.String("synthesizer_voice", cfg.Synthesizer.VoiceID),
		slog.String("responder_model", cfg.Responder.Model),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize call setup registry
	callRegistry := registry.New(logger, cfg.Registry.GetSpecTTLDuration())
	logger.Info("Call registry initialized",
		slog.Duration("spec_ttl", cfg.Registry.GetSpecTTLDuration()),
	)

	// Initialize session manager
	sessionMgr := session.NewManager(logger, cfg.Session.GetStreamTimeoutDuration(), cfg.Session.MaxConcurrentCalls)
	logger.Info("Session manager initialized",
		slog.Duration("stream_timeout", cfg.Session.GetStreamTimeoutDuration()),
	)

	// Initialize telephony dialer
	dialer := telephony.NewDialer(telephony.Config{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
	}, logger)
	logger.Info("Telephony dialer initialized")

	// Build per-call sessions: each media stream gets its own recognizer,
	// response engine and synthesizer factory.
	builder := newSessionBuilder(cfg, logger, appMetrics)

	// Initialize HTTP server
	httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, sessionMgr, callRegistry, dialer, builder, appMetrics)
	logger.Info("HTTP server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	// Start HTTP server
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new calls and streams)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// End all live call sessions
	sessionMgr.Stop()

	// Stop the registry eviction routine
	callRegistry.Stop()

	logger.Info("Service stopped")
}

// newSessionBuilder returns the production session builder used by the
// media-stream handler.
func newSessionBuilder(cfg *config.Config, logger *slog.Logger, appMetrics *metrics.Metrics) server.SessionBuilder {
	sessionCfg := session.Config{
		SettleTimeout: cfg.Session.GetSettleTimeoutDuration(),
		SettleDelay:   cfg.Session.GetSettleDelayDuration(),
		GoodbyeGrace:  cfg.Session.GetGoodbyeGraceDuration(),
		RetryDelay:    cfg.Session.GetRetryDelayDuration(),
		Hooks: session.Hooks{
			TurnCompleted: func(d time.Duration) {
				appMetrics.RecordTurnCompleted(d.Seconds())
			},
			ResponderRequest: appMetrics.RecordResponderRequest,
			ResponderFailure: appMetrics.RecordResponderFailure,
			ResponderRetry:   appMetrics.RecordResponderRetry,
			SynthesizerError: appMetrics.RecordSynthesizerError,
		},
	}

	return func(ctx context.Context, streamID string, spec registry.CallSpec, sender session.MediaSender) (*session.Session, error) {
		engine := llm.NewEngine(llm.Config{
			APIKey:    cfg.Responder.APIKey,
			Model:     cfg.Responder.Model,
			MaxTokens: cfg.Responder.MaxTokens,
			Timeout:   cfg.Responder.GetTimeoutDuration(),
		}, logger)
		engine.Configure(llm.ConversationParams{
			Action:       spec.Action,
			Context:      spec.Context,
			CalleeName:   spec.CalleeName,
			AgentName:    spec.AgentName,
			Organization: spec.Organization,
		})

		// The utterance callback closes over sess; the recognizer only
		// invokes it after Start, when sess is already assigned.
		var sess *session.Session
		recognizer := stt.NewRecognizer(stt.Config{
			APIKey:         cfg.Recognizer.APIKey,
			Model:          cfg.Recognizer.Model,
			Endpointing:    cfg.Recognizer.GetEndpointingDuration(),
			ConnectTimeout: cfg.Recognizer.GetConnectTimeoutDuration(),
		}, logger, func(text string) {
			appMetrics.RecordUtterance()
			sess.OnUtterance(text)
		})

		factory := func(onAudio func(pcm []byte)) session.Synthesizer {
			return tts.NewSynthesizer(tts.Config{
				APIKey:          cfg.Synthesizer.APIKey,
				VoiceID:         cfg.Synthesizer.VoiceID,
				ModelID:         cfg.Synthesizer.ModelID,
				Stability:       cfg.Synthesizer.Stability,
				SimilarityBoost: cfg.Synthesizer.SimilarityBoost,
				ConnectTimeout:  cfg.Synthesizer.GetConnectTimeoutDuration(),
			}, logger, onAudio)
		}

		sess = session.New(streamID, sessionCfg, logger, recognizer, engine, factory, sender)
		if err := sess.Start(ctx); err != nil {
			return nil, err
		}
		return sess, nil
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
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
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
