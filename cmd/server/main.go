package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/voice-relay/internal/bridge"
	"github.com/lexiqai/voice-relay/internal/callcontrol"
	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
	"github.com/lexiqai/voice-relay/internal/session"
	"github.com/lexiqai/voice-relay/internal/stt"
	"github.com/lexiqai/voice-relay/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	if err := observability.InitSentry(cfg.SentryDSN, config.GetEnv("ENVIRONMENT", "development")); err != nil {
		logger.Warn().Err(err).Msg("Sentry disabled")
	}
	defer observability.FlushSentry()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_transport", cfg.STTTransport).
		Str("turn_provider", cfg.TurnProvider).
		Str("tts_provider", cfg.TTSProvider).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice relay starting")

	ctx := context.Background()

	// Shared capabilities: one engine and one synthesizer per output format
	registry, err := newActions(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to register actions")
	}
	engine, err := newTurnEngine(ctx, cfg, registry.Tools())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create turn engine")
	}
	defer engine.close()

	browserSynth, err := newSynthesizer(cfg, tts.FormatMP3)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create synthesizer")
	}
	var phoneSynth tts.Synthesizer
	if cfg.TelephonyReturnAudio {
		phoneSynth, err = newSynthesizer(cfg, tts.FormatMulaw8k)
		if errors.Is(err, tts.ErrUnsupportedFormat) {
			logger.Warn().Err(err).Msg("Telephony return audio unavailable with this synthesizer, replies stay text only")
			phoneSynth = nil
		} else if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create telephony synthesizer")
		}
	}

	provider := newSTTProvider(cfg, logger)
	var reconnect *resilience.ReconnectConfig
	if cfg.STTReconnectMaxAttempts > 0 {
		reconnect = resilience.DefaultReconnectConfig()
		reconnect.MaxAttempts = cfg.STTReconnectMaxAttempts
		reconnect.Backoff = time.Duration(cfg.STTReconnectBackoff) * time.Millisecond
	}

	sessionFactory := func(mode string, opts stt.Options, synth tts.Synthesizer) bridge.NewSessionFunc {
		return func(spec bridge.SessionSpec) *session.Session {
			return session.New(session.Config{
				Key:                spec.Key,
				Mode:               mode,
				Provider:           provider,
				STTOptions:         opts,
				PreOpenBufferBytes: cfg.STTPreOpenBufferBytes,
				Engine:             engine,
				Synthesizer:        synth,
				Dispatcher:         registry,
				Sink:               spec.Sink,
				PipelineTimeout:    cfg.PipelineTimeoutDuration(),
				Reconnect:          reconnect,
				OnClose:            spec.OnClose,
				Logger:             spec.Logger,
			})
		}
	}

	calls := session.NewRegistry()
	browser := bridge.NewBrowserHandler(
		sessionFactory(session.ModeBrowser, stt.BrowserOptions(cfg.DeepgramModel, cfg.DeepgramLanguage), browserSynth),
		logger,
	)
	twilio := bridge.NewTwilioHandler(
		calls,
		sessionFactory(session.ModeTelephony, stt.TelephonyOptions(cfg.DeepgramModel, cfg.DeepgramLanguage), phoneSynth),
		cfg.TelephonyReturnAudio,
		logger,
	)
	dialer := callcontrol.NewDialer(callcontrol.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		CallerID:   cfg.TwilioCallerID,
		PublicHost: cfg.PublicHost,
	})
	if !cfg.TwilioConfigured() {
		logger.Warn().Msg("Twilio credentials not set, GET /call is disabled")
	}

	// Create HTTP server
	mux := http.NewServeMux()
	mux.Handle("/stt", browser)
	mux.Handle("/twilio-audio", twilio)
	mux.Handle("/twilio-audio/", twilio)
	mux.HandleFunc("GET /call", callcontrol.CallHandler(dialer, logger))
	mux.HandleFunc("POST /outbound-voice", callcontrol.OutboundVoiceHandler(cfg.PublicHost))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"turn_engine": func(ctx context.Context) (bool, error) {
			if err := engine.HealthCheck(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		"sessions": func(context.Context) (bool, error) {
			if calls.IsDraining() {
				return false, session.ErrDraining
			}
			return true, nil
		},
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}
	mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))

	// No write timeout: upgraded sockets live for the whole call
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           observability.RecoveryMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("browser_endpoint", fmt.Sprintf("ws://localhost:%s/stt", cfg.Port)).
			Str("twilio_endpoint", callcontrol.StreamURL(cfg.PublicHost)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	calls.StartDraining()
	closed := calls.CloseAll()
	logger.Info().Int("sessions", closed).Msg("Closed active call sessions")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
