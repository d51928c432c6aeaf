package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/actions"
	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
	"github.com/lexiqai/voice-relay/internal/stt"
	"github.com/lexiqai/voice-relay/internal/tts"
	"github.com/lexiqai/voice-relay/internal/turn"
)

// newSTTProvider selects the Deepgram transport
func newSTTProvider(cfg *config.Config, logger zerolog.Logger) stt.Provider {
	if cfg.STTTransport == config.STTTransportWebSocket {
		return stt.NewWebSocketProvider(cfg.DeepgramAPIKey, logger)
	}
	return stt.NewDeepgramProvider(cfg.DeepgramAPIKey, logger)
}

// newActions registers every supported action
func newActions(cfg *config.Config, logger zerolog.Logger) (*actions.Registry, error) {
	groups, err := cfg.HueGroups()
	if err != nil {
		return nil, err
	}
	registry := actions.NewRegistry()
	hue := actions.NewHueLights(actions.HueConfig{
		BridgeURL: cfg.HueBridgeURL,
		Username:  cfg.HueUsername,
		Groups:    groups,
	}, logger)
	if err := registry.Register(hue.Action()); err != nil {
		return nil, err
	}
	return registry, nil
}

func newBreaker(cfg *config.Config, name string) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(name, cfg.CircuitBreakerMaxFailures, time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	cb.OnStateChange = func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	}
	return cb
}

func newRetry(cfg *config.Config) *resilience.RetryConfig {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond
	return retry
}

// turnEngine is the shared engine plus an optional cleanup
type turnEngine struct {
	*turn.ResilientEngine
	close func() error
}

// newTurnEngine builds the configured engine with the registry's tools
func newTurnEngine(ctx context.Context, cfg *config.Config, tools []turn.Tool) (*turnEngine, error) {
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = turn.DefaultSystemPrompt
	}

	var (
		engine turn.Engine
		closer = func() error { return nil }
	)
	switch cfg.TurnProvider {
	case config.TurnProviderOpenAI:
		engine = turn.NewOpenAIClient(turn.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			SystemPrompt: prompt,
			Tools:        tools,
		})
	case config.TurnProviderGemini:
		gemini, err := turn.NewGeminiClient(ctx, turn.GeminiConfig{
			APIKey:       cfg.GeminiAPIKey,
			Model:        cfg.GeminiModel,
			SystemPrompt: prompt,
			Tools:        tools,
		})
		if err != nil {
			return nil, err
		}
		engine = gemini
	case config.TurnProviderOrchestrator:
		orch, err := turn.NewOrchestratorClient(cfg.OrchestratorURL, tools)
		if err != nil {
			return nil, err
		}
		engine, closer = orch, orch.Close
	default:
		return nil, fmt.Errorf("unknown turn provider %q", cfg.TurnProvider)
	}

	resilient := turn.Resilient(engine, newBreaker(cfg, "turn_"+cfg.TurnProvider), newRetry(cfg))
	return &turnEngine{ResilientEngine: resilient, close: closer}, nil
}

// newSynthesizer builds the configured backend for one output format
func newSynthesizer(cfg *config.Config, format tts.Format) (tts.Synthesizer, error) {
	var synth tts.Synthesizer
	switch cfg.TTSProvider {
	case config.TTSProviderElevenLabs:
		synth = tts.NewElevenLabsClient(tts.ElevenLabsConfig{
			APIKey:  cfg.ElevenAPIKey,
			VoiceID: cfg.ElevenVoiceID,
			ModelID: cfg.ElevenModelID,
			Format:  format,
		})
	case config.TTSProviderCartesia:
		synth = tts.NewCartesiaClient(tts.CartesiaConfig{
			APIKey:   cfg.CartesiaAPIKey,
			VoiceID:  cfg.CartesiaVoiceID,
			ModelID:  cfg.CartesiaModelID,
			Language: cfg.DeepgramLanguage,
			Format:   format,
		})
	case config.TTSProviderPolly:
		polly, err := tts.NewPollyClient(tts.PollyConfig{
			Region: cfg.PollyRegion,
			Voice:  cfg.PollyVoice,
			Engine: cfg.PollyEngine,
			Format: format,
		})
		if err != nil {
			return nil, err
		}
		synth = polly
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.TTSProvider)
	}
	name := fmt.Sprintf("tts_%s_%s", cfg.TTSProvider, format)
	return tts.Resilient(synth, newBreaker(cfg, name), newRetry(cfg)), nil
}
