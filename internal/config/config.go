package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Provider names accepted by TURN_PROVIDER, TTS_PROVIDER and STT_TRANSPORT
const (
	TurnProviderOpenAI       = "openai"
	TurnProviderGemini       = "gemini"
	TurnProviderOrchestrator = "orchestrator"

	TTSProviderElevenLabs = "elevenlabs"
	TTSProviderCartesia   = "cartesia"
	TTSProviderPolly      = "polly"

	STTTransportSDK       = "sdk"
	STTTransportWebSocket = "websocket"
)

// Config holds all configuration for the voice relay service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"3000"`

	// Public host name Twilio reaches us on (e.g. xxx.ngrok-free.app).
	// Used for the outbound-voice TwiML stream URL and the call callback URL.
	PublicHost string `envconfig:"PUBLIC_HOST" default:"example-ngrok.ngrok-free.app"`
	StaticDir  string `envconfig:"STATIC_DIR" default:"public"`

	// Deepgram STT configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	STTTransport     string `envconfig:"STT_TRANSPORT" default:"sdk"` // sdk, websocket

	// Transcription channel policy
	STTReconnectMaxAttempts int `envconfig:"STT_RECONNECT_MAX_ATTEMPTS" default:"0"`   // 0 disables reconnect
	STTReconnectBackoff     int `envconfig:"STT_RECONNECT_BACKOFF_MS" default:"1000"`  // milliseconds
	STTPreOpenBufferBytes   int `envconfig:"STT_PREOPEN_BUFFER_BYTES" default:"65536"` // audio held until the channel opens

	// Turn engine configuration
	TurnProvider    string `envconfig:"TURN_PROVIDER" default:"openai"` // openai, gemini, orchestrator
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel     string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	GeminiModel     string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	OrchestratorURL string `envconfig:"ORCHESTRATOR_URL" default:"localhost:50051"`
	SystemPrompt    string `envconfig:"SYSTEM_PROMPT"`

	// Speech synthesis configuration
	TTSProvider     string `envconfig:"TTS_PROVIDER" default:"elevenlabs"` // elevenlabs, cartesia, polly
	ElevenAPIKey    string `envconfig:"ELEVEN_API_KEY"`
	ElevenVoiceID   string `envconfig:"ELEVEN_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM"`
	ElevenModelID   string `envconfig:"ELEVEN_MODEL_ID" default:"eleven_flash_v2_5"`
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"a0e99841-438c-4a64-b679-ae501e7d6091"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic-2"`
	PollyRegion     string `envconfig:"POLLY_REGION" default:"us-east-1"`
	PollyVoice      string `envconfig:"POLLY_VOICE" default:"Joanna"`
	PollyEngine     string `envconfig:"POLLY_ENGINE" default:"neural"`

	// Pipeline and resilience configuration
	PipelineTimeout            int `envconfig:"PIPELINE_TIMEOUT_SECONDS" default:"20"`
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"2"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Telephony
	TwilioAccountSID     string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken      string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioCallerID       string `envconfig:"TWILIO_CALLER_ID"`
	TelephonyReturnAudio bool   `envconfig:"TELEPHONY_RETURN_AUDIO" default:"false"`

	// Philips Hue bridge for the setHueLights action; empty URL logs instead
	HueBridgeURL  string `envconfig:"HUE_BRIDGE_URL"`
	HueUsername   string `envconfig:"HUE_USERNAME"`
	HueRoomGroups string `envconfig:"HUE_ROOM_GROUPS"` // living:1,bedroom:2

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	SentryDSN      string `envconfig:"SENTRY_DSN"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks provider selections and the credentials they need
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}

	switch c.STTTransport {
	case STTTransportSDK, STTTransportWebSocket:
	default:
		return fmt.Errorf("unknown STT_TRANSPORT %q", c.STTTransport)
	}

	switch c.TurnProvider {
	case TurnProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for turn provider %q", c.TurnProvider)
		}
	case TurnProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for turn provider %q", c.TurnProvider)
		}
	case TurnProviderOrchestrator:
		if c.OrchestratorURL == "" {
			return fmt.Errorf("ORCHESTRATOR_URL is required for turn provider %q", c.TurnProvider)
		}
	default:
		return fmt.Errorf("unknown TURN_PROVIDER %q", c.TurnProvider)
	}

	switch c.TTSProvider {
	case TTSProviderElevenLabs:
		if c.ElevenAPIKey == "" {
			return fmt.Errorf("ELEVEN_API_KEY is required for tts provider %q", c.TTSProvider)
		}
	case TTSProviderCartesia:
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required for tts provider %q", c.TTSProvider)
		}
	case TTSProviderPolly:
		// Credentials come from the default AWS chain
	default:
		return fmt.Errorf("unknown TTS_PROVIDER %q", c.TTSProvider)
	}

	if _, err := c.HueGroups(); err != nil {
		return err
	}
	return nil
}

// PipelineTimeoutDuration returns the per-utterance pipeline bound
func (c *Config) PipelineTimeoutDuration() time.Duration {
	return time.Duration(c.PipelineTimeout) * time.Second
}

// TwilioConfigured reports whether outbound calls can be placed
func (c *Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioCallerID != ""
}

// HueGroups parses HUE_ROOM_GROUPS into a room -> group id map
func (c *Config) HueGroups() (map[string]int, error) {
	groups := make(map[string]int)
	if strings.TrimSpace(c.HueRoomGroups) == "" {
		return groups, nil
	}
	for _, pair := range strings.Split(c.HueRoomGroups, ",") {
		room, id, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || room == "" {
			return nil, fmt.Errorf("invalid HUE_ROOM_GROUPS entry %q", pair)
		}
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("invalid HUE_ROOM_GROUPS group id %q: %w", id, err)
		}
		groups[strings.ToLower(room)] = n
	}
	return groups, nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
