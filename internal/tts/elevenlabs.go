package tts

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const elevenLabsAPIURL = "https://api.elevenlabs.io"

// ElevenLabsConfig holds configuration for the ElevenLabs client
type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string // ElevenLabs voice ID
	ModelID string // e.g., "eleven_flash_v2_5" for low latency
	Format  Format

	BaseURL    string
	HTTPClient *http.Client
}

// ElevenLabsClient synthesizes speech with the ElevenLabs REST API
type ElevenLabsClient struct {
	apiKey     string
	voiceID    string
	modelID    string
	format     Format
	baseURL    string
	httpClient *http.Client
}

// NewElevenLabsClient creates a new ElevenLabs client
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	c := &ElevenLabsClient{
		apiKey:     cfg.APIKey,
		voiceID:    cfg.VoiceID,
		modelID:    cfg.ModelID,
		format:     cfg.Format,
		baseURL:    cfg.BaseURL,
		httpClient: httpClientOrDefault(cfg.HTTPClient),
	}
	if c.voiceID == "" {
		c.voiceID = "21m00Tcm4TlvDq8ikWAM" // Rachel
	}
	if c.modelID == "" {
		c.modelID = "eleven_flash_v2_5"
	}
	if c.format == "" {
		c.format = FormatMP3
	}
	if c.baseURL == "" {
		c.baseURL = elevenLabsAPIURL
	}
	return c
}

type elevenLabsRequest struct {
	Text          string                 `json:"text"`
	ModelID       string                 `json:"model_id"`
	VoiceSettings elevenLabsVoiceSetting `json:"voice_settings"`
}

type elevenLabsVoiceSetting struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (c *ElevenLabsClient) outputFormat() string {
	if c.format == FormatMulaw8k {
		return "ulaw_8000"
	}
	return "mp3_44100_128"
}

// Synthesize converts text to speech in the configured format
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if isBlank(text) {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		c.baseURL, url.PathEscape(c.voiceID), c.outputFormat())

	headers := http.Header{}
	headers.Set("xi-api-key", c.apiKey)
	headers.Set("Accept", "audio/mpeg")

	return postForAudio(ctx, c.httpClient, "elevenlabs", endpoint, headers, elevenLabsRequest{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: elevenLabsVoiceSetting{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
}
