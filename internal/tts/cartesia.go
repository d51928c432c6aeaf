package tts

import (
	"context"
	"net/http"
)

const (
	cartesiaAPIURL  = "https://api.cartesia.ai"
	cartesiaVersion = "2024-06-10"
)

// CartesiaConfig holds configuration for the Cartesia client
type CartesiaConfig struct {
	APIKey   string
	VoiceID  string
	ModelID  string // default: sonic-2
	Language string
	Format   Format

	BaseURL    string
	HTTPClient *http.Client
}

// CartesiaClient synthesizes speech with Cartesia's /tts/bytes endpoint
type CartesiaClient struct {
	cfg        CartesiaConfig
	httpClient *http.Client
}

// cartesiaRequest represents the request payload for Cartesia TTS API
type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg CartesiaConfig) *CartesiaClient {
	if cfg.ModelID == "" {
		cfg.ModelID = "sonic-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Format == "" {
		cfg.Format = FormatMP3
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = cartesiaAPIURL
	}
	return &CartesiaClient{cfg: cfg, httpClient: httpClientOrDefault(cfg.HTTPClient)}
}

func (c *CartesiaClient) outputFormat() cartesiaOutputFormat {
	if c.cfg.Format == FormatMulaw8k {
		return cartesiaOutputFormat{Container: "raw", Encoding: "pcm_mulaw", SampleRate: 8000}
	}
	return cartesiaOutputFormat{Container: "mp3", SampleRate: 44100, BitRate: 128000}
}

// Synthesize converts text to speech in the configured format
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if isBlank(text) {
		return nil, nil
	}

	headers := http.Header{}
	headers.Set("X-API-Key", c.cfg.APIKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	return postForAudio(ctx, c.httpClient, "cartesia", c.cfg.BaseURL+"/tts/bytes", headers, cartesiaRequest{
		ModelID:      c.cfg.ModelID,
		Transcript:   text,
		Voice:        cartesiaVoice{Mode: "id", ID: c.cfg.VoiceID},
		OutputFormat: c.outputFormat(),
		Language:     c.cfg.Language,
	})
}
