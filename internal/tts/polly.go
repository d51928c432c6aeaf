package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/lexiqai/voice-relay/internal/resilience"
)

// ErrUnsupportedFormat is returned when a backend cannot produce the requested audio
var ErrUnsupportedFormat = errors.New("unsupported audio format")

type pollySynthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyConfig holds configuration for Amazon Polly
type PollyConfig struct {
	Region string
	Voice  string // e.g. Joanna
	Engine string // neural or standard
	Format Format
}

// PollyClient synthesizes speech with Amazon Polly. Credentials come from
// the default AWS chain.
type PollyClient struct {
	cfg PollyConfig

	mu     sync.Mutex
	client pollySynthClient
}

// NewPollyClient creates a Polly client; the AWS config is loaded on first use
func NewPollyClient(cfg PollyConfig) (*PollyClient, error) {
	return newPollyClient(cfg, nil)
}

func newPollyClient(cfg PollyConfig, client pollySynthClient) (*PollyClient, error) {
	if cfg.Format == "" {
		cfg.Format = FormatMP3
	}
	if cfg.Format != FormatMP3 {
		// Polly has no u-law output and transcoding is not done here
		return nil, fmt.Errorf("polly: %w %q", ErrUnsupportedFormat, cfg.Format)
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = "Joanna"
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	return &PollyClient{cfg: cfg, client: client}, nil
}

func (p *PollyClient) resolveClient(ctx context.Context) (pollySynthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}

// Synthesize converts text to mp3 speech
func (p *PollyClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if isBlank(text) {
		return nil, nil
	}
	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, &Error{Provider: "polly", Err: err}
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(p.cfg.Voice),
	})
	if err != nil {
		return nil, normalizePollyError(err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, &Error{Provider: "polly", Err: errors.New("empty audio response")}
	}
	defer output.AudioStream.Close()

	audio, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, &Error{Provider: "polly", Err: fmt.Errorf("failed to read audio: %w", err)}
	}
	return audio, nil
}

func normalizePollyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: "polly", Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		e := &Error{Provider: "polly", Code: apiErr.ErrorCode(), Err: err}
		switch apiErr.ErrorCode() {
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
			"MarksNotSupportedForFormatException", "InvalidSampleRateException":
		default:
			// Throttling and service faults are worth another attempt
			e.Err = resilience.NewRetryableError(err)
		}
		return e
	}
	return &Error{Provider: "polly", Err: err}
}
