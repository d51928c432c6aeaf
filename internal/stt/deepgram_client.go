package stt

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"
)

// errStreamClosed is reported when Deepgram closes a stream we did not close
var errStreamClosed = errors.New("deepgram closed the stream")

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler // Embed default handler for methods we don't override
	listener                               Listener
	closing                                *atomic.Bool
	logger                                 zerolog.Logger
}

func newMessageCallbackHandler(l Listener, closing *atomic.Bool, logger zerolog.Logger) *messageCallbackHandler {
	return &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		listener:               l,
		closing:                closing,
		logger:                 logger,
	}
}

// Message forwards transcription results to the listener
func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	if ev, ok := eventFromMessage(msg); ok {
		m.listener.OnTranscript(ev)
	}
	return nil
}

// Error reports a provider error as a stream failure
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.closing.Load() {
		return nil
	}
	m.logger.Warn().Interface("error", errorResponse).Msg("Deepgram error")
	m.listener.OnError(fmt.Errorf("deepgram error: %+v", errorResponse))
	return nil
}

// Close reports a provider-initiated close as a stream failure
func (m *messageCallbackHandler) Close(_ *msginterfaces.CloseResponse) error {
	if m.closing.Load() {
		return nil
	}
	m.listener.OnError(errStreamClosed)
	return nil
}

// eventFromMessage extracts the best alternative of a Results message
func eventFromMessage(msg *msginterfaces.MessageResponse) (Event, bool) {
	if msg == nil {
		return Event{}, false
	}
	switch msg.Type {
	case "Results", "Message":
	default:
		return Event{}, false
	}

	ev := Event{IsFinal: msg.IsFinal}
	if len(msg.Channel.Alternatives) > 0 {
		alt := msg.Channel.Alternatives[0]
		ev.Text = alt.Transcript
		ev.Confidence = alt.Confidence
	}
	return ev, true
}

// liveOptions maps recognition options onto the SDK's live options
func liveOptions(opts Options) *interfaces.LiveTranscriptionOptions {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          opts.Model,
		Language:       opts.Language,
		Punctuate:      opts.Punctuate,
		InterimResults: opts.InterimResults,
		Encoding:       opts.Encoding,
		SampleRate:     opts.SampleRate,
		Channels:       opts.Channels,
	}
	if opts.DisableEndpointing {
		tOptions.Endpointing = "false"
	}
	return tOptions
}

// DeepgramProvider opens streams through the Deepgram Go SDK
type DeepgramProvider struct {
	APIKey string

	// ClientOptions overrides SDK defaults (host, keepalive); nil uses defaults
	ClientOptions *interfaces.ClientOptions

	Logger zerolog.Logger
}

// NewDeepgramProvider creates an SDK-backed provider
func NewDeepgramProvider(apiKey string, logger zerolog.Logger) *DeepgramProvider {
	return &DeepgramProvider{APIKey: apiKey, Logger: logger}
}

// Connect creates the SDK websocket client and connects it
func (p *DeepgramProvider) Connect(ctx context.Context, opts Options, l Listener) (Conn, error) {
	closing := &atomic.Bool{}
	callback := newMessageCallbackHandler(l, closing, p.Logger)

	client, err := listenClient.NewWSUsingCallback(ctx, p.APIKey, p.ClientOptions, liveOptions(opts), callback)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !client.Connect() {
		return nil, errors.New("failed to connect to Deepgram")
	}

	p.Logger.Debug().
		Str("model", opts.Model).
		Str("language", opts.Language).
		Msg("Deepgram streaming client connected")
	return &deepgramConn{client: client, closing: closing}, nil
}

type deepgramConn struct {
	client  *listenClient.WSCallback
	closing *atomic.Bool
}

func (c *deepgramConn) Write(audio []byte) error {
	if c.closing.Load() {
		return ErrClosed
	}
	if _, err := c.client.Write(audio); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

func (c *deepgramConn) Close() error {
	if c.closing.Swap(true) {
		return nil
	}
	c.client.Finish()
	return nil
}
