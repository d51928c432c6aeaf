package stt

import (
	"context"
	"errors"
	"fmt"
)

// Event is one transcript event delivered by the provider
type Event struct {
	// Text is the transcribed text; it may be empty
	Text string

	// IsFinal indicates the provider will not revise this span again
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64
}

// Options are the recognition options requested when a stream opens
type Options struct {
	Model              string
	Language           string
	Punctuate          bool
	InterimResults     bool
	DisableEndpointing bool

	// Encoding, SampleRate and Channels describe raw audio. Leave them zero
	// for containerized audio (browser webm/opus) so the provider sniffs it.
	Encoding   string
	SampleRate int
	Channels   int
}

// BrowserOptions are used for microphone audio streamed from a browser tab
func BrowserOptions(model, language string) Options {
	return Options{
		Model:              model,
		Language:           language,
		Punctuate:          true,
		InterimResults:     true,
		DisableEndpointing: true,
	}
}

// TelephonyOptions are used for G.711 u-law call audio (Twilio media streams)
func TelephonyOptions(model, language string) Options {
	return Options{
		Model:          model,
		Language:       language,
		Punctuate:      true,
		InterimResults: true,
		Encoding:       "mulaw",
		SampleRate:     8000,
		Channels:       1,
	}
}

// Listener receives provider output. Calls for one stream are sequential
// and arrive in provider delivery order.
type Listener interface {
	OnTranscript(Event)
	OnError(error)
}

// Conn is a live provider stream
type Conn interface {
	Write(audio []byte) error
	Close() error
}

// Provider opens streaming recognition connections
type Provider interface {
	Connect(ctx context.Context, opts Options, l Listener) (Conn, error)
}

// ErrClosed is returned by Wait when the channel was closed before it opened
var ErrClosed = errors.New("transcription channel closed")

// ConnectionError reports that the transcription channel could not be
// established ("connect") or was lost mid-stream ("stream")
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("stt %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// MalformedEventError reports a provider payload that could not be parsed
type MalformedEventError struct {
	Payload []byte
	Err     error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed provider event (%d bytes): %v", len(e.Payload), e.Err)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}
