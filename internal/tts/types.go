package tts

import (
	"context"
	"fmt"
	"strings"
)

// Synthesizer converts text to audio bytes. Implementations are stateless
// and shared by every session.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Format is the audio encoding a synthesizer returns
type Format string

const (
	// FormatMP3 is played back by the browser client
	FormatMP3 Format = "mp3"

	// FormatMulaw8k is raw G.711 u-law at 8kHz, as Twilio media streams expect
	FormatMulaw8k Format = "mulaw_8000"
)

// Error reports a failed synthesis call
type Error struct {
	Provider   string
	StatusCode int    // HTTP status when the provider answered, else 0
	Code       string // provider error code when one was returned
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s synthesis: status %d: %v", e.Provider, e.StatusCode, e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s synthesis: %s: %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("%s synthesis: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// isBlank reports whether there is nothing worth synthesizing
func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
