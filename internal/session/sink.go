package session

import (
	"context"

	"github.com/lexiqai/voice-relay/internal/turn"
)

// Sink is the outbound destination for one session's results. The transport
// owns its lifetime; a Sink must tolerate calls after the transport is gone
// by returning an error.
type Sink interface {
	// Transcript delivers a partial or final transcript
	Transcript(text string, isFinal bool) error
	// Reply delivers language-model text or a status line
	Reply(text string) error
	// Audio delivers synthesized audio
	Audio(audio []byte) error
}

// Dispatcher runs action requests returned by the turn engine
type Dispatcher interface {
	Dispatch(ctx context.Context, req turn.ActionRequest) (string, error)
}

type discardSink struct{}

func (discardSink) Transcript(string, bool) error { return nil }
func (discardSink) Reply(string) error            { return nil }
func (discardSink) Audio([]byte) error            { return nil }
