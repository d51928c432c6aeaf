// Package bridge relays audio sockets into sessions and session results back
// onto the sockets.
package bridge

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients are served from the same host; Twilio connects from its own ranges
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// SessionSpec is what the bridge knows about a session it needs built
type SessionSpec struct {
	Key     string
	Sink    session.Sink
	Logger  zerolog.Logger
	OnClose func()
}

// NewSessionFunc builds an unopened session. The caller wires the shared
// turn engine, synthesizer and transcription provider.
type NewSessionFunc func(SessionSpec) *session.Session

// MalformedEventError is an inbound control frame that could not be parsed
type MalformedEventError struct {
	Payload []byte
	Err     error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed control event: %v", e.Err)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

func isUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure)
}
