package bridge

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/session"
)

// BrowserHandler serves one session per browser microphone socket
type BrowserHandler struct {
	newSession NewSessionFunc
	logger     zerolog.Logger
}

// NewBrowserHandler creates the /stt handler
func NewBrowserHandler(newSession NewSessionFunc, logger zerolog.Logger) *BrowserHandler {
	return &BrowserHandler{newSession: newSession, logger: logger}
}

func (h *BrowserHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		h.logger.Warn().Err(err).Msg("Failed to upgrade browser connection")
		return
	}

	key := uuid.New().String()
	logger := observability.SessionLogger(session.ModeBrowser, key)
	writer := newSocketWriter(conn)
	s := h.newSession(SessionSpec{
		Key:    key,
		Sink:   &WebSocketSink{w: writer},
		Logger: logger,
	})
	s.Open()
	logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Browser client connected")

	defer func() {
		s.Close()
		_ = writer.Close()
		logger.Info().Msg("Browser client disconnected")
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if isUnexpectedClose(err) {
				logger.Warn().Err(err).Msg("Browser socket read error")
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			observability.RecordAudioBytes("inbound", len(data))
			s.SendAudio(data)
		default:
			logger.Debug().Int("bytes", len(data)).Msg("Ignoring non-audio frame")
		}
	}
}
