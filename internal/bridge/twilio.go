package bridge

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/session"
)

// twilioMessage is one Twilio Media Streams event
type twilioMessage struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid,omitempty"`
	Start          *twilioStart `json:"start,omitempty"`
	Media          *twilioMedia `json:"media,omitempty"`
	Stop           *twilioStop  `json:"stop,omitempty"`
	Mark           *twilioMark  `json:"mark,omitempty"`
}

type twilioStart struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type twilioMedia struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type twilioStop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type twilioMark struct {
	Name string `json:"name"`
}

// TwilioHandler bridges Twilio media-stream sockets into registered sessions
type TwilioHandler struct {
	registry    *session.Registry
	newSession  NewSessionFunc
	returnAudio bool
	logger      zerolog.Logger
}

// NewTwilioHandler creates the /twilio-audio handler. With returnAudio set,
// synthesized audio is played back into the call.
func NewTwilioHandler(registry *session.Registry, newSession NewSessionFunc, returnAudio bool, logger zerolog.Logger) *TwilioHandler {
	return &TwilioHandler{
		registry:    registry,
		newSession:  newSession,
		returnAudio: returnAudio,
		logger:      logger,
	}
}

// callLeg is the per-socket state of one Twilio connection
type callLeg struct {
	h       *TwilioHandler
	writer  *socketWriter
	logger  zerolog.Logger
	current *session.Session
}

func (h *TwilioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade Twilio connection")
		return
	}

	leg := &callLeg{h: h, writer: newSocketWriter(conn), logger: h.logger}
	h.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Twilio media stream connected")

	defer func() {
		if leg.current != nil {
			leg.current.Close()
		}
		_ = leg.writer.Close()
		h.logger.Info().Msg("Twilio media stream disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if isUnexpectedClose(err) {
				h.logger.Warn().Err(err).Msg("Twilio socket read error")
			}
			return
		}
		if err := leg.handle(data); err != nil {
			var merr *MalformedEventError
			if errors.As(err, &merr) {
				observability.RecordDroppedEvent("malformed_control")
			}
			leg.logger.Warn().Err(err).Msg("Dropping Twilio event")
		}
	}
}

func (l *callLeg) handle(data []byte) error {
	var msg twilioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return &MalformedEventError{Payload: data, Err: err}
	}

	switch msg.Event {
	case "connected":
		l.logger.Info().Msg("Twilio stream handshake")
	case "start":
		return l.start(msg)
	case "media":
		return l.media(msg.Media)
	case "stop":
		l.stop(msg)
	case "mark":
		if msg.Mark != nil {
			l.logger.Debug().Str("mark", msg.Mark.Name).Msg("Playback mark reached")
		}
	default:
		observability.RecordDroppedEvent("unknown_event")
		l.logger.Info().Str("event", msg.Event).Msg("Ignoring unknown Twilio event")
	}
	return nil
}

func (l *callLeg) start(msg twilioMessage) error {
	if msg.Start == nil {
		return &MalformedEventError{Err: errors.New("start event without start payload")}
	}
	if l.current != nil {
		observability.RecordDroppedEvent("duplicate_start")
		return errors.New("start received twice on one stream")
	}

	callSid := msg.Start.CallSid
	streamSid := msg.Start.StreamSid
	if streamSid == "" {
		streamSid = msg.StreamSid
	}
	if callSid == "" {
		callSid = streamSid
	}
	if callSid == "" {
		return &MalformedEventError{Err: errors.New("start event without call identifier")}
	}

	logger := observability.SessionLogger(session.ModeTelephony, callSid).
		With().
		Str("stream_sid", streamSid).
		Logger()

	var sink session.Sink = NoopSink{Logger: logger}
	if l.h.returnAudio {
		sink = &TwilioMediaSink{NoopSink: NoopSink{Logger: logger}, w: l.writer, streamSid: streamSid}
	}

	var s *session.Session
	s = l.h.newSession(SessionSpec{
		Key:     callSid,
		Sink:    sink,
		Logger:  logger,
		OnClose: func() { l.h.registry.Release(callSid, s) },
	})
	if err := l.h.registry.Create(callSid, s); err != nil {
		s.Close()
		observability.RecordDroppedEvent("registry_rejected")
		return err
	}

	s.Open()
	l.current = s
	l.logger = logger
	logger.Info().
		Str("encoding", msg.Start.MediaFormat.Encoding).
		Int("sample_rate", msg.Start.MediaFormat.SampleRate).
		Msg("Call started")
	return nil
}

func (l *callLeg) media(media *twilioMedia) error {
	if l.current == nil {
		observability.RecordDroppedEvent("media_before_start")
		return nil
	}
	if media == nil {
		return &MalformedEventError{Err: errors.New("media event without media payload")}
	}
	if media.Track == "outbound" {
		return nil
	}

	encoded := media.Payload
	if encoded == "" {
		encoded = media.Chunk
	}
	if encoded == "" {
		return &MalformedEventError{Err: errors.New("media event without payload")}
	}
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return &MalformedEventError{Err: err}
	}

	observability.RecordAudioBytes("inbound", len(audio))
	l.current.SendAudio(audio)
	return nil
}

func (l *callLeg) stop(msg twilioMessage) {
	key := ""
	if msg.Stop != nil {
		key = msg.Stop.CallSid
	}
	if key == "" && l.current != nil {
		key = l.current.Key()
	}

	if s := l.h.registry.Remove(key); s != nil {
		s.Close()
	}
	if l.current != nil && l.current.Key() == key {
		l.current = nil
	}
	l.logger.Info().Str("call_sid", key).Msg("Call stopped")
}
