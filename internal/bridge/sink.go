package bridge

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrSinkClosed is returned for writes after the socket went away
var ErrSinkClosed = errors.New("outbound socket closed")

const writeTimeout = 10 * time.Second

// transcriptMessage and replyMessage are the JSON shapes the browser client reads
type transcriptMessage struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
}

type replyMessage struct {
	LLMResponse string `json:"llmResponse"`
}

// socketWriter serialises writes to one websocket
type socketWriter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newSocketWriter(conn *websocket.Conn) *socketWriter {
	return &socketWriter{conn: conn}
}

func (w *socketWriter) write(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrSinkClosed
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(messageType, data)
}

func (w *socketWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.write(websocket.TextMessage, data)
}

// Close marks the writer closed and closes the socket
func (w *socketWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}

// WebSocketSink delivers results to a browser socket: JSON transcript and
// reply messages, synthesized audio as binary frames
type WebSocketSink struct {
	w *socketWriter
}

func (s *WebSocketSink) Transcript(text string, isFinal bool) error {
	return s.w.writeJSON(transcriptMessage{Transcript: text, IsFinal: isFinal})
}

func (s *WebSocketSink) Reply(text string) error {
	return s.w.writeJSON(replyMessage{LLMResponse: text})
}

func (s *WebSocketSink) Audio(audio []byte) error {
	return s.w.write(websocket.BinaryMessage, audio)
}

// NoopSink is used for call legs without a return audio channel. It logs
// what would have been sent.
type NoopSink struct {
	Logger zerolog.Logger
}

func (s NoopSink) Transcript(text string, isFinal bool) error {
	s.Logger.Debug().Str("transcript", text).Bool("is_final", isFinal).Msg("No return channel, transcript not sent")
	return nil
}

func (s NoopSink) Reply(text string) error {
	s.Logger.Info().Str("reply", text).Msg("No return channel, reply not sent")
	return nil
}

func (s NoopSink) Audio(audio []byte) error {
	s.Logger.Debug().Int("bytes", len(audio)).Msg("No return channel, audio not sent")
	return nil
}

// twilioOutboundMedia is a media frame played back on the call
type twilioOutboundMedia struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// TwilioMediaSink plays synthesized u-law audio back into the call. Text
// results have nowhere to go and are logged.
type TwilioMediaSink struct {
	NoopSink
	w         *socketWriter
	streamSid string
}

// mediaFrameBytes is 20 ms of 8 kHz u-law, the frame size Media Streams sends
const mediaFrameBytes = 160

// Audio sends the utterance as consecutive media frames of mediaFrameBytes
func (s *TwilioMediaSink) Audio(audio []byte) error {
	for len(audio) > 0 {
		n := min(len(audio), mediaFrameBytes)
		msg := twilioOutboundMedia{Event: "media", StreamSid: s.streamSid}
		msg.Media.Payload = base64.StdEncoding.EncodeToString(audio[:n])
		if err := s.w.writeJSON(msg); err != nil {
			return err
		}
		audio = audio[n:]
	}
	return nil
}
