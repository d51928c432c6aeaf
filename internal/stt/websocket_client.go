package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DeepgramListenURL is the streaming recognition endpoint
const DeepgramListenURL = "wss://api.deepgram.com/v1/listen"

const (
	defaultKeepAliveInterval = 8 * time.Second
	wsWriteTimeout           = 10 * time.Second
)

// listenResponse is the subset of a Deepgram listen message we consume
type listenResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

// WebSocketProvider talks to the Deepgram listen API over a plain websocket
type WebSocketProvider struct {
	APIKey string
	URL    string
	Dialer *websocket.Dialer

	// KeepAliveInterval sends KeepAlive frames so silent streams stay open; <0 disables
	KeepAliveInterval time.Duration

	Logger zerolog.Logger
}

// NewWebSocketProvider creates a provider for the public Deepgram endpoint
func NewWebSocketProvider(apiKey string, logger zerolog.Logger) *WebSocketProvider {
	return &WebSocketProvider{
		APIKey:            apiKey,
		URL:               DeepgramListenURL,
		Dialer:            websocket.DefaultDialer,
		KeepAliveInterval: defaultKeepAliveInterval,
		Logger:            logger,
	}
}

// ListenQuery encodes recognition options as listen query parameters
func ListenQuery(opts Options) url.Values {
	q := url.Values{}
	if opts.Model != "" {
		q.Set("model", opts.Model)
	}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	q.Set("punctuate", strconv.FormatBool(opts.Punctuate))
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	if opts.DisableEndpointing {
		q.Set("endpointing", "false")
	}
	if opts.Encoding != "" {
		q.Set("encoding", opts.Encoding)
	}
	if opts.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	}
	if opts.Channels > 0 {
		q.Set("channels", strconv.Itoa(opts.Channels))
	}
	return q
}

// Connect dials the listen endpoint and starts the read loop
func (p *WebSocketProvider) Connect(ctx context.Context, opts Options, l Listener) (Conn, error) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}
	u.RawQuery = ListenQuery(opts).Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.APIKey)

	dialer := p.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to Deepgram (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	c := &wsConn{
		conn:   conn,
		done:   make(chan struct{}),
		logger: p.Logger,
	}
	go c.readLoop(l)
	if p.KeepAliveInterval >= 0 {
		interval := p.KeepAliveInterval
		if interval == 0 {
			interval = defaultKeepAliveInterval
		}
		go c.keepAlive(interval)
	}
	return c, nil
}

type wsConn struct {
	conn      *websocket.Conn
	mu        sync.Mutex // serialises writes
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

func (c *wsConn) Write(audio []byte) error {
	return c.write(websocket.BinaryMessage, audio)
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// Close asks Deepgram to flush and closes the socket. It does not wait for
// the read loop, which may be the caller.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		close(c.done)
		c.mu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) readLoop(l Listener) {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// We closed it
			default:
				l.OnError(fmt.Errorf("read error: %w", err))
			}
			return
		}

		var resp listenResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			l.OnError(&MalformedEventError{Payload: msg, Err: err})
			continue
		}

		switch resp.Type {
		case "Results":
			ev := Event{IsFinal: resp.IsFinal}
			if len(resp.Channel.Alternatives) > 0 {
				ev.Text = resp.Channel.Alternatives[0].Transcript
				ev.Confidence = resp.Channel.Alternatives[0].Confidence
			}
			l.OnTranscript(ev)
		case "Metadata", "SpeechStarted", "UtteranceEnd":
			c.logger.Debug().Str("type", resp.Type).Msg("Deepgram event")
		default:
			c.logger.Debug().Str("type", resp.Type).Msg("Deepgram: unhandled message type")
		}
	}
}
