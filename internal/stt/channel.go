package stt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/audio"
	"github.com/lexiqai/voice-relay/internal/observability"
)

// State is the lifecycle state of a Channel
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// DefaultPreOpenBufferBytes bounds audio held while a channel is connecting
const DefaultPreOpenBufferBytes = 64 * 1024

// ChannelConfig configures one transcription channel
type ChannelConfig struct {
	Options Options

	// PreOpenBufferBytes bounds audio held until the stream opens
	PreOpenBufferBytes int

	Logger zerolog.Logger
}

// Channel owns one provider stream for the lifetime of a session.
//
// Transitions:
//
//	Connecting --connected-->      Open
//	Connecting --connectFailed-->  Closed (OnError, once)
//	Open       --streamFailed-->   Closed (OnError, once)
//	any        --closeRequested--> Closed
//
// Transcript events are forwarded only while the channel is not Closed.
type Channel struct {
	provider Provider
	opts     Options
	listener Listener
	logger   zerolog.Logger

	state atomic.Int32

	mu      sync.Mutex
	conn    Conn
	pending *audio.RingBuffer
	cancel  context.CancelFunc
	opened  chan struct{}
	openErr error
}

// Open starts connecting to the provider and returns immediately. Audio
// sent before the stream opens is buffered and flushed in order once it does.
func Open(ctx context.Context, p Provider, cfg ChannelConfig, l Listener) *Channel {
	size := cfg.PreOpenBufferBytes
	if size <= 0 {
		size = DefaultPreOpenBufferBytes
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		provider: p,
		opts:     cfg.Options,
		listener: l,
		logger:   cfg.Logger,
		pending:  audio.NewRingBuffer(size),
		cancel:   cancel,
		opened:   make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	go c.connect(ctx)
	return c
}

// State returns the current lifecycle state
func (c *Channel) State() State {
	return State(c.state.Load())
}

func (c *Channel) connect(ctx context.Context) {
	conn, err := c.provider.Connect(ctx, c.opts, channelListener{c})

	c.mu.Lock()
	if c.State() == StateClosed {
		// Closed while connecting
		c.mu.Unlock()
		if conn != nil {
			go conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.fail("connect", err)
		return
	}

	c.conn = conn
	buffered := c.pending.Drain()
	c.transitionLocked(StateOpen, nil)
	var werr error
	if len(buffered) > 0 {
		werr = conn.Write(buffered)
	}
	c.mu.Unlock()

	c.logger.Debug().Int("flushed_bytes", len(buffered)).Msg("Transcription channel open")
	if werr != nil {
		c.fail("stream", werr)
	}
}

// transitionLocked moves to s. Leaving Connecting releases Wait with openErr.
func (c *Channel) transitionLocked(s State, openErr error) {
	prev := State(c.state.Swap(int32(s)))
	if prev == StateConnecting && s != StateConnecting {
		c.openErr = openErr
		close(c.opened)
	}
}

// Wait blocks until the channel opens, fails to open, or ctx is done.
// It returns nil once open, a *ConnectionError on connect failure, and
// ErrClosed if Close ran first.
func (c *Channel) Wait(ctx context.Context) error {
	select {
	case <-c.opened:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.openErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendAudio forwards one chunk. It never fails: late chunks after close are
// ignored and chunks that overflow the pre-open buffer are dropped.
func (c *Channel) SendAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	c.mu.Lock()
	switch c.State() {
	case StateClosed:
		c.mu.Unlock()
		return
	case StateConnecting:
		wasFull := c.pending.IsFull()
		if n := c.pending.Write(chunk); n < len(chunk) {
			observability.RecordPreOpenDropped(len(chunk) - n)
			if !wasFull {
				c.logger.Debug().Int("dropped_bytes", len(chunk)-n).Msg("Pre-open audio buffer full")
			}
		}
		c.mu.Unlock()
		return
	}
	err := c.conn.Write(chunk)
	c.mu.Unlock()

	if err != nil {
		c.fail("stream", err)
	}
}

// Close releases the provider stream. It is idempotent and cancels a
// pending connect.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.State() == StateClosed {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(StateClosed, ErrClosed)
	conn := c.conn
	c.conn = nil
	c.pending.Clear()
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Error closing transcription stream")
		}
	}
}

// fail closes the channel and reports one ConnectionError to the listener
func (c *Channel) fail(op string, err error) {
	c.mu.Lock()
	if c.State() == StateClosed {
		c.mu.Unlock()
		return
	}
	cerr := &ConnectionError{Op: op, Err: err}
	c.transitionLocked(StateClosed, cerr)
	conn := c.conn
	c.conn = nil
	c.pending.Clear()
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		// The provider may be reporting from its own read loop
		go conn.Close()
	}

	observability.RecordSTTConnectionError(op)
	c.listener.OnError(cerr)
}

// channelListener gates provider callbacks on the channel state
type channelListener struct {
	c *Channel
}

func (l channelListener) OnTranscript(ev Event) {
	if l.c.State() == StateClosed {
		return
	}
	l.c.listener.OnTranscript(ev)
}

func (l channelListener) OnError(err error) {
	var merr *MalformedEventError
	if errors.As(err, &merr) {
		observability.RecordDroppedEvent("malformed_provider_event")
		l.c.logger.Warn().Err(err).Msg("Dropping malformed provider event")
		return
	}
	l.c.fail("stream", err)
}
