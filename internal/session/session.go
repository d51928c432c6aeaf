package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
	"github.com/lexiqai/voice-relay/internal/stt"
	"github.com/lexiqai/voice-relay/internal/tts"
	"github.com/lexiqai/voice-relay/internal/turn"
)

// Status lines sent to the sink when a pipeline stage fails
const (
	TurnErrorText      = "Error from LLM."
	SynthesisErrorText = "Error from speech synthesis."
	ActionErrorText    = "Sorry, I couldn't do that."
)

// DefaultPipelineTimeout bounds one turn-plus-synthesis run
const DefaultPipelineTimeout = 20 * time.Second

// errChannelLost marks a replacement channel that failed before it was adopted
var errChannelLost = errors.New("transcription channel failed during reconnect")

// Modes label sessions in logs and metrics
const (
	ModeBrowser   = "browser"
	ModeTelephony = "telephony"
)

// State is the lifecycle state of a Session
type State int

const (
	StateIdle State = iota
	StateListening
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config wires one session to its collaborators. Engine, Synthesizer and
// Dispatcher are shared across sessions; the transcription channel is owned.
type Config struct {
	Key  string
	Mode string

	Provider           stt.Provider
	STTOptions         stt.Options
	PreOpenBufferBytes int

	Engine      turn.Engine
	Synthesizer tts.Synthesizer // nil skips synthesis
	Dispatcher  Dispatcher      // nil rejects every action

	Sink Sink

	PipelineTimeout time.Duration
	Reconnect       *resilience.ReconnectConfig // nil or zero attempts disables

	// OnClose runs once after the session closes
	OnClose func()

	Logger zerolog.Logger
}

// Session is one live audio source: it owns a transcription channel and runs
// at most one turn pipeline at a time.
type Session struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.SessionMetrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	channel *stt.Channel
	pending *string // latest finalized utterance waiting for the pipeline
	idle    chan struct{}

	generation   atomic.Int64 // current channel generation
	reconnecting atomic.Bool
	closeOnce    sync.Once
}

// New creates an idle session
func New(cfg Config) *Session {
	if cfg.Sink == nil {
		cfg.Sink = discardSink{}
	}
	if cfg.PipelineTimeout <= 0 {
		cfg.PipelineTimeout = DefaultPipelineTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Session{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: observability.NewSessionMetrics(cfg.Mode),
		ctx:     ctx,
		cancel:  cancel,
		idle:    idle,
	}
}

// Key returns the session key
func (s *Session) Key() string {
	return s.cfg.Key
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open starts the transcription channel and moves the session to Listening.
// Connection failures are reported asynchronously through the reconnect policy.
func (s *Session) Open() {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateListening
	s.channel = s.openChannel(s.generation.Load())
	s.mu.Unlock()

	s.logger.Info().Msg("Session opened")
}

func (s *Session) openChannel(gen int64) *stt.Channel {
	return stt.Open(s.ctx, s.cfg.Provider, stt.ChannelConfig{
		Options:            s.cfg.STTOptions,
		PreOpenBufferBytes: s.cfg.PreOpenBufferBytes,
		Logger:             s.logger,
	}, &channelListener{session: s, generation: gen})
}

// SendAudio forwards one inbound chunk. Chunks received before Open or after
// Close are dropped.
func (s *Session) SendAudio(chunk []byte) {
	s.mu.Lock()
	ch := s.channel
	closed := s.state == StateClosed
	s.mu.Unlock()
	if ch == nil || closed {
		return
	}
	ch.SendAudio(chunk)
}

// Close tears the session down. It is idempotent. In-flight pipeline calls
// are not canceled; their results are discarded.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.pending = nil
		ch := s.channel
		s.mu.Unlock()

		s.cancel()
		if ch != nil {
			ch.Close()
		}
		s.metrics.RecordSessionEnd()
		if s.cfg.OnClose != nil {
			s.cfg.OnClose()
		}
		s.logger.Info().Msg("Session closed")
	})
}

// WaitIdle blocks until no pipeline is running or ctx is done
func (s *Session) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// channelListener ties a channel generation to the session so failures of
// replaced channels are ignored
type channelListener struct {
	session    *Session
	generation int64
}

func (l *channelListener) OnTranscript(ev stt.Event) {
	l.session.handleTranscript(ev)
}

func (l *channelListener) OnError(err error) {
	if l.session.generation.Load() != l.generation {
		return
	}
	l.session.handleChannelError(err)
}

func (s *Session) handleTranscript(ev stt.Event) {
	s.metrics.RecordTranscript(ev.Text, ev.IsFinal)
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	if s.State() == StateClosed {
		return
	}

	if ev.IsFinal {
		s.logger.Info().Str("transcript", text).Msg("Final transcript")
	} else {
		s.logger.Debug().Str("transcript", text).Msg("Partial transcript")
	}
	s.deliver("transcript", func() error { return s.cfg.Sink.Transcript(text, ev.IsFinal) })

	if !ev.IsFinal {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateListening:
		s.state = StateFinalizing
		s.idle = make(chan struct{})
		go s.runPipelines(text, s.idle)
	case StateFinalizing:
		if s.pending != nil {
			s.metrics.RecordSuperseded()
			s.logger.Debug().Str("superseded", *s.pending).Msg("Pending utterance superseded")
		}
		s.pending = &text
	}
}

// runPipelines runs the pipeline for text, then for whatever utterance is
// pending when it finishes, until none is left
func (s *Session) runPipelines(text string, idle chan struct{}) {
	defer close(idle)
	for {
		s.runPipeline(text)

		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		if s.pending == nil {
			s.state = StateListening
			s.mu.Unlock()
			return
		}
		text = *s.pending
		s.pending = nil
		s.mu.Unlock()
	}
}

func (s *Session) runPipeline(text string) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(turn.WithSessionKey(context.Background(), s.cfg.Key), s.cfg.PipelineTimeout)
	defer cancel()

	t0 := time.Now()
	result, err := s.cfg.Engine.Submit(ctx, text)
	s.metrics.RecordStage("turn", t0, err)
	if err != nil {
		s.fail("turn", err)
		s.reply(TurnErrorText)
		s.metrics.RecordPipeline("turn_error", started)
		return
	}
	if s.State() == StateClosed {
		s.logger.Debug().Msg("Session closed during turn, discarding result")
		s.metrics.RecordPipeline("discarded", started)
		return
	}

	if result.Kind == turn.KindAction && result.Action != nil {
		s.runAction(ctx, *result.Action, started)
		return
	}

	s.logger.Info().Str("reply", result.Text).Msg("Turn engine replied")
	s.reply(result.Text)
	if s.cfg.Synthesizer == nil {
		s.metrics.RecordPipeline("success", started)
		return
	}

	t0 = time.Now()
	audio, err := s.cfg.Synthesizer.Synthesize(ctx, result.Text)
	s.metrics.RecordStage("tts", t0, err)
	if err != nil {
		s.fail("tts", err)
		s.reply(SynthesisErrorText)
		s.metrics.RecordPipeline("tts_error", started)
		return
	}
	if len(audio) > 0 {
		s.deliver("audio", func() error { return s.cfg.Sink.Audio(audio) })
		observability.RecordAudioBytes("outbound", len(audio))
	}
	s.metrics.RecordPipeline("success", started)
}

func (s *Session) runAction(ctx context.Context, req turn.ActionRequest, started time.Time) {
	s.logger.Info().Str("action", req.Name).Interface("arguments", req.Arguments).Msg("Dispatching action")

	if s.cfg.Dispatcher == nil {
		s.fail("action", errors.New("no action dispatcher configured"))
		s.reply(ActionErrorText)
		s.metrics.RecordPipeline("action_error", started)
		return
	}

	t0 := time.Now()
	status, err := s.cfg.Dispatcher.Dispatch(ctx, req)
	s.metrics.RecordStage("action", t0, err)
	if err != nil {
		s.fail("action", err)
		s.reply(ActionErrorText)
		s.metrics.RecordPipeline("action_error", started)
		return
	}
	s.reply(status)
	s.metrics.RecordPipeline("action", started)
}

func (s *Session) fail(stage string, err error) {
	s.logger.Error().Err(err).Str("stage", stage).Msg("Pipeline stage failed")
	observability.CaptureError(err, map[string]string{
		"stage":       stage,
		"mode":        s.cfg.Mode,
		"session_key": s.cfg.Key,
	})
}

func (s *Session) reply(text string) {
	if text == "" {
		return
	}
	s.deliver("reply", func() error { return s.cfg.Sink.Reply(text) })
}

// deliver writes to the sink unless the session closed; failures are dropped
func (s *Session) deliver(kind string, write func() error) {
	if s.State() == StateClosed {
		s.logger.Debug().Str("message", kind).Msg("Session closed, dropping outbound message")
		return
	}
	if err := write(); err != nil {
		s.logger.Debug().Err(err).Str("message", kind).Msg("Outbound delivery failed")
	}
}

func (s *Session) handleChannelError(err error) {
	if s.State() == StateClosed {
		return
	}
	if !s.cfg.Reconnect.Enabled() {
		s.logger.Warn().Err(err).Msg("Transcription channel failed, continuing without transcription")
		return
	}
	if !s.reconnecting.CompareAndSwap(false, true) {
		s.logger.Debug().Err(err).Msg("Transcription channel failed, reconnect already running")
		return
	}
	s.logger.Warn().Err(err).Msg("Transcription channel failed, reconnecting")
	go s.reconnect()
}

func (s *Session) reconnect() {
	err := resilience.Reconnect(s.ctx, func(ctx context.Context) error {
		gen := s.generation.Load() + 1
		ch := s.openChannel(gen)
		if err := ch.Wait(ctx); err != nil {
			ch.Close()
			return err
		}

		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			ch.Close()
			return nil
		}
		old := s.channel
		s.channel = ch
		s.generation.Store(gen)
		s.mu.Unlock()

		if old != nil {
			old.Close()
		}
		// Failures reported before the generation was stored were ignored
		if ch.State() == stt.StateClosed {
			return errChannelLost
		}
		return nil
	}, s.cfg.Reconnect, s.logger)
	s.reconnecting.Store(false)

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("Transcription channel reconnect gave up, continuing without transcription")
		}
		return
	}

	// A failure between the last check and clearing the flag was skipped
	s.mu.Lock()
	ch := s.channel
	closed := s.state == StateClosed
	s.mu.Unlock()
	if !closed && ch != nil && ch.State() == stt.StateClosed {
		s.handleChannelError(errChannelLost)
	}
}
