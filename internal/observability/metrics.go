package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_relay_active_sessions",
		Help: "Number of live audio sessions",
	}, []string{"mode"})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_sessions_total",
		Help: "Total number of audio sessions opened",
	}, []string{"mode"})

	sessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_relay_session_duration_seconds",
		Help:    "Duration of audio sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"mode"})

	// Transcription metrics
	transcriptEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_transcript_events_total",
		Help: "Transcript events received from the provider",
	}, []string{"kind"}) // kind: partial, final, empty

	sttConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_stt_connection_errors_total",
		Help: "Transcription channel connect or stream failures",
	}, []string{"op"})

	preOpenDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_stt_preopen_dropped_bytes_total",
		Help: "Audio bytes dropped because the pre-open buffer was full",
	})

	// Pipeline metrics
	pipelines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_pipelines_total",
		Help: "Pipeline runs by outcome",
	}, []string{"outcome"}) // outcome: success, action, turn_error, tts_error, action_error, discarded

	pipelineLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_pipeline_latency_seconds",
		Help:    "End to end pipeline latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0},
	})

	supersededUtterances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_superseded_utterances_total",
		Help: "Pending utterances replaced by a newer final transcript",
	})

	// Provider call metrics
	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_relay_provider_latency_seconds",
		Help:    "Turn engine and synthesis call latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage", "status"}) // stage: turn, tts, action

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_relay_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_audio_bytes_total",
		Help: "Total audio bytes relayed",
	}, []string{"direction"}) // direction: inbound, outbound

	// Control-plane metrics
	droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_dropped_events_total",
		Help: "Inbound events dropped by the audio bridge",
	}, []string{"reason"})
)

// SessionMetrics tracks metrics for a single session
type SessionMetrics struct {
	mode      string
	startTime time.Time
}

// NewSessionMetrics records a session start and returns its tracker
func NewSessionMetrics(mode string) *SessionMetrics {
	activeSessions.WithLabelValues(mode).Inc()
	totalSessions.WithLabelValues(mode).Inc()
	return &SessionMetrics{mode: mode, startTime: time.Now()}
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.WithLabelValues(m.mode).Dec()
	sessionDuration.WithLabelValues(m.mode).Observe(time.Since(m.startTime).Seconds())
}

// RecordTranscript counts one provider transcript event
func (m *SessionMetrics) RecordTranscript(text string, isFinal bool) {
	switch {
	case text == "":
		transcriptEvents.WithLabelValues("empty").Inc()
	case isFinal:
		transcriptEvents.WithLabelValues("final").Inc()
	default:
		transcriptEvents.WithLabelValues("partial").Inc()
	}
}

// RecordPipeline records the outcome and latency of one pipeline run
func (m *SessionMetrics) RecordPipeline(outcome string, started time.Time) {
	pipelines.WithLabelValues(outcome).Inc()
	pipelineLatency.Observe(time.Since(started).Seconds())
}

// RecordSuperseded counts a pending utterance replaced by a newer one
func (m *SessionMetrics) RecordSuperseded() {
	supersededUtterances.Inc()
}

// RecordStage records latency of one provider stage of the pipeline
func (m *SessionMetrics) RecordStage(stage string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	providerLatency.WithLabelValues(stage, status).Observe(time.Since(started).Seconds())
}

// RecordAudioBytes records audio bytes relayed
func RecordAudioBytes(direction string, n int) {
	audioBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordSTTConnectionError counts a transcription channel failure
func RecordSTTConnectionError(op string) {
	sttConnectionErrors.WithLabelValues(op).Inc()
}

// RecordPreOpenDropped counts audio dropped before the channel opened
func RecordPreOpenDropped(n int) {
	preOpenDropped.Add(float64(n))
}

// RecordDroppedEvent counts an inbound event the bridge refused
func RecordDroppedEvent(reason string) {
	droppedEvents.WithLabelValues(reason).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
