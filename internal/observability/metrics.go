package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicebridge_active_calls",
		Help: "Number of active calls (0 or 1)",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_calls_total",
		Help: "Total number of calls started",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_call_duration_seconds",
		Help:    "Duration of calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	callerSpeaking = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicebridge_caller_speaking",
		Help: "Whether caller speech is currently detected (0 or 1)",
	})

	// Transcript metrics
	transcriptFragments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_transcript_fragments_total",
		Help: "Total transcript fragments received",
	}, []string{"speaker"})

	// Playback metrics
	playbackUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_playback_units_scheduled_total",
		Help: "Total playback units scheduled",
	})

	playbackInterrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_playback_interrupts_total",
		Help: "Total playback interruptions",
	})

	// Tool metrics
	toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_tool_invocations_total",
		Help: "Total tool invocations dispatched",
	}, []string{"tool", "status"})

	// CRM metrics
	crmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_crm_requests_total",
		Help: "Total record-creation requests to the CRM service",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// RecordAudioBytes records processed audio volume by direction ("in"/"out").
func RecordAudioBytes(direction string, bytes int) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// SetCallerSpeaking updates the caller speech-activity gauge.
func SetCallerSpeaking(speaking bool) {
	if speaking {
		callerSpeaking.Set(1)
	} else {
		callerSpeaking.Set(0)
	}
}

// RecordTranscriptFragment records one transcript fragment for a speaker.
func RecordTranscriptFragment(speaker string) {
	transcriptFragments.WithLabelValues(speaker).Inc()
}

// RecordPlaybackScheduled records one scheduled playback unit.
func RecordPlaybackScheduled() {
	playbackUnits.Inc()
}

// RecordPlaybackInterrupt records one playback interruption.
func RecordPlaybackInterrupt() {
	playbackInterrupts.Inc()
}

// RecordToolInvocation records a dispatched tool invocation with its outcome
// ("success" or "failure").
func RecordToolInvocation(tool, status string) {
	toolInvocations.WithLabelValues(tool, status).Inc()
}

// RecordCRMRequest records a record-creation request outcome.
func RecordCRMRequest(status string) {
	crmRequests.WithLabelValues(status).Inc()
}

// RecordError records an error by type and component.
func RecordError(errType, component string) {
	errorsTotal.WithLabelValues(errType, component).Inc()
}

// CallMetrics tracks metrics for a single call
type CallMetrics struct {
	callID    string
	startTime time.Time
}

// NewCallMetrics creates a metrics tracker for one call
func NewCallMetrics(callID string) *CallMetrics {
	return &CallMetrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// RecordCallStart records the start of a call
func (m *CallMetrics) RecordCallStart() {
	activeCalls.Inc()
	totalCalls.Inc()
}

// RecordCallEnd records the end of a call
func (m *CallMetrics) RecordCallEnd() {
	activeCalls.Dec()
	callDuration.Observe(time.Since(m.startTime).Seconds())
}
