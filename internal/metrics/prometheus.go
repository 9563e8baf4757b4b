package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice agent service
type Metrics struct {
	// Call lifecycle metrics
	ActiveCalls           prometheus.Gauge
	CallsStarted          prometheus.Counter
	CallsEnded            prometheus.Counter
	CallDuration          prometheus.Histogram
	CallsPlaced           prometheus.Counter
	CallPlacementFailures prometheus.Counter

	// Media stream metrics
	FramesReceived prometheus.Counter
	FramesSent     prometheus.Counter
	DecodeErrors   prometheus.Counter

	// Conversation metrics
	UtterancesReceived prometheus.Counter
	TurnsCompleted     prometheus.Counter
	TurnDuration       prometheus.Histogram

	// External service metrics
	RecognizerErrors  prometheus.Counter
	SynthesizerErrors prometheus.Counter
	ResponderRequests prometheus.Counter
	ResponderFailures prometheus.Counter
	ResponderRetries  prometheus.Counter

	// Call setup registry metrics
	RegisteredSpecs prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Call lifecycle metrics
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voice_agent_active_calls",
			Help: "Current number of live call sessions",
		}),
		CallsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_calls_started_total",
			Help: "Total number of call sessions started",
		}),
		CallsEnded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_calls_ended_total",
			Help: "Total number of call sessions ended",
		}),
		CallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_agent_call_duration_seconds",
			Help:    "Duration of completed call sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		CallsPlaced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_calls_placed_total",
			Help: "Total number of outbound calls placed via the telephony provider",
		}),
		CallPlacementFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_call_placement_failures_total",
			Help: "Total number of failed outbound call placements",
		}),

		// Media stream metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_frames_received_total",
			Help: "Total number of inbound media frames received",
		}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_frames_sent_total",
			Help: "Total number of outbound media frames sent",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_decode_errors_total",
			Help: "Total number of media payload decode errors",
		}),

		// Conversation metrics
		UtterancesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_utterances_received_total",
			Help: "Total number of completed callee utterances",
		}),
		TurnsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_turns_completed_total",
			Help: "Total number of completed response cycles",
		}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_agent_turn_duration_seconds",
			Help:    "Duration of response cycles from utterance to playout",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// External service metrics
		RecognizerErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_recognizer_errors_total",
			Help: "Total number of speech recognition connection errors",
		}),
		SynthesizerErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_synthesizer_errors_total",
			Help: "Total number of voice synthesis connection errors",
		}),
		ResponderRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_responder_requests_total",
			Help: "Total number of response generation requests",
		}),
		ResponderFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_responder_failures_total",
			Help: "Total number of failed response generation requests",
		}),
		ResponderRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_responder_retries_total",
			Help: "Total number of response generation retries",
		}),

		// Call setup registry metrics
		RegisteredSpecs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voice_agent_registered_call_specs",
			Help: "Current number of unclaimed call setup registrations",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_agent_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordCallStarted increments the calls started counter and active gauge
func (m *Metrics) RecordCallStarted() {
	m.CallsStarted.Inc()
	m.ActiveCalls.Inc()
}

// RecordCallEnded decrements the active gauge and records duration
func (m *Metrics) RecordCallEnded(durationSeconds float64) {
	m.CallsEnded.Inc()
	m.ActiveCalls.Dec()
	m.CallDuration.Observe(durationSeconds)
}

// RecordCallPlaced increments the outbound calls placed counter
func (m *Metrics) RecordCallPlaced() {
	m.CallsPlaced.Inc()
}

// RecordCallPlacementFailure increments the placement failures counter
func (m *Metrics) RecordCallPlacementFailure() {
	m.CallPlacementFailures.Inc()
}

// RecordFrameReceived increments the inbound frame counter
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordFrameSent increments the outbound frame counter
func (m *Metrics) RecordFrameSent() {
	m.FramesSent.Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordUtterance increments the utterances received counter
func (m *Metrics) RecordUtterance() {
	m.UtterancesReceived.Inc()
}

// RecordTurnCompleted records one finished response cycle
func (m *Metrics) RecordTurnCompleted(durationSeconds float64) {
	m.TurnsCompleted.Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordRecognizerError increments the recognizer errors counter
func (m *Metrics) RecordRecognizerError() {
	m.RecognizerErrors.Inc()
}

// RecordSynthesizerError increments the synthesizer errors counter
func (m *Metrics) RecordSynthesizerError() {
	m.SynthesizerErrors.Inc()
}

// RecordResponderRequest increments the responder requests counter
func (m *Metrics) RecordResponderRequest() {
	m.ResponderRequests.Inc()
}

// RecordResponderFailure increments the responder failures counter
func (m *Metrics) RecordResponderFailure() {
	m.ResponderFailures.Inc()
}

// RecordResponderRetry increments the responder retries counter
func (m *Metrics) RecordResponderRetry() {
	m.ResponderRetries.Inc()
}

// SetRegisteredSpecs sets the current number of unclaimed registrations
func (m *Metrics) SetRegisteredSpecs(count int) {
	m.RegisteredSpecs.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
