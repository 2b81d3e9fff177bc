package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the call bridge service
type Metrics struct {
	// Call lifecycle metrics
	CallsStarted  prometheus.Counter
	CallsFinished *prometheus.CounterVec
	CallDuration  prometheus.Histogram

	// Placement metrics
	PlacementRequests prometheus.Counter
	PlacementFailures prometheus.Counter

	// Bridge metrics
	ActiveBridges   prometheus.Gauge
	BridgesCreated  prometheus.Counter
	BridgesClosed   prometheus.Counter
	FramesInbound   prometheus.Counter
	FramesOutbound  prometheus.Counter
	FramesDropped   *prometheus.CounterVec
	MalformedFrames prometheus.Counter

	// Transcript and extraction metrics
	TranscriptTurns prometheus.Counter
	SlotsExtracted  *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on the given registerer. Tests use a
// private registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Call lifecycle metrics
		CallsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_calls_started_total",
			Help: "Total number of call executions started",
		}),
		CallsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_calls_finished_total",
			Help: "Total number of call executions finished, by terminal state",
		}, []string{"state"}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callbridge_call_duration_seconds",
			Help:    "Wall-clock duration of calls from placement to terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// Placement metrics
		PlacementRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_placement_requests_total",
			Help: "Total number of call placement requests sent to the carrier",
		}),
		PlacementFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_placement_failures_total",
			Help: "Total number of call placements the carrier rejected",
		}),

		// Bridge metrics
		ActiveBridges: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callbridge_active_bridges",
			Help: "Current number of live audio bridge sessions",
		}),
		BridgesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_bridges_created_total",
			Help: "Total number of audio bridge sessions created",
		}),
		BridgesClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_bridges_closed_total",
			Help: "Total number of audio bridge sessions closed",
		}),
		FramesInbound: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_frames_inbound_total",
			Help: "Total number of media frames received from the telephony leg",
		}),
		FramesOutbound: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_frames_outbound_total",
			Help: "Total number of media frames sent to the telephony leg",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_frames_dropped_total",
			Help: "Total number of media frames dropped, by direction",
		}, []string{"direction"}),
		MalformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_malformed_frames_total",
			Help: "Total number of media frames discarded as malformed",
		}),

		// Transcript and extraction metrics
		TranscriptTurns: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_transcript_turns_total",
			Help: "Total number of transcript turns buffered",
		}),
		SlotsExtracted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_slots_extracted_total",
			Help: "Total number of slots extracted from transcripts, by slot",
		}, []string{"slot"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callbridge_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordCallStarted increments the calls started counter
func (m *Metrics) RecordCallStarted() {
	m.CallsStarted.Inc()
}

// RecordCallFinished records a terminal state and the call duration
func (m *Metrics) RecordCallFinished(state string, durationSeconds float64) {
	m.CallsFinished.WithLabelValues(state).Inc()
	m.CallDuration.Observe(durationSeconds)
}

// RecordPlacementRequest increments the placement requests counter
func (m *Metrics) RecordPlacementRequest() {
	m.PlacementRequests.Inc()
}

// RecordPlacementFailure increments the placement failures counter
func (m *Metrics) RecordPlacementFailure() {
	m.PlacementFailures.Inc()
}

// RecordBridgeCreated tracks a new bridge session
func (m *Metrics) RecordBridgeCreated() {
	m.BridgesCreated.Inc()
	m.ActiveBridges.Inc()
}

// RecordBridgeClosed tracks a finished bridge session
func (m *Metrics) RecordBridgeClosed() {
	m.BridgesClosed.Inc()
	m.ActiveBridges.Dec()
}

// RecordFrameInbound increments the inbound frame counter
func (m *Metrics) RecordFrameInbound() {
	m.FramesInbound.Inc()
}

// RecordFrameOutbound increments the outbound frame counter
func (m *Metrics) RecordFrameOutbound() {
	m.FramesOutbound.Inc()
}

// RecordFrameDropped increments the dropped frame counter for a direction
func (m *Metrics) RecordFrameDropped(direction string) {
	m.FramesDropped.WithLabelValues(direction).Inc()
}

// RecordMalformedFrame increments the malformed frame counter
func (m *Metrics) RecordMalformedFrame() {
	m.MalformedFrames.Inc()
}

// RecordTranscriptTurn increments the transcript turn counter
func (m *Metrics) RecordTranscriptTurn() {
	m.TranscriptTurns.Inc()
}

// RecordSlotExtracted increments the extraction counter for a slot
func (m *Metrics) RecordSlotExtracted(slot string) {
	m.SlotsExtracted.WithLabelValues(slot).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
