// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ConnectionsActive tracks open relay sockets, bound or not.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Number of open relay websocket connections",
		},
	)

	// BoundUsers tracks registry entries.
	BoundUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_bound_users",
			Help: "Number of user ids bound to a live connection",
		},
	)

	// FramesTotal counts inbound frames by type and outcome.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_frames_total",
			Help: "Inbound relay frames by type and result",
		},
		[]string{"type", "result"},
	)

	// FrameDuration tracks time spent handling one inbound frame.
	FrameDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_frame_duration_seconds",
			Help:    "Inbound frame handling duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"type"},
	)

	// BroadcastSends counts per-recipient send attempts during fan-out.
	BroadcastSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broadcast_sends_total",
			Help: "Per-connection broadcast send attempts by result",
		},
		[]string{"event", "result"},
	)

	// BroadcastRecipients tracks fan-out width.
	BroadcastRecipients = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_broadcast_recipients",
			Help:    "Number of connections targeted by one broadcast",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		},
	)

	// LLMCompletionDuration tracks bot reply latency.
	LLMCompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// MessagesTotal tracks persisted chat messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total chat messages persisted",
		},
		[]string{"type"},
	)

	// ConversationStatusChanges tracks conversation status transitions, takeovers included.
	ConversationStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_status_changes_total",
			Help: "Conversation status updates by target status",
		},
		[]string{"status"},
	)

	// JournalPublishFailures counts journal writes that were dropped.
	JournalPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_publish_failures_total",
			Help: "JetStream journal publish failures",
		},
		[]string{"kind"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordFrame records the outcome of one inbound frame.
func RecordFrame(frameType, result string, duration float64) {
	FramesTotal.WithLabelValues(frameType, result).Inc()
	FrameDuration.WithLabelValues(frameType).Observe(duration)
}

// RecordLLMCompletion records metrics for a bot completion.
func RecordLLMCompletion(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMCompletionDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// IncrementConnections increments the open connection count.
func IncrementConnections() {
	ConnectionsActive.Inc()
}

// DecrementConnections decrements the open connection count.
func DecrementConnections() {
	ConnectionsActive.Dec()
}
