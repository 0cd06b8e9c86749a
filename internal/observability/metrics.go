package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting eliocore metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Agent-loop iterations and outcomes per run
//   - Tool-call counts by tool name and result
//   - Mesh forwarding: hop counts, loop/max-hops rejections, local-answer rate
//   - Relay: allowed vs rejected hosts, rate-limit rejections, upstream status
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordToolCall("web_search", "success")
//	metrics.RecordRunOutcome("completed")
type Metrics struct {
	// RunOutcomes counts agent-loop runs by terminal outcome.
	// Labels: outcome (completed|max_iterations|cancelled|error)
	RunOutcomes *prometheus.CounterVec

	// RunIterations measures how many generate/parse/dispatch iterations a
	// run took before completing, erroring, or hitting the iteration cap.
	// Buckets: 1, 2, 3, 5, 8, 10 (the default MaxIterations), 15, 25
	RunIterations prometheus.Histogram

	// ToolCallCounter counts tool invocations dispatched by the
	// orchestrator.
	// Labels: tool_name, status (success|error)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s
	ToolCallDuration *prometheus.HistogramVec

	// GenerateDuration measures backend Generate() call latency.
	// Labels: backend (local|cloud|mesh|speculative)
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	GenerateDuration *prometheus.HistogramVec

	// MeshForwardsTotal counts every MeshForwardRequest a Router handled,
	// by outcome.
	// Labels: outcome (answered_locally|forwarded|loop_detected|max_hops|no_peers)
	MeshForwardsTotal *prometheus.CounterVec

	// MeshHopCount records the hop_count carried by every ForwardResponse
	// this node produced.
	// Buckets: 0, 1, 2, 3, 4, 5 (the default MaxHops)
	MeshHopCount prometheus.Histogram

	// MeshPeersKnown is a gauge tracking the current size of this node's
	// peer directory.
	MeshPeersKnown prometheus.Gauge

	// RelayRequestsTotal counts RelayRequest envelopes handled, by outcome.
	// Labels: outcome (ok|domain_rejected|rate_limited|transport_error)
	RelayRequestsTotal *prometheus.CounterVec

	// RelayRequestDuration measures end-to-end relay handling latency.
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	RelayRequestDuration prometheus.Histogram

	// SpecVerifyAcceptedTokens records how many draft tokens a
	// SpecVerifyRequest accepted, out of the tokens offered.
	// Buckets: 0, 1, 2, 4, 8, 16, 32
	SpecVerifyAcceptedTokens prometheus.Histogram

	// ParseErrorsTotal counts JSON or response-parse failures.
	// Labels: component (jsonx|respparse)
	ParseErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup; it registers with
// Prometheus's default registry, available at the /metrics endpoint when
// serving prometheus's HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		RunOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eliocore_agent_run_outcomes_total",
				Help: "Total number of agent-loop runs by terminal outcome",
			},
			[]string{"outcome"},
		),

		RunIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "eliocore_agent_run_iterations",
				Help:    "Number of generate/parse/dispatch iterations per run",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 25},
			},
		),

		ToolCallCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eliocore_tool_calls_total",
				Help: "Total number of tool calls dispatched by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eliocore_tool_call_duration_seconds",
				Help:    "Duration of tool call dispatch in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),

		GenerateDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eliocore_generate_duration_seconds",
				Help:    "Duration of backend Generate calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend"},
		),

		MeshForwardsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eliocore_mesh_forwards_total",
				Help: "Total number of MeshForwardRequest envelopes handled by outcome",
			},
			[]string{"outcome"},
		),

		MeshHopCount: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "eliocore_mesh_hop_count",
				Help:    "Hop count carried by ForwardResponse envelopes this node produced",
				Buckets: []float64{0, 1, 2, 3, 4, 5},
			},
		),

		MeshPeersKnown: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "eliocore_mesh_peers_known",
				Help: "Current size of this node's peer directory",
			},
		),

		RelayRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eliocore_relay_requests_total",
				Help: "Total number of RelayRequest envelopes handled by outcome",
			},
			[]string{"outcome"},
		),

		RelayRequestDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "eliocore_relay_request_duration_seconds",
				Help:    "End-to-end relay handling latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),

		SpecVerifyAcceptedTokens: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "eliocore_spec_verify_accepted_tokens",
				Help:    "Number of draft tokens accepted per SpecVerifyRequest",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
			},
		),

		ParseErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eliocore_parse_errors_total",
				Help: "Total number of JSON or response parse failures by component",
			},
			[]string{"component"},
		),
	}
}

// RecordRunOutcome increments the run-outcome counter.
//
// Example:
//
//	metrics.RecordRunOutcome("completed")
//	metrics.RecordRunOutcome("max_iterations")
func (m *Metrics) RecordRunOutcome(outcome string) {
	m.RunOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRunIterations records how many iterations a completed run took.
func (m *Metrics) RecordRunIterations(iterations int) {
	m.RunIterations.Observe(float64(iterations))
}

// RecordToolCall records a dispatched tool call's outcome and latency.
//
// Example:
//
//	start := time.Now()
//	// ... dispatch tool ...
//	metrics.RecordToolCall("web_search", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolCall(toolName, status string, durationSeconds float64) {
	m.ToolCallCounter.WithLabelValues(toolName, status).Inc()
	m.ToolCallDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordGenerate records a backend Generate call's latency.
func (m *Metrics) RecordGenerate(backend string, durationSeconds float64) {
	m.GenerateDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordMeshForward records the outcome of one MeshForwardRequest handled
// by this node's Router.
//
// Example:
//
//	metrics.RecordMeshForward("answered_locally")
//	metrics.RecordMeshForward("loop_detected")
func (m *Metrics) RecordMeshForward(outcome string) {
	m.MeshForwardsTotal.WithLabelValues(outcome).Inc()
}

// RecordMeshHopCount records the hop_count on a ForwardResponse this node
// produced, whether answered locally or relayed further.
func (m *Metrics) RecordMeshHopCount(hopCount int) {
	m.MeshHopCount.Observe(float64(hopCount))
}

// SetMeshPeersKnown sets the current peer-directory size.
func (m *Metrics) SetMeshPeersKnown(count int) {
	m.MeshPeersKnown.Set(float64(count))
}

// RecordRelayRequest records a relay request's outcome and total duration.
//
// Example:
//
//	metrics.RecordRelayRequest("domain_rejected", time.Since(start).Seconds())
func (m *Metrics) RecordRelayRequest(outcome string, durationSeconds float64) {
	m.RelayRequestsTotal.WithLabelValues(outcome).Inc()
	m.RelayRequestDuration.Observe(durationSeconds)
}

// RecordSpecVerifyAccepted records how many draft tokens a SpecVerifyRequest
// accepted.
func (m *Metrics) RecordSpecVerifyAccepted(accepted int) {
	m.SpecVerifyAcceptedTokens.Observe(float64(accepted))
}

// RecordParseError increments the parse-error counter for the given
// component.
func (m *Metrics) RecordParseError(component string) {
	m.ParseErrorsTotal.WithLabelValues(component).Inc()
}
