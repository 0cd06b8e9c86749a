// Package observability provides structured logging, Prometheus metrics,
// and OpenTelemetry tracing for eliocore's agent orchestration core and
// mesh fabric.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive-data redaction
//  3. Tracing - Distributed tracing across orchestrator iterations and mesh hops
//
// # Metrics
//
// Metrics are implemented using the Prometheus client library and track:
//   - Agent-loop run outcomes and iteration counts
//   - Tool-call counts and latencies by tool name
//   - Mesh forward outcomes (answered locally, forwarded, loop detected,
//     max hops exceeded) and hop counts
//   - Relay outcomes (allowed, domain-rejected, rate-limited) and latency
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... dispatch a tool call ...
//	metrics.RecordToolCall("web_search", "success", time.Since(start).Seconds())
//
//	// ... handle a MeshForwardRequest ...
//	metrics.RecordMeshForward("answered_locally")
//	metrics.RecordMeshHopCount(hopCount)
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request-id correlation from context
//   - Sensitive-data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx := observability.AddRequestID(ctx, requestID)
//	logger.Info(ctx, "run completed",
//	    "iterations", result.Iterations,
//	    "tool_calls", len(result.ToolCalls),
//	)
//
//	logger.Error(ctx, "cloud backend request failed",
//	    "error", err,
//	    "api_key", apiKey, // automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track requests across the
// orchestrator and mesh fabric:
//   - One span per agent-loop iteration
//   - One span per mesh hop a request traverses
//   - Error correlation across the forwarding chain
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "eliocore",
//	    ServiceVersion: version,
//	    Environment:    "production",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,              // sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
// # Context Propagation
//
// All three components integrate with Go's context for automatic
// correlation:
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddSessionID(ctx, sessionID)
//
//	// IDs automatically appear in logs
//	logger.Info(ctx, "processing run")
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, generic)
//   - Passwords and secrets
//   - JWT/bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Performance
//
// The observability system is designed for minimal overhead:
//   - Metrics use lock-free counters where possible
//   - Logging with slog is highly efficient
//   - Tracing supports sampling to reduce overhead
package observability
