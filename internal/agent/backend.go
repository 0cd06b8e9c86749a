package agent

import (
	"context"
	"encoding/json"
)

// TokenSink receives generated tokens as they stream in. It returns false to
// ask the Backend to cease token production cooperatively (Run's
// cancellation path).
type TokenSink func(token string) bool

// Backend is the capability record every generator implementation
// satisfies — Local, Cloud, Mesh, and Speculative variants are tagged
// implementations of the same interface rather than a class hierarchy.
type Backend interface {
	// ID is a stable backend identifier.
	ID() string
	// DisplayName is a human-readable label.
	DisplayName() string
	// TokenCost is this backend's relative cost per token, used by callers
	// choosing between backends; 0 for backends with no cost model.
	TokenCost() int
	// IsReady reports whether the backend can currently serve a request.
	IsReady() bool
	// IsGenerating reports whether a generation is currently in flight.
	IsGenerating() bool
	// Generate runs one generation call, feeding tokens to sink as they
	// arrive, and returns the complete accumulated text.
	Generate(ctx context.Context, history []Message, systemPrompt string, sink TokenSink) (string, error)
	// Stop asks an in-flight Generate call to halt cooperatively.
	Stop()
}

// ToolDispatcher executes a named tool call and returns its result. The
// orchestrator never aborts a run on a dispatch error — it becomes an
// is_error tool-result message instead, so the agent can continue.
type ToolDispatcher interface {
	Execute(ctx context.Context, name string, arguments json.RawMessage) (*ToolResult, error)
}
