package agent

import (
	"log/slog"
)

// StepChange is emitted whenever the orchestrator transitions between loop
// phases (see Step).
type StepChange struct {
	From Step
	To   Step
}

// MetricsRecorder receives instrumentation from a Run. Satisfied by
// *observability.Metrics; kept as an interface here so internal/agent does
// not require importing internal/observability when metrics aren't wired.
type MetricsRecorder interface {
	RecordRunOutcome(outcome string)
	RecordRunIterations(iterations int)
	RecordToolCall(toolName, status string, durationSeconds float64)
	RecordGenerate(backend string, durationSeconds float64)
}

// OrchestratorConfig configures a single Run of the agent loop.
type OrchestratorConfig struct {
	// MaxIterations limits tool-use iterations per request.
	MaxIterations int

	// MaxToolResultLen truncates tool-result content fed back into the
	// conversation, at a UTF-8 code-point boundary.
	MaxToolResultLen int

	// UseJapanese selects the Japanese system-prompt template.
	UseJapanese bool

	// CustomSystemPrompt overrides the generated system prompt entirely
	// when set.
	CustomSystemPrompt string

	// OnToken is invoked for each generated text token. Returning false
	// cancels the run cooperatively.
	OnToken func(token string) bool

	// OnToolCall is invoked when a tool call is parsed, before execution.
	OnToolCall func(name string, params []byte)

	// OnStepChange is invoked on every loop phase transition.
	OnStepChange func(change StepChange)

	// UserData is opaque caller state threaded through callbacks.
	UserData any

	// Logger receives orchestrator diagnostics.
	Logger *slog.Logger

	// Metrics receives per-run instrumentation when set; nil disables it.
	Metrics MetricsRecorder
}

// DefaultOrchestratorConfig returns the baseline configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxIterations:    10,
		MaxToolResultLen: 8192,
		Logger:           slog.Default(),
	}
}

func mergeOrchestratorConfig(base, override OrchestratorConfig) OrchestratorConfig {
	merged := base
	if override.MaxIterations > 0 {
		merged.MaxIterations = override.MaxIterations
	}
	if override.MaxToolResultLen > 0 {
		merged.MaxToolResultLen = override.MaxToolResultLen
	}
	if override.UseJapanese {
		merged.UseJapanese = true
	}
	if override.CustomSystemPrompt != "" {
		merged.CustomSystemPrompt = override.CustomSystemPrompt
	}
	if override.OnToken != nil {
		merged.OnToken = override.OnToken
	}
	if override.OnToolCall != nil {
		merged.OnToolCall = override.OnToolCall
	}
	if override.OnStepChange != nil {
		merged.OnStepChange = override.OnStepChange
	}
	if override.UserData != nil {
		merged.UserData = override.UserData
	}
	if override.Logger != nil {
		merged.Logger = override.Logger
	}
	if override.Metrics != nil {
		merged.Metrics = override.Metrics
	}
	return merged
}
