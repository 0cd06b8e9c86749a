package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/eliochat/eliocore/internal/arena"
	"github.com/eliochat/eliocore/internal/jsonx"
	"github.com/eliochat/eliocore/internal/respparse"
	"github.com/eliochat/eliocore/internal/strutil"
)

// StepPhase discriminates the orchestrator loop's current phase.
type StepPhase int

const (
	StepNone StepPhase = iota
	StepThinking
	StepCallingTool
	StepWaitingForResult
	StepGenerating
)

func (p StepPhase) String() string {
	switch p {
	case StepNone:
		return "none"
	case StepThinking:
		return "thinking"
	case StepCallingTool:
		return "calling_tool"
	case StepWaitingForResult:
		return "waiting_for_result"
	case StepGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// Step is the orchestrator's current loop phase. CallingTool carries the
// tool name being dispatched; every other phase leaves ToolName empty.
type Step struct {
	Phase    StepPhase
	ToolName string
}

func (s Step) String() string {
	if s.Phase == StepCallingTool && s.ToolName != "" {
		return s.Phase.String() + "(" + s.ToolName + ")"
	}
	return s.Phase.String()
}

// RunResult is the outcome of one Run: the final response text, any
// extracted reasoning, every tool call dispatched across all iterations,
// the iteration count, and an error when the run did not complete normally.
type RunResult struct {
	Response   string
	Thinking   string
	ToolCalls  []ToolCallRequest
	Iterations int
	Err        error
}

// State holds one conversation's persistent history plus the per-run
// working copy, streaming/iteration bookkeeping, and cooperative
// cancellation flag. A State is not re-entrant: Run refuses a second
// concurrent call with ErrAlreadyProcessing. Distinct States may Run in
// parallel provided each owns its own Arena.
type State struct {
	mu sync.Mutex

	arena      *arena.Arena
	backend    Backend
	dispatcher ToolDispatcher
	tools      []Definition
	config     OrchestratorConfig

	history []Message // persistent, appended only on successful completion

	step         Step
	isProcessing bool
	shouldStop   atomic.Bool
}

// NewState constructs a State over the given backend, tool dispatcher, and
// tool schema, seeded with a persistent message history (may be empty for a
// fresh conversation).
func NewState(a *arena.Arena, backend Backend, dispatcher ToolDispatcher, tools []Definition, history []Message, config OrchestratorConfig) *State {
	hist := make([]Message, len(history))
	copy(hist, history)
	return &State{
		arena:      a,
		backend:    backend,
		dispatcher: dispatcher,
		tools:      tools,
		config:     config,
		history:    hist,
	}
}

// History returns a copy of the persistent message history.
func (s *State) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Step returns the current loop phase.
func (s *State) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Stop asks the in-flight Run to cease cooperatively. The next token-sink
// invocation observes the flag and returns false, asking the backend to
// stop producing tokens; the run then completes as CANCELLED.
func (s *State) Stop() {
	s.shouldStop.Store(true)
}

func (s *State) setStep(step Step) {
	s.mu.Lock()
	prev := s.step
	s.step = step
	s.mu.Unlock()
	if s.config.OnStepChange != nil {
		s.config.OnStepChange(StepChange{From: prev, To: step})
	}
}

// Run executes the agent loop to completion: build prompt, stream-generate,
// parse, dispatch any tool calls, reinject their results, and repeat until a
// response carries no tool call or MaxIterations is reached. It is not safe
// to call Run concurrently on the same State.
func (s *State) Run(ctx context.Context) (*RunResult, error) {
	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		return nil, ErrAlreadyProcessing
	}
	s.isProcessing = true
	s.mu.Unlock()
	s.shouldStop.Store(false)

	defer func() {
		s.mu.Lock()
		s.isProcessing = false
		s.mu.Unlock()
		s.setStep(Step{Phase: StepNone})
	}()

	workingHistory := s.History()

	var thinking strings.Builder
	var toolCalls []ToolCallRequest
	var partialResponse string
	iteration := 0

	logger := s.config.Logger

	for {
		if ctx.Err() != nil || s.shouldStop.Load() {
			cancelled := New(KindCancelled, "run cancelled")
			s.recordOutcome("cancelled", iteration)
			return &RunResult{Response: partialResponse, Thinking: thinking.String(), ToolCalls: toolCalls, Iterations: iteration, Err: cancelled}, cancelled
		}

		s.setStep(Step{Phase: StepGenerating})

		systemPrompt := s.config.CustomSystemPrompt
		if systemPrompt == "" {
			built, err := BuildSystemPrompt(s.tools, s.config.UseJapanese, "")
			if err != nil {
				return nil, Wrap(KindInvalidArgument, err)
			}
			systemPrompt = built
		}

		var response strings.Builder
		parser := respparse.NewStreamParser(s.arena)
		sink := func(token string) bool {
			response.WriteString(token)
			parser.Feed(token)
			if parser.InToolCall() {
				s.setStep(Step{Phase: StepThinking})
			} else if s.config.OnToken != nil {
				if !s.config.OnToken(token) {
					s.shouldStop.Store(true)
				}
			}
			return !s.shouldStop.Load()
		}

		generateStart := time.Now()
		text, err := s.backend.Generate(ctx, workingHistory, systemPrompt, sink)
		if s.config.Metrics != nil {
			s.config.Metrics.RecordGenerate(s.backend.ID(), time.Since(generateStart).Seconds())
		}
		if text == "" {
			text = response.String()
		}
		partialResponse = text

		if s.shouldStop.Load() || ctx.Err() != nil {
			s.recordOutcome("cancelled", iteration)
			return &RunResult{Response: partialResponse, Thinking: thinking.String(), ToolCalls: toolCalls, Iterations: iteration, Err: New(KindCancelled, "run cancelled")}, New(KindCancelled, "run cancelled")
		}
		if err != nil {
			cerr := classifyNetworkErr(err)
			if logger != nil {
				logger.Warn("generate failed", "iteration", iteration, "error", cerr)
			}
			s.recordOutcome("error", iteration)
			return &RunResult{Thinking: thinking.String(), ToolCalls: toolCalls, Iterations: iteration, Err: cerr}, cerr
		}

		segments := respparse.ParseBatch(s.arena, text)

		var iterText strings.Builder
		sawToolCall := false

		for _, seg := range segments {
			switch seg.Kind {
			case respparse.Text:
				iterText.WriteString(seg.Content)
			case respparse.Thinking:
				thinking.WriteString(seg.Content)
			case respparse.ToolCall:
				sawToolCall = true
				argsJSON := json.RawMessage(jsonx.Marshal(seg.Arguments))
				call := ToolCallRequest{
					ID:        uuid.NewString(),
					Name:      seg.Name,
					Arguments: argsJSON,
				}
				toolCalls = append(toolCalls, call)

				assistantMsg := Message{
					ID:        uuid.NewString(),
					Role:      RoleAssistant,
					Content:   iterText.String(),
					ToolCalls: []ToolCallRequest{call},
				}
				workingHistory = append(workingHistory, assistantMsg)
				iterText.Reset()

				if s.config.OnToolCall != nil {
					s.config.OnToolCall(call.Name, call.Arguments)
				}

				s.setStep(Step{Phase: StepCallingTool, ToolName: call.Name})
				toolStart := time.Now()
				result, dispatchErr := s.dispatcher.Execute(ctx, call.Name, call.Arguments)
				s.setStep(Step{Phase: StepWaitingForResult})

				var content string
				isError := false
				if dispatchErr != nil {
					content = dispatchErr.Error()
					isError = true
				} else if result != nil {
					content = result.Content
					isError = result.IsError
				}
				if s.config.Metrics != nil {
					status := "success"
					if isError {
						status = "error"
					}
					s.config.Metrics.RecordToolCall(call.Name, status, time.Since(toolStart).Seconds())
				}
				if s.config.MaxToolResultLen > 0 {
					content = strutil.TruncateText(content, s.config.MaxToolResultLen)
				}

				toolMsg := Message{
					ID:   uuid.NewString(),
					Role: RoleTool,
					ToolResults: []ToolResultEntry{{
						ID:         uuid.NewString(),
						ToolCallID: call.ID,
						Content:    content,
						IsError:    isError,
					}},
				}
				workingHistory = append(workingHistory, toolMsg)
			}
		}

		if !sawToolCall {
			finalMsg := Message{
				ID:      uuid.NewString(),
				Role:    RoleAssistant,
				Content: iterText.String(),
			}
			workingHistory = append(workingHistory, finalMsg)

			s.mu.Lock()
			s.history = append(s.history, finalMsg)
			s.mu.Unlock()

			s.recordOutcome("completed", iteration+1)
			return &RunResult{
				Response:   iterText.String(),
				Thinking:   thinking.String(),
				ToolCalls:  toolCalls,
				Iterations: iteration + 1,
			}, nil
		}

		iteration++
		if iteration >= s.config.MaxIterations {
			s.recordOutcome("max_iterations", iteration)
			return &RunResult{
				Response:   partialResponse,
				Thinking:   thinking.String(),
				ToolCalls:  toolCalls,
				Iterations: iteration,
				Err:        New(KindMaxIterations, "maximum tool-use iterations reached"),
			}, New(KindMaxIterations, "maximum tool-use iterations reached")
		}
	}
}

// recordOutcome reports a run's terminal outcome and iteration count to the
// configured MetricsRecorder, a no-op when none is set.
func (s *State) recordOutcome(outcome string, iterations int) {
	if s.config.Metrics == nil {
		return
	}
	s.config.Metrics.RecordRunOutcome(outcome)
	s.config.Metrics.RecordRunIterations(iterations)
}
