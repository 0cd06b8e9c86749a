package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/eliochat/eliocore/internal/arena"
)

// scriptedBackend replays a fixed sequence of full responses, one per call
// to Generate, feeding each byte-by-byte into the token sink.
type scriptedBackend struct {
	responses []string
	calls     int
}

func (b *scriptedBackend) ID() string         { return "scripted" }
func (b *scriptedBackend) DisplayName() string { return "Scripted Test Backend" }
func (b *scriptedBackend) TokenCost() int      { return 0 }
func (b *scriptedBackend) IsReady() bool       { return true }
func (b *scriptedBackend) IsGenerating() bool  { return false }
func (b *scriptedBackend) Stop()               {}

func (b *scriptedBackend) Generate(ctx context.Context, history []Message, systemPrompt string, sink TokenSink) (string, error) {
	idx := b.calls
	if idx >= len(b.responses) {
		idx = len(b.responses) - 1
	}
	b.calls++
	resp := b.responses[idx]
	for _, r := range resp {
		if !sink(string(r)) {
			break
		}
	}
	return resp, nil
}

// fixedDispatcher always returns the same tool result, regardless of name
// or arguments, and records how many times it was invoked.
type fixedDispatcher struct {
	content string
	isError bool
	calls   int
}

func (d *fixedDispatcher) Execute(ctx context.Context, name string, arguments json.RawMessage) (*ToolResult, error) {
	d.calls++
	return &ToolResult{Content: d.content, IsError: d.isError}, nil
}

func newTestState(t *testing.T, backend Backend, dispatcher ToolDispatcher, maxIterations int) *State {
	t.Helper()
	a := arena.New()
	cfg := DefaultOrchestratorConfig()
	cfg.MaxIterations = maxIterations
	return NewState(a, backend, dispatcher, nil, nil, cfg)
}

func TestRun_SimpleText(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"Hello! How can I help you?"}}
	dispatcher := &fixedDispatcher{}
	state := newTestState(t, backend, dispatcher, 10)

	result, err := state.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
	if len(result.ToolCalls) != 0 {
		t.Errorf("tool_calls = %v, want empty", result.ToolCalls)
	}
	if !strings.Contains(result.Response, "Hello") {
		t.Errorf("response %q does not contain Hello", result.Response)
	}
}

func TestRun_ToolCallThenCompletion(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`<tool_call>{"name":"test_tool","arguments":{}}</tool_call>`,
		"Done! The tool worked.",
	}}
	dispatcher := &fixedDispatcher{content: "Tool result: success"}
	state := newTestState(t, backend, dispatcher, 10)

	result, err := state.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Iterations)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "test_tool" {
		t.Errorf("tool_calls = %v, want one call to test_tool", result.ToolCalls)
	}
	if !strings.Contains(result.Response, "Done") {
		t.Errorf("response %q does not contain Done", result.Response)
	}
	if dispatcher.calls != 1 {
		t.Errorf("dispatcher called %d times, want 1", dispatcher.calls)
	}
}

func TestRun_MaxIterations(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`<tool_call>{"name":"test_tool","arguments":{}}</tool_call>`,
	}}
	dispatcher := &fixedDispatcher{content: "ok"}
	state := newTestState(t, backend, dispatcher, 3)

	result, err := state.Run(context.Background())
	if err == nil {
		t.Fatal("expected MAX_ITERATIONS error")
	}
	if !Is(err, KindMaxIterations) {
		t.Errorf("error %v is not KindMaxIterations", err)
	}
	if result.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", result.Iterations)
	}
	if dispatcher.calls != 3 {
		t.Errorf("dispatcher called %d times, want 3", dispatcher.calls)
	}
}

func TestRun_ThinkingExtraction(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"<think>Let me reason</think>Answer"}}
	dispatcher := &fixedDispatcher{}
	state := newTestState(t, backend, dispatcher, 10)

	result, err := state.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Thinking != "Let me reason" {
		t.Errorf("thinking = %q, want %q", result.Thinking, "Let me reason")
	}
	if result.Response != "Answer" {
		t.Errorf("response = %q, want %q", result.Response, "Answer")
	}
}

func TestRun_BareJSONToolCall(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`Sure: {"name":"lookup","arguments":{"q":"x"}} done.`}}
	dispatcher := &fixedDispatcher{content: "found it"}
	state := newTestState(t, backend, dispatcher, 10)

	result, err := state.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "lookup" {
		t.Fatalf("tool_calls = %v, want one call to lookup", result.ToolCalls)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Iterations)
	}
}

func TestRun_RejectsConcurrentCalls(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"hi"}}
	dispatcher := &fixedDispatcher{}
	state := newTestState(t, backend, dispatcher, 10)

	state.mu.Lock()
	state.isProcessing = true
	state.mu.Unlock()

	_, err := state.Run(context.Background())
	if err != ErrAlreadyProcessing {
		t.Errorf("err = %v, want ErrAlreadyProcessing", err)
	}
}
