package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eliochat/eliocore/internal/agent"
)

func TestNewAnthropicBackend(t *testing.T) {
	tests := []struct {
		name        string
		config      AnthropicConfig
		expectError bool
	}{
		{
			name:        "valid config",
			config:      AnthropicConfig{APIKey: "test-key"},
			expectError: false,
		},
		{
			name:        "missing API key",
			config:      AnthropicConfig{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := NewAnthropicBackend(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if backend.model != "claude-sonnet-4-20250514" {
				t.Errorf("default model = %q, want claude-sonnet-4-20250514", backend.model)
			}
			if backend.maxTokens != 4096 {
				t.Errorf("default max tokens = %d, want 4096", backend.maxTokens)
			}
		})
	}
}

func TestAnthropicBackend_Identity(t *testing.T) {
	backend, err := NewAnthropicBackend(AnthropicConfig{APIKey: "test-key", Model: "claude-opus-4-20250514"})
	if err != nil {
		t.Fatalf("NewAnthropicBackend: %v", err)
	}
	if backend.ID() != "cloud:anthropic" {
		t.Errorf("ID() = %q, want cloud:anthropic", backend.ID())
	}
	if !strings.Contains(backend.DisplayName(), "claude-opus-4-20250514") {
		t.Errorf("DisplayName() = %q, want it to mention the model", backend.DisplayName())
	}
	if backend.TokenCost() == 0 {
		t.Error("TokenCost() = 0, want nonzero for the Cloud backend")
	}
	if !backend.IsReady() {
		t.Error("IsReady() = false, want true")
	}
	if backend.IsGenerating() {
		t.Error("IsGenerating() = true before any Generate call")
	}
}

func TestConvertMessages(t *testing.T) {
	history := []agent.Message{
		{Role: agent.RoleSystem, Content: "ignored"},
		{Role: agent.RoleUser, Content: "hello"},
		{
			Role: agent.RoleAssistant,
			ToolCalls: []agent.ToolCallRequest{
				{ID: "call-1", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)},
			},
		},
		{
			Role:        agent.RoleTool,
			ToolResults: []agent.ToolResultEntry{{ToolCallID: "call-1", Content: "found it"}},
		},
	}

	messages, err := convertMessages(history)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	// The system message is dropped, leaving three.
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}
}

func TestConvertMessages_InvalidToolArguments(t *testing.T) {
	history := []agent.Message{
		{
			Role: agent.RoleAssistant,
			ToolCalls: []agent.ToolCallRequest{
				{ID: "call-1", Name: "lookup", Arguments: json.RawMessage(`not json`)},
			},
		},
	}
	if _, err := convertMessages(history); err == nil {
		t.Fatal("expected an error for malformed tool call arguments")
	}
}

func TestAnthropicBackend_IsRetryableErr(t *testing.T) {
	backend, err := NewAnthropicBackend(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicBackend: %v", err)
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit text", errors.New("rate_limit exceeded"), true},
		{"server error text", errors.New("internal server error 500"), true},
		{"auth failure text", errors.New("invalid api key: unauthorized"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backend.isRetryableErr(tt.err); got != tt.want {
				t.Errorf("isRetryableErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAnthropicBackend_WrapGenerateErr(t *testing.T) {
	backend, err := NewAnthropicBackend(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicBackend: %v", err)
	}

	if backend.wrapGenerateErr(nil) != nil {
		t.Error("wrapGenerateErr(nil) should be nil")
	}

	wrapped := backend.wrapGenerateErr(context.Canceled)
	if !agent.Is(wrapped, agent.KindCancelled) {
		t.Errorf("wrapGenerateErr(context.Canceled) = %v, want KindCancelled", wrapped)
	}

	wrapped = backend.wrapGenerateErr(errors.New("rate_limit exceeded"))
	if !agent.Is(wrapped, agent.KindRateLimited) {
		t.Errorf("wrapGenerateErr(rate limit) = %v, want KindRateLimited", wrapped)
	}

	wrapped = backend.wrapGenerateErr(errors.New("some unexpected failure"))
	if !agent.Is(wrapped, agent.KindServerError) {
		t.Errorf("wrapGenerateErr(generic) = %v, want KindServerError", wrapped)
	}
}

// TestAnthropicBackend_Generate_StreamsTextAndToolCall drives a real SSE
// round trip through an httptest server standing in for api.anthropic.com,
// verifying that a tool_use content block is re-rendered into the
// <tool_call> textual convention the orchestrator's segment parser expects.
func TestAnthropicBackend_Generate_StreamsTextAndToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "messages") {
			t.Errorf("expected a /messages request, got %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("expected http.Flusher")
		}

		events := []string{
			`event: message_start`,
			`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[],"usage":{"input_tokens":10,"output_tokens":0}}}`,
			``,
			`event: content_block_start`,
			`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking: "}}`,
			``,
			`event: content_block_stop`,
			`data: {"type":"content_block_stop","index":0}`,
			``,
			`event: content_block_start`,
			`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tool_1","name":"lookup","input":{}}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"x\"}"}}`,
			``,
			`event: content_block_stop`,
			`data: {"type":"content_block_stop","index":1}`,
			``,
			`event: message_delta`,
			`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":5}}`,
			``,
			`event: message_stop`,
			`data: {"type":"message_stop"}`,
			``,
		}
		for _, line := range events {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
	defer server.Close()

	backend, err := NewAnthropicBackend(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropicBackend: %v", err)
	}

	var streamed strings.Builder
	sink := agent.TokenSink(func(token string) bool {
		streamed.WriteString(token)
		return true
	})

	history := []agent.Message{{Role: agent.RoleUser, Content: "what is x?"}}
	text, err := backend.Generate(context.Background(), history, "be helpful", sink)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !strings.Contains(text, "Checking: ") {
		t.Errorf("response %q missing leading text", text)
	}
	if !strings.Contains(text, `<tool_call>{"name":"lookup","arguments":{"q":"x"}}</tool_call>`) {
		t.Errorf("response %q missing rendered tool_call tag", text)
	}
	if streamed.String() != text {
		t.Errorf("streamed tokens %q did not reconstruct the full response %q", streamed.String(), text)
	}
	if backend.IsGenerating() {
		t.Error("IsGenerating() should be false once Generate returns")
	}
}

func TestAnthropicBackend_Generate_RejectsInvalidHistory(t *testing.T) {
	backend, err := NewAnthropicBackend(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicBackend: %v", err)
	}

	history := []agent.Message{
		{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCallRequest{{Name: "x", Arguments: json.RawMessage(`{bad`)}}},
	}
	_, err = backend.Generate(context.Background(), history, "", nil)
	if !agent.Is(err, agent.KindInvalidArgument) {
		t.Errorf("Generate with malformed arguments = %v, want KindInvalidArgument", err)
	}
}
