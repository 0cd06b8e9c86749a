// Package providers implements agent.Backend variants: the concrete
// Generator tagged-variant implementations that produce model output
// for the orchestration core. AnthropicBackend is the Cloud variant, always
// available as a fallback when no local model is loaded and no mesh peer
// can serve the request.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/eliochat/eliocore/internal/agent"
)

// AnthropicConfig holds configuration for the Cloud backend.
type AnthropicConfig struct {
	// APIKey is the Anthropic API authentication key (required).
	APIKey string

	// BaseURL overrides the default Anthropic API base URL, optional.
	BaseURL string

	// Model is the Claude model id to request. Default:
	// "claude-sonnet-4-20250514".
	Model string

	// MaxTokens bounds the length of a single generation. Default: 4096.
	MaxTokens int

	// MaxRetries sets the retry budget for transient failures. Default: 3.
	MaxRetries int

	// RetryDelay is the base linear backoff delay. Default: 1 second.
	RetryDelay time.Duration
}

// AnthropicBackend implements agent.Backend over Anthropic's Claude API. It
// is the Cloud tagged variant: always ready, metered by token_cost, and
// never holding a local model in memory.
//
// Because the orchestrator is backend-agnostic and drives every variant
// through the same text + tag-based segment parser, AnthropicBackend
// re-renders Claude's structured content blocks (tool_use, thinking) back
// into the `<tool_call>`/`<think>` textual convention as it streams, rather
// than exposing its own structured event channel the way the multi-vendor
// chunk-based provider interface this was adapted from did.
type AnthropicBackend struct {
	BaseProvider

	client    anthropic.Client
	model     string
	maxTokens int

	generating atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAnthropicBackend creates a Cloud backend from config, applying
// defaults to unset optional fields.
func NewAnthropicBackend(config AnthropicConfig) (*AnthropicBackend, error) {
	if config.APIKey == "" {
		return nil, errors.New("providers: anthropic API key is required")
	}
	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicBackend{
		BaseProvider: NewBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
		client:       anthropic.NewClient(opts...),
		model:        config.Model,
		maxTokens:    config.MaxTokens,
	}, nil
}

// ID returns the backend_id used for routing and logging.
func (b *AnthropicBackend) ID() string { return "cloud:anthropic" }

// DisplayName returns a human-readable label for this backend.
func (b *AnthropicBackend) DisplayName() string { return fmt.Sprintf("Claude (%s)", b.model) }

// TokenCost reports the relative cost of a generation on this backend. The
// Cloud backend is the only variant that spends real API budget, so it
// carries a nonzero cost; Local and Mesh variants report zero.
func (b *AnthropicBackend) TokenCost() int { return 1 }

// IsReady reports whether this backend can currently accept work. The
// Cloud backend has no warm-up state: it is ready whenever it exists.
func (b *AnthropicBackend) IsReady() bool { return true }

// IsGenerating reports whether a Generate call is in flight.
func (b *AnthropicBackend) IsGenerating() bool { return b.generating.Load() }

// Stop cancels the in-flight Generate call, if any. Cooperative: the
// stream is abandoned at its next event rather than torn down instantly.
func (b *AnthropicBackend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

// Generate sends history and systemPrompt to Claude and streams the
// response through sink, returning the complete accumulated text (with
// tool-use and thinking blocks re-rendered as `<tool_call>`/`<think>`
// tags) once the model finishes or sink requests a stop.
func (b *AnthropicBackend) Generate(ctx context.Context, history []agent.Message, systemPrompt string, sink agent.TokenSink) (string, error) {
	b.generating.Store(true)
	defer b.generating.Store(false)

	genCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	defer cancel()

	messages, err := convertMessages(history)
	if err != nil {
		return "", agent.Wrap(agent.KindInvalidArgument, err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		Messages:  messages,
		MaxTokens: int64(b.maxTokens),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: systemPrompt}}
	}

	var response strings.Builder
	var stopped bool

	op := func() error {
		response.Reset()
		stopped = false
		stream := b.client.Messages.NewStreaming(genCtx, params)
		return consumeAnthropicStream(stream, sink, &response, &stopped)
	}

	if err := b.Retry(genCtx, b.isRetryableErr, op); err != nil {
		return response.String(), b.wrapGenerateErr(err)
	}
	return response.String(), nil
}

func consumeAnthropicStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], sink agent.TokenSink, response *strings.Builder, stopped *bool) error {
	var toolName string
	var toolInput strings.Builder
	inTool := false
	inThinking := false

	emit := func(s string) {
		response.WriteString(s)
		if sink != nil && !sink(s) {
			*stopped = true
		}
	}

	for stream.Next() {
		if *stopped {
			break
		}
		event := stream.Current()

		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inThinking = true
				emit("<think>")
			case "tool_use":
				toolUse := block.AsToolUse()
				toolName = toolUse.Name
				toolInput.Reset()
				inTool = true
				emit("<tool_call>")
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					emit(delta.Text)
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					emit(delta.Thinking)
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if inThinking {
				emit("</think>")
				inThinking = false
			} else if inTool {
				args := toolInput.String()
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				emit(fmt.Sprintf(`{"name":%q,"arguments":%s}`, toolName, args))
				emit("</tool_call>")
				inTool = false
			}

		case "message_stop":
			return nil

		case "error":
			return errors.New("anthropic: stream error")
		}
	}

	if *stopped {
		return nil
	}
	return stream.Err()
}

// convertMessages converts orchestrator history into Anthropic message
// params. System-role messages are skipped: the orchestrator always passes
// the system prompt separately via params.System.
func convertMessages(history []agent.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam

	for _, msg := range history {
		if msg.Role == agent.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == agent.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}

	return out, nil
}

func (b *AnthropicBackend) isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatusCode(apiErr.StatusCode).IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}

// wrapGenerateErr maps a Cloud backend failure into the shared agent.Error
// taxonomy so the orchestrator treats Cloud failures identically to
// Local and Mesh ones.
func (b *AnthropicBackend) wrapGenerateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return agent.New(agent.KindCancelled, "generation cancelled")
	}

	var apiErr *anthropic.Error
	var providerErr *ProviderError
	if errors.As(err, &apiErr) {
		providerErr = NewProviderError(b.name, b.model, err).WithStatus(apiErr.StatusCode)
	} else {
		providerErr = NewProviderError(b.name, b.model, err)
	}

	switch providerErr.Reason {
	case FailoverRateLimit:
		return &agent.Error{Kind: agent.KindRateLimited, Detail: providerErr.Error(), Cause: err}
	case FailoverTimeout:
		return &agent.Error{Kind: agent.KindNetworkError, Detail: providerErr.Error(), Cause: err}
	default:
		code := providerErr.Code
		if code == "" && providerErr.Status != 0 {
			code = fmt.Sprintf("%d", providerErr.Status)
		}
		return &agent.Error{Kind: agent.KindServerError, Code: code, Detail: providerErr.Error(), Cause: err}
	}
}
