package respparse

import (
	"testing"

	"github.com/eliochat/eliocore/internal/arena"
)

func TestParseBatchToolCall(t *testing.T) {
	a := arena.New()
	segs := ParseBatch(a, `Sure, I'll check. <tool_call>{"name":"lookup","arguments":{"q":"x"}}</tool_call> done.`)
	var tc *Segment
	for i := range segs {
		if segs[i].Kind == ToolCall {
			tc = &segs[i]
		}
	}
	if tc == nil {
		t.Fatal("expected a tool-call segment")
	}
	if tc.Name != "lookup" {
		t.Fatalf("got name %q", tc.Name)
	}
}

func TestParseBatchPythonTagForm(t *testing.T) {
	a := arena.New()
	segs := ParseBatch(a, `<|python_tag|>{"name":"test_tool","arguments":{}}<|eom_id|>`)
	if len(segs) != 1 || segs[0].Kind != ToolCall || segs[0].Name != "test_tool" {
		t.Fatalf("unexpected segments: %+v", segs)
	}
}

func TestParseBatchThinking(t *testing.T) {
	a := arena.New()
	segs := ParseBatch(a, `<think>Let me reason</think>Answer`)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(segs), segs)
	}
	if segs[0].Kind != Thinking || segs[0].Content != "Let me reason" {
		t.Fatalf("unexpected thinking segment: %+v", segs[0])
	}
	if segs[1].Kind != Text || segs[1].Content != "Answer" {
		t.Fatalf("unexpected text segment: %+v", segs[1])
	}
}

func TestParseBatchPreloadedThinkCloseOnly(t *testing.T) {
	a := arena.New()
	segs := ParseBatch(a, `Let me reason</think>Answer`)
	if len(segs) != 2 || segs[0].Kind != Thinking || segs[0].Content != "Let me reason" {
		t.Fatalf("unexpected segments: %+v", segs)
	}
}

func TestParseBatchBareJSON(t *testing.T) {
	a := arena.New()
	segs := ParseBatch(a, `Sure: {"name":"lookup","arguments":{"q":"x"}} done.`)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(segs), segs)
	}
	if segs[0].Kind != Text || segs[0].Content != "Sure: " {
		t.Fatalf("unexpected leading text: %+v", segs[0])
	}
	if segs[1].Kind != ToolCall || segs[1].Name != "lookup" {
		t.Fatalf("unexpected tool call: %+v", segs[1])
	}
	if segs[2].Kind != Text || segs[2].Content != " done." {
		t.Fatalf("unexpected trailing text: %+v", segs[2])
	}
}

func TestParseBatchMalformedToolCallDroppedAsText(t *testing.T) {
	a := arena.New()
	input := `<tool_call>{not valid json}</tool_call>`
	segs := ParseBatch(a, input)
	for _, s := range segs {
		if s.Kind == ToolCall {
			t.Fatalf("expected no tool-call segment for malformed JSON, got %+v", segs)
		}
	}
}

func TestParseBatchSimpleText(t *testing.T) {
	a := arena.New()
	segs := ParseBatch(a, "Hello! How can I help you?")
	if len(segs) != 1 || segs[0].Kind != Text {
		t.Fatalf("unexpected segments: %+v", segs)
	}
}

// TestStreamingMatchesBatchAcrossChunkBoundaries exercises the testable
// property that a single feed and arbitrarily chunked feeds of the same
// bytes produce the same ordered event sequence.
func TestStreamingMatchesBatchAcrossChunkBoundaries(t *testing.T) {
	input := `Sure. <tool_call>{"name":"lookup","arguments":{"q":"x"}}</tool_call> and <think>reasoning</think>done.`

	collect := func(chunkSize int) []Segment {
		a := arena.New()
		p := NewStreamParser(a)
		var got []Segment
		for i := 0; i < len(input); i += chunkSize {
			end := i + chunkSize
			if end > len(input) {
				end = len(input)
			}
			got = append(got, p.Feed(input[i:end])...)
		}
		got = append(got, p.Close()...)
		return got
	}

	whole := collect(len(input))
	for _, size := range []int{1, 2, 3, 7, 16} {
		chunked := collect(size)
		if len(chunked) != len(whole) {
			t.Fatalf("chunk size %d: got %d segments, want %d\nwhole=%+v\nchunked=%+v", size, len(chunked), len(whole), whole, chunked)
		}
		for i := range whole {
			if whole[i].Kind != chunked[i].Kind || whole[i].Content != chunked[i].Content || whole[i].Name != chunked[i].Name {
				t.Fatalf("chunk size %d: segment %d mismatch: got %+v, want %+v", size, i, chunked[i], whole[i])
			}
		}
	}
}

func TestStreamingInToolCall(t *testing.T) {
	a := arena.New()
	p := NewStreamParser(a)
	p.Feed("hello <tool_call>{\"name\":\"x\",")
	if !p.InToolCall() {
		t.Fatal("expected InToolCall to be true mid tool-call body")
	}
	p.Feed("\"arguments\":{}}</tool_call>")
	if p.InToolCall() {
		t.Fatal("expected InToolCall to be false after closing tag")
	}
}

func TestStreamingUnrecognizedTagBailsToText(t *testing.T) {
	a := arena.New()
	p := NewStreamParser(a)
	segs := p.Feed("hi <b>bold</b> text")
	segs = append(segs, p.Close()...)
	full := ""
	for _, s := range segs {
		full += s.Content
	}
	if full != "hi <b>bold</b> text" {
		t.Fatalf("expected unrecognized tags recovered verbatim, got %q", full)
	}
}
