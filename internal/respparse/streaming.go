package respparse

import (
	"bytes"
	"strings"

	"github.com/eliochat/eliocore/internal/arena"
)

// maxTagBufferLen bounds the TAG_OPEN accumulation buffer. Tight for future
// tag names that might exceed it; kept narrow rather than widened
// speculatively.
const maxTagBufferLen = 15

type state int

const (
	stateText state = iota
	stateTagOpen
	stateToolCall
	stateThink
)

// StreamParser incrementally extracts text, thinking, and tool-call
// segments from a token stream. Feed may be called with arbitrarily sized
// chunks; the resulting segment sequence is identical regardless of how the
// input is partitioned across calls.
type StreamParser struct {
	a          *arena.Arena
	state      state
	textBuf    []byte
	tagBuf     []byte
	contentBuf []byte
	closeTag   string
	pending    Kind
}

// NewStreamParser creates a streaming parser whose tool-call arguments are
// parsed into nodes owned by a.
func NewStreamParser(a *arena.Arena) *StreamParser {
	return &StreamParser{a: a}
}

// InToolCall reports whether the parser is currently mid-accumulation of a
// tool-call body, so the orchestrator can suppress raw on_token callbacks.
func (p *StreamParser) InToolCall() bool {
	return p.state == stateToolCall
}

// Feed consumes chunk and returns any segments completed as a result.
// Partially-buffered tag or tool-call/thinking bodies are never emitted.
func (p *StreamParser) Feed(chunk string) []Segment {
	var out []Segment
	for i := 0; i < len(chunk); i++ {
		b := chunk[i]
		switch p.state {
		case stateText:
			if b == '<' {
				if len(p.textBuf) > 0 {
					out = append(out, Segment{Kind: Text, Content: string(p.textBuf)})
					p.textBuf = nil
				}
				p.state = stateTagOpen
				p.tagBuf = []byte{'<'}
			} else {
				p.textBuf = append(p.textBuf, b)
			}
		case stateTagOpen:
			p.tagBuf = append(p.tagBuf, b)
			if b == '>' {
				p.resolveTag(&out)
			} else if len(p.tagBuf) >= maxTagBufferLen {
				// Unrecognized / too long: bail back to TEXT, recovering
				// the bytes seen so far as ordinary text.
				p.textBuf = append(p.textBuf, p.tagBuf...)
				p.tagBuf = nil
				p.state = stateText
			}
		case stateToolCall, stateThink:
			p.contentBuf = append(p.contentBuf, b)
			if bytes.HasSuffix(p.contentBuf, []byte(p.closeTag)) {
				p.closeContent(&out)
			}
		}
	}
	return out
}

func (p *StreamParser) resolveTag(out *[]Segment) {
	s := string(p.tagBuf)
	switch {
	case s == toolCallOpen:
		p.state = stateToolCall
		p.closeTag = toolCallClose
		p.contentBuf = nil
	case s == pythonTagOpen:
		p.state = stateToolCall
		p.closeTag = pythonTagClose
		p.contentBuf = nil
	case isThinkOpen(s):
		p.state = stateThink
		p.closeTag = closeTagFor(s)
		p.contentBuf = nil
	default:
		p.textBuf = append(p.textBuf, p.tagBuf...)
		p.state = stateText
	}
	p.tagBuf = nil
}

func isThinkOpen(s string) bool {
	for _, t := range thinkOpenTags {
		if s == t {
			return true
		}
	}
	return false
}

func closeTagFor(openTag string) string {
	for i, t := range thinkOpenTags {
		if t == openTag {
			return thinkCloseTags[i]
		}
	}
	return ""
}

func (p *StreamParser) closeContent(out *[]Segment) {
	body := p.contentBuf[:len(p.contentBuf)-len(p.closeTag)]
	switch p.state {
	case stateToolCall:
		name, args, ok := parseToolCallJSON(p.a, strings.TrimSpace(string(body)))
		if ok {
			*out = append(*out, Segment{Kind: ToolCall, Name: name, Arguments: args})
		} else if len(body) > 0 {
			*out = append(*out, Segment{Kind: Text, Content: string(body)})
		}
	case stateThink:
		*out = append(*out, Segment{Kind: Thinking, Content: string(body)})
	}
	p.contentBuf = nil
	p.closeTag = ""
	p.state = stateText
}

// Close flushes any pending plain text once the caller knows no more input
// is coming. A tag or tool-call/thinking body left incomplete at this point
// is never emitted, per the streaming state machine's contract.
func (p *StreamParser) Close() []Segment {
	if len(p.textBuf) == 0 {
		return nil
	}
	seg := Segment{Kind: Text, Content: string(p.textBuf)}
	p.textBuf = nil
	return []Segment{seg}
}
