// Package respparse extracts text, reasoning ("thinking"), and tool-call
// segments from free-form model output, in both a whole-buffer batch form
// and an incremental streaming form suitable for token-by-token feeds.
package respparse

import "github.com/eliochat/eliocore/internal/jsonx"

// Kind discriminates a parsed segment.
type Kind int

const (
	Text Kind = iota
	Thinking
	ToolCall
)

// Segment is one piece of a parsed response. Text/Thinking segments carry
// their content in Content; ToolCall segments carry Name and Arguments.
type Segment struct {
	Kind      Kind
	Content   string
	Name      string
	Arguments *jsonx.Value
}
