package respparse

import (
	"strings"

	"github.com/eliochat/eliocore/internal/arena"
	"github.com/eliochat/eliocore/internal/jsonx"
)

const (
	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"

	// pythonTagOpen/pythonTagClose are the alternative tag-pair form used by
	// Llama-family models (`<|python_tag|>...<|eom_id|>`), carrying the same
	// JSON body as the canonical <tool_call> form.
	pythonTagOpen  = "<|python_tag|>"
	pythonTagClose = "<|eom_id|>"
)

var thinkOpenTags = []string{"<think>", "<thinking>"}
var thinkCloseTags = []string{"</think>", "</thinking>"}

// ParseBatch extracts an ordered list of segments covering input exactly
// once, in order, with no gaps. Tool-call JSON that fails to parse, or that
// lacks a string "name", is dropped silently and its surrounding bytes are
// emitted as text instead.
func ParseBatch(a *arena.Arena, input string) []Segment {
	segs := make([]Segment, 0, 4)
	emitText := func(s string) {
		if s == "" {
			return
		}
		if n := len(segs); n > 0 && segs[n-1].Kind == Text {
			segs[n-1].Content += s
			return
		}
		segs = append(segs, Segment{Kind: Text, Content: s})
	}

	i := 0
	// The "only closing tag present" preload case: if a think-closing tag
	// appears before any think-opening tag, everything up to it is
	// thinking content.
	if start, end, ok := firstPreloadedThinkClose(input); ok {
		segs = append(segs, Segment{Kind: Thinking, Content: input[:start]})
		i = end
	}

	textStart := i
	for i < len(input) {
		if input[i] != '<' {
			i++
			continue
		}
		if body, end, ok := cutTag(input, i, toolCallOpen, toolCallClose); ok {
			emitText(input[textStart:i])
			appendToolCallOrText(a, &segs, emitText, body)
			i = end
			textStart = i
			continue
		}
		if body, end, ok := cutTag(input, i, pythonTagOpen, pythonTagClose); ok {
			emitText(input[textStart:i])
			appendToolCallOrText(a, &segs, emitText, body)
			i = end
			textStart = i
			continue
		}
		if body, end, ok := cutAnyTag(input, i, thinkOpenTags, thinkCloseTags); ok {
			emitText(input[textStart:i])
			segs = append(segs, Segment{Kind: Thinking, Content: body})
			i = end
			textStart = i
			continue
		}
		i++
	}
	emitText(input[textStart:])

	return splitBareJSONToolCalls(a, segs)
}

// cutTag reports whether input[at:] begins with open and a matching close
// exists later in the string, returning the body between them and the
// index just past close.
func cutTag(input string, at int, open, close string) (body string, end int, ok bool) {
	if !strings.HasPrefix(input[at:], open) {
		return "", 0, false
	}
	bodyStart := at + len(open)
	closeIdx := strings.Index(input[bodyStart:], close)
	if closeIdx < 0 {
		return "", 0, false
	}
	body = input[bodyStart : bodyStart+closeIdx]
	end = bodyStart + closeIdx + len(close)
	return body, end, true
}

func cutAnyTag(input string, at int, opens, closes []string) (body string, end int, ok bool) {
	for i, open := range opens {
		if b, e, matched := cutTag(input, at, open, closes[i]); matched {
			return b, e, true
		}
	}
	return "", 0, false
}

// firstPreloadedThinkClose finds the first think-closing tag in input and
// reports it only when no think-opening tag of either spelling precedes it.
func firstPreloadedThinkClose(input string) (start, end int, ok bool) {
	closeIdx, closeTag := -1, ""
	for i, tag := range thinkCloseTags {
		if idx := strings.Index(input, tag); idx >= 0 && (closeIdx < 0 || idx < closeIdx) {
			closeIdx = idx
			closeTag = thinkCloseTags[i]
		}
	}
	if closeIdx < 0 {
		return 0, 0, false
	}
	for _, open := range thinkOpenTags {
		if idx := strings.Index(input, open); idx >= 0 && idx < closeIdx {
			return 0, 0, false
		}
	}
	return closeIdx, closeIdx + len(closeTag), true
}

// appendToolCallOrText attempts to parse body as {"name": str, "arguments":
// obj}; on success it appends a ToolCall segment, on failure it emits the
// raw tag body back as text. "Dropped" here means dropped as a structured
// tool call; the bytes still surface to the user as text.
func appendToolCallOrText(a *arena.Arena, segs *[]Segment, emitText func(string), body string) {
	name, args, ok := parseToolCallJSON(a, body)
	if !ok {
		emitText(body)
		return
	}
	*segs = append(*segs, Segment{Kind: ToolCall, Name: name, Arguments: args})
}

func parseToolCallJSON(a *arena.Arena, body string) (name string, args *jsonx.Value, ok bool) {
	v, err := jsonx.Parse(a, []byte(strings.TrimSpace(body)))
	if err != nil || v.Kind() != jsonx.KindObject {
		return "", nil, false
	}
	nameVal, hasName := v.Get("name")
	if !hasName || nameVal.Kind() != jsonx.KindString {
		return "", nil, false
	}
	argsVal, hasArgs := v.Get("arguments")
	if !hasArgs || argsVal.Kind() != jsonx.KindObject {
		argsVal = jsonx.Object()
	}
	return nameVal.Str(), argsVal, true
}

// splitBareJSONToolCalls scans the Text segments of segs for bare JSON
// objects shaped like a tool call — found by locating `"name"`, walking
// back to the nearest `{`, and brace-matching forward with string-quoting
// awareness — and splits them out as ToolCall segments.
func splitBareJSONToolCalls(a *arena.Arena, segs []Segment) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, seg := range segs {
		if seg.Kind != Text {
			out = append(out, seg)
			continue
		}
		out = append(out, splitBareJSONInText(a, seg.Content)...)
	}
	return out
}

func splitBareJSONInText(a *arena.Arena, text string) []Segment {
	var result []Segment
	pos := 0
	for {
		nameIdx := strings.Index(text[pos:], `"name"`)
		if nameIdx < 0 {
			break
		}
		nameIdx += pos
		braceStart := findEnclosingBrace(text, nameIdx-1)
		if braceStart < 0 {
			pos = nameIdx + len(`"name"`)
			continue
		}
		braceEnd := matchBrace(text, braceStart)
		if braceEnd < 0 {
			pos = nameIdx + len(`"name"`)
			continue
		}
		candidate := text[braceStart : braceEnd+1]
		name, args, ok := parseToolCallJSON(a, candidate)
		if !ok {
			pos = nameIdx + len(`"name"`)
			continue
		}
		if s := text[pos:braceStart]; s != "" {
			result = append(result, Segment{Kind: Text, Content: s})
		}
		result = append(result, Segment{Kind: ToolCall, Name: name, Arguments: args})
		pos = braceEnd + 1
	}
	if rest := text[pos:]; rest != "" {
		result = append(result, Segment{Kind: Text, Content: rest})
	}
	if result == nil {
		if text == "" {
			return nil
		}
		return []Segment{{Kind: Text, Content: text}}
	}
	return result
}

// findEnclosingBrace walks backward from idx to the nearest unmatched '{'
// that could open an object containing the byte at idx.
func findEnclosingBrace(text string, idx int) int {
	depth := 0
	inString := false
	escaped := false
	for i := idx; i >= 0; i-- {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '}':
			depth++
		case '{':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

// matchBrace finds the index of the '}' matching the '{' at start,
// respecting JSON string quoting.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
