package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PropertyType enumerates the JSON-schema types a tool parameter may take.
type PropertyType string

const (
	TypeString  PropertyType = "string"
	TypeInteger PropertyType = "integer"
	TypeNumber  PropertyType = "number"
	TypeBoolean PropertyType = "boolean"
	TypeArray   PropertyType = "array"
	TypeObject  PropertyType = "object"
)

// Property is one entry of a tool's ordered parameter schema.
type Property struct {
	Name        string
	Type        PropertyType
	Description string
	Required    bool
	Enum        []string

	// Items describes array element schema when Type == TypeArray.
	Items *Property
	// Nested describes object member schema when Type == TypeObject.
	Nested []Property
}

// Definition is a tool's name, description, and ordered parameter schema,
// as registered with a ToolRegistry (ordering within Properties is
// significant: it is preserved into the generated JSON schema).
type Definition struct {
	Name        string
	Description string
	Properties  []Property
}

func propertySchema(p Property) map[string]any {
	s := map[string]any{"type": string(p.Type)}
	if p.Description != "" {
		s["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		enumVals := make([]any, len(p.Enum))
		for i, v := range p.Enum {
			enumVals[i] = v
		}
		s["enum"] = enumVals
	}
	switch p.Type {
	case TypeArray:
		if p.Items != nil {
			s["items"] = propertySchema(*p.Items)
		}
	case TypeObject:
		if len(p.Nested) > 0 {
			props, required := propertiesToSchema(p.Nested)
			s["properties"] = props
			if len(required) > 0 {
				s["required"] = required
			}
		}
	}
	return s
}

func propertiesToSchema(props []Property) (map[string]any, []string) {
	properties := make(map[string]any, len(props))
	var required []string
	for _, p := range props {
		properties[p.Name] = propertySchema(p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return properties, required
}

// FunctionSchema renders def as an OpenAI-function-calling entry:
// {type:"function", function:{name, description, parameters:{type:"object",
// properties, required}}}.
func FunctionSchema(def Definition) map[string]any {
	properties, required := propertiesToSchema(def.Properties)
	parameters := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		parameters["required"] = required
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"parameters":  parameters,
		},
	}
}

// SchemaJSON renders the full tool array as compact JSON for embedding in a
// system prompt.
func SchemaJSON(defs []Definition) (string, error) {
	entries := make([]map[string]any, len(defs))
	for i, d := range defs {
		entries[i] = FunctionSchema(d)
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MarkdownDescription renders a human-readable tool listing for embedding
// directly in a system prompt alongside (or instead of) the JSON schema.
func MarkdownDescription(defs []Definition) string {
	var sb strings.Builder
	for _, d := range defs {
		sb.WriteString(fmt.Sprintf("- **%s**: %s\n", d.Name, d.Description))
		for _, p := range d.Properties {
			req := ""
			if p.Required {
				req = ", required"
			}
			sb.WriteString(fmt.Sprintf("  - `%s` (%s%s): %s\n", p.Name, p.Type, req, p.Description))
		}
	}
	return sb.String()
}

const englishSystemPromptTemplate = `You are a helpful AI assistant. You have access to various tools to help accomplish tasks.

When you need to use a tool, output a tool call in this format:
<tool_call>
{"name": "tool_name", "arguments": {"arg1": "value1"}}
</tool_call>

Available tools:
%s`

const japaneseSystemPromptTemplate = `あなたは親切なAIアシスタントです。タスクを達成するために様々なツールを利用できます。

ツールを使用する必要がある場合は、次の形式でツール呼び出しを出力してください:
<tool_call>
{"name": "tool_name", "arguments": {"arg1": "value1"}}
</tool_call>

利用可能なツール:
%s`

// BuildSystemPrompt renders the language-specific template with the
// tool-schema JSON array, followed by an optional user-provided instruction.
func BuildSystemPrompt(defs []Definition, useJapanese bool, customInstruction string) (string, error) {
	schema, err := SchemaJSON(defs)
	if err != nil {
		return "", err
	}
	template := englishSystemPromptTemplate
	if useJapanese {
		template = japaneseSystemPromptTemplate
	}
	prompt := fmt.Sprintf(template, schema)
	if customInstruction != "" {
		prompt = prompt + "\n\n" + customInstruction
	}
	return prompt, nil
}
