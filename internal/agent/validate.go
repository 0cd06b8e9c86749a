package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache memoizes compiled tool parameter schemas, keyed by their
// canonical JSON form, so a tool registered once does not pay compilation
// cost on every call.
var schemaCache sync.Map

func compileParameterSchema(def Definition) (*jsonschema.Schema, error) {
	properties, required := propertiesToSchema(def.Properties)
	parameters := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		parameters["required"] = required
	}

	raw, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("encode parameter schema for %s: %w", def.Name, err)
	}

	key := def.Name + ":" + string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString(def.Name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema for %s: %w", def.Name, err)
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateParams checks params against def's generated JSON schema (tool
// parameters are typed and ordered). It is invoked by ToolRegistry.Execute
// before a tool body ever sees its arguments, so malformed tool calls
// surface as a KindInvalidArgument error rather than a panic or a tool
// silently misreading its own input.
func ValidateParams(def Definition, params json.RawMessage) error {
	schema, err := compileParameterSchema(def)
	if err != nil {
		return err
	}

	var decoded any
	if len(params) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("decode tool parameters: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool parameters invalid: %w", err)
	}
	return nil
}
