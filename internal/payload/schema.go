package payload

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// toolsDefinitionSchema describes what the tool server accepts: either a list
// of tool definitions or an object carrying one under "tools". Every tool
// needs a name; parameters, when present, must be an object.
const toolsDefinitionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "tool": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "parameters": {"type": "object"}
      }
    }
  },
  "anyOf": [
    {"type": "array", "items": {"$ref": "#/$defs/tool"}},
    {
      "type": "object",
      "properties": {
        "tools": {"type": "array", "items": {"$ref": "#/$defs/tool"}}
      }
    }
  ]
}`

var toolsSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("tools.schema.json", toolsDefinitionSchema)
})

// checkTools validates a parsed toolsSchema value. It returns a warning or "".
func checkTools(v any) string {
	if v == nil {
		return ""
	}
	schema, err := toolsSchema()
	if err != nil {
		return fmt.Sprintf("toolsSchema: validator unavailable: %v", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Sprintf("toolsSchema does not look like a tool definition: %v", err)
	}
	return ""
}

// checkExtraction reports whether a parsed extractionSchema value compiles as
// a JSON Schema. It returns a warning or "".
func checkExtraction(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("extractionSchema: %v", err)
	}
	if _, err := jsonschema.CompileString("extraction.schema.json", string(raw)); err != nil {
		return fmt.Sprintf("extractionSchema is not a valid JSON Schema: %v", err)
	}
	return ""
}
