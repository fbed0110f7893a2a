// Package payload turns a flattened profile into the body handed to the save
// collaborator.
//
// The dashboard edits six structured fields as JSON text. Before a save they
// are parsed back into native values: a blank field becomes nil, a field that
// does not parse aborts the save with a [*MalformedJSONError]. Two of them,
// the tools schema and the extraction schema, are additionally checked
// against JSON Schema; those checks only ever produce warnings.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
)

// JSONFields are the profile keys edited as JSON text, in the order they are
// parsed.
var JSONFields = []string{
	"dynamicVars",
	"toolsSchema",
	"redactParams",
	"transferWhitelist",
	"endCallPhrases",
	"extractionSchema",
}

// ErrMalformedJSON is matched by every [*MalformedJSONError].
var ErrMalformedJSON = errors.New("payload: malformed JSON field")

// MalformedJSONError reports a JSON-text field that failed to parse.
type MalformedJSONError struct {
	Field string
	Err   error
}

func (e *MalformedJSONError) Error() string {
	return fmt.Sprintf("payload: field %q is not valid JSON: %v", e.Field, e.Err)
}

// Unwrap returns the parse error.
func (e *MalformedJSONError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformedJSON) hold.
func (e *MalformedJSONError) Is(target error) bool { return target == ErrMalformedJSON }

// Build returns a shallow copy of flat with every JSON-text field parsed.
// Non-string values of those fields are passed through untouched. Parsing
// stops at the first malformed field, in [JSONFields] order.
//
// warnings lists advisory schema problems; they never cause an error.
func Build(flat map[string]any) (out map[string]any, warnings []string, err error) {
	out = maps.Clone(flat)
	if out == nil {
		out = make(map[string]any)
	}

	for _, field := range JSONFields {
		text, ok := out[field].(string)
		if !ok {
			continue
		}
		if strings.TrimSpace(text) == "" {
			out[field] = nil
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, nil, &MalformedJSONError{Field: field, Err: err}
		}
		out[field] = v
	}

	if w := checkTools(out["toolsSchema"]); w != "" {
		warnings = append(warnings, w)
	}
	if w := checkExtraction(out["extractionSchema"]); w != "" {
		warnings = append(warnings, w)
	}
	return out, warnings, nil
}
