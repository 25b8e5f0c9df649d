package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrSchema is returned when a config document does not match the schema.
var ErrSchema = errors.New("config does not match schema")

//go:embed schema.json
var schemaJSON []byte

// Schema returns the embedded JSON schema of the config document.
func Schema() []byte {
	return schemaJSON
}

// ValidateDocument checks a raw YAML document against the embedded schema.
// Every violation is listed in the returned error.
func ValidateDocument(raw []byte) error {
	var doc any

	err := yaml.Unmarshal(raw, &doc)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if doc == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewGoLoader(normalize(doc)))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		problems = append(problems, verr.Field()+": "+verr.Description())
	}

	return fmt.Errorf("%w: %s", ErrSchema, strings.Join(problems, "; "))
}

// normalize turns YAML-specific values into their JSON counterparts.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}

		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}

		return out
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}
