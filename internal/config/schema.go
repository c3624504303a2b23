package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaOnce     sync.Once
	schemaJSON     []byte
	schemaCompiled *validator.Schema
	schemaErr      error
)

var durationType = reflect.TypeOf(time.Duration(0))

// JSONSchema returns the JSON Schema of a configuration file, reflected from
// Config. Nothing is required and unknown keys are rejected. Durations take
// Go duration strings ("90s", "1h30m") or integer nanoseconds.
func JSONSchema() ([]byte, error) {
	buildSchema()
	return schemaJSON, schemaErr
}

func buildSchema() {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:               "yaml",
			Anonymous:                  true,
			RequiredFromJSONSchemaTags: true,
			Mapper:                     mapConfigType,
		}
		schema := r.Reflect(&Config{})
		schema.Title = "tenantagent configuration"
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
		if schemaErr != nil {
			return
		}
		schemaCompiled, schemaErr = validator.CompileString("tenantagent.config.schema.json", string(schemaJSON))
	})
}

func mapConfigType(t reflect.Type) *jsonschema.Schema {
	if t != durationType {
		return nil
	}
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string", Pattern: `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`},
			{Type: "integer"},
		},
	}
}

// checkFragment validates the settings of a single file. Null values are
// what unset ${VAR} references expand to and count as absent.
func checkFragment(raw map[string]any) error {
	buildSchema()
	if schemaErr != nil {
		return fmt.Errorf("config schema: %w", schemaErr)
	}
	payload, err := json.Marshal(withoutNulls(raw))
	if err != nil {
		return fmt.Errorf("settings are not representable as JSON: %w", err)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return err
	}
	return schemaCompiled.Validate(doc)
}

func withoutNulls(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		switch typed := value.(type) {
		case nil:
			continue
		case map[string]any:
			out[key] = withoutNulls(typed)
		default:
			out[key] = value
		}
	}
	return out
}
