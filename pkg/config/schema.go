package config

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/hostd/internal/bytesize"
)

// Schema returns the JSON Schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
		Mapper:                    schemaMapper,
	}

	schema := reflector.Reflect(&Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "hostd configuration"
	schema.Description = "Configuration schema for the hostd service host"

	return json.MarshalIndent(schema, "", "  ")
}

// schemaMapper describes types that decode from friendlier strings.
func schemaMapper(t reflect.Type) *jsonschema.Schema {
	switch t {
	case reflect.TypeOf(time.Duration(0)):
		return &jsonschema.Schema{
			Type:        "string",
			Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
			Description: "Go duration, e.g. 30s or 5m",
		}
	case reflect.TypeOf(bytesize.ByteSize(0)):
		return &jsonschema.Schema{
			OneOf: []*jsonschema.Schema{
				{Type: "integer", Minimum: json.Number("0")},
				{Type: "string", Description: "size such as 64MiB or 100MB"},
			},
		}
	}
	return nil
}
