package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema returns the JSON Schema of the configuration file, using
// the YAML key names.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
		FieldNameTag:               "yaml",
	}

	schema := r.Reflect(&Config{})
	schema.Title = "filament-sensor configuration"
	schema.Description = "Sensor hardware, M600 policy and connectivity of the filament sensor daemon."
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return json.MarshalIndent(schema, "", "  ")
}
