package config

import (
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
)

// durationPattern accepts the strings time.ParseDuration does, e.g. "500ms"
// or "1m30s".
const durationPattern = `^-?([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$|^0$`

// Schema returns the JSON Schema of the config file, suitable for editor
// validation of config.yaml. Every key is optional and unknown keys are
// rejected, as the loader does.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{
					Type:        "string",
					Pattern:     durationPattern,
					Description: "Go duration, e.g. 500ms or 5s",
				}
			}
			return nil
		},
	}

	schema := reflector.Reflect(&RelayConfig{})
	schema.Title = "devrelay configuration"
	schema.Description = "Configuration file of the devrelay DevTools relay"
	return schema
}
