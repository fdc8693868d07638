package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var schemaCache struct {
	once sync.Once
	data []byte
	err  error
}

// JSONSchema renders the configuration file's JSON Schema. The json struct
// tags mirror the yaml names, so the schema describes exactly what Load
// accepts.
func JSONSchema() ([]byte, error) {
	schemaCache.once.Do(func() {
		reflector := &jsonschema.Reflector{DoNotReference: true}
		schema := reflector.Reflect(&Config{})
		schema.Title = "tenex configuration"
		schema.Description = "Settings for the tenex orchestration runtime."
		schemaCache.data, schemaCache.err = json.MarshalIndent(schema, "", "  ")
	})
	return schemaCache.data, schemaCache.err
}
