package memory

import (
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Metadata is a bounded string-to-string map. The schema keeps upstream
// pipelines from smuggling arbitrary payloads into the store.
const metadataSchemaJSON = `{
	"type": "object",
	"maxProperties": 32,
	"propertyNames": {"pattern": "^[a-z0-9_.-]{1,64}$"},
	"additionalProperties": {"type": "string", "maxLength": 1024}
}`

var (
	metadataSchemaOnce sync.Once
	metadataSchema     *gojsonschema.Schema
	metadataSchemaErr  error
)

func validateMetadata(metadata map[string]string) error {
	if len(metadata) == 0 {
		return nil
	}

	metadataSchemaOnce.Do(func() {
		metadataSchema, metadataSchemaErr = gojsonschema.NewSchema(
			gojsonschema.NewStringLoader(metadataSchemaJSON))
	})
	if metadataSchemaErr != nil {
		return &ConfigError{Field: "metadata_schema", Reason: metadataSchemaErr.Error()}
	}

	result, err := metadataSchema.Validate(gojsonschema.NewGoLoader(metadata))
	if err != nil {
		return &QueryError{Reason: "metadata is not a valid JSON object: " + err.Error()}
	}
	if !result.Valid() {
		return &QueryError{Reason: "metadata: " + result.Errors()[0].String()}
	}
	return nil
}
