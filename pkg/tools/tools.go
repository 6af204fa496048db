// Package tools holds the natively implemented tools and the schema helper
// shared by every tool implementation.
package tools

import (
	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects a Go input struct into its JSON schema.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T

	return reflector.Reflect(v)
}
