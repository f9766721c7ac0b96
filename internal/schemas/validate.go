// Package schemas provides JSON Schema validation for structured artifacts
// at the artifact store boundary.
package schemas

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed defs/*.json
var defs embed.FS

// artifact name -> schema file under defs/
var schemaFiles = map[string]string{
	"segments":     "defs/segments.schema.json",
	"clips":        "defs/clips.schema.json",
	"scored_clips": "defs/clips.schema.json",
	"crop_config":  "defs/crop_config.schema.json",
	"schedule":     "defs/schedule.schema.json",
}

var (
	compileOnce sync.Once
	compiled    map[string]*gojsonschema.Schema
	compileErr  error
)

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Artifact string
	Errors   []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("artifact %q failed validation:\n", ve.Artifact))
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// SchemaLoadError represents errors loading or parsing a schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func compile() {
	compiled = make(map[string]*gojsonschema.Schema, len(schemaFiles))
	for name, path := range schemaFiles {
		content, err := defs.ReadFile(path)
		if err != nil {
			compileErr = &SchemaLoadError{Path: path, Message: "schema not embedded", Cause: err}
			return
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(content))
		if err != nil {
			compileErr = &SchemaLoadError{Path: path, Message: "schema failed to compile", Cause: err}
			return
		}
		compiled[name] = schema
	}
}

// HasSchema reports whether a schema is registered for the artifact name.
func HasSchema(artifact string) bool {
	_, ok := schemaFiles[artifact]
	return ok
}

// ValidateArtifact validates artifact JSON content against its registered
// schema. Artifacts without a registered schema pass unchecked.
func ValidateArtifact(artifact string, content []byte) error {
	compileOnce.Do(compile)
	if compileErr != nil {
		return compileErr
	}

	schema, ok := compiled[artifact]
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(content))
	if err != nil {
		return &SchemaLoadError{Path: artifact, Message: "document failed to load", Cause: err}
	}
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Artifact: artifact,
		Errors:   make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
