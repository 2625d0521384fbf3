// Package schema validates record content against per-stream JSON
// schemas. Compiled schemas are held in a process-global cache keyed by
// (pod, stream path) and evicted when the schema definition changes.
package schema

import (
	"sync"

	"github.com/goccy/go-json"

	"github.com/xeipuuv/gojsonschema"

	"github.com/webpods-org/webpods/core"
)

// schema types
const (
	TypeJSONSchema = "json-schema"
	TypeNone       = "none"
)

// validation modes
const (
	// ModeStrict rejects invalid content.
	ModeStrict = "strict"
	// ModeWarn logs invalid content but accepts the write.
	ModeWarn = "warn"
)

// Definition is the content of a stream's schema record, stored as the
// "schema" record in the stream's .config child stream.
type Definition struct {
	SchemaType     string          `json:"schemaType"`
	Schema         json.RawMessage `json:"schema"`
	ValidationMode string          `json:"validationMode"`
	AppliesTo      string          `json:"appliesTo"`
}

// Enabled reports whether the definition turns validation on.
func (d Definition) Enabled() bool {
	return d.SchemaType == TypeJSONSchema && len(d.Schema) > 0
}

// ValidationFailure describes one schema violation.
type ValidationFailure struct {
	Field       string `json:"field"`
	Description string `json:"description"`
}

// Validator compiles and caches JSON schemas per stream.
type Validator struct {
	mutex    sync.RWMutex
	compiled map[string]*gojsonschema.Schema
}

// New creates an empty validator.
func New() *Validator {
	return &Validator{compiled: make(map[string]*gojsonschema.Schema)}
}

func cacheKey(pod, streamPath string) string {
	return pod + "|" + streamPath
}

func (v *Validator) compile(pod, streamPath string, definition Definition) (*gojsonschema.Schema, error) {
	key := cacheKey(pod, streamPath)
	v.mutex.RLock()
	compiled, ok := v.compiled[key]
	v.mutex.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(definition.Schema))
	if err != nil {
		return nil, core.NewError(core.KindValidationError, "cannot compile schema for stream "+streamPath).WithCause(err)
	}
	v.mutex.Lock()
	v.compiled[key] = compiled
	v.mutex.Unlock()
	return compiled, nil
}

// Validate checks content against the stream's schema definition. It
// returns a VALIDATION_ERROR with structured failure details when the
// content does not satisfy the schema. Definitions with schema type
// "none" always pass.
func (v *Validator) Validate(pod, streamPath string, definition Definition, content []byte) error {
	if !definition.Enabled() {
		return nil
	}
	compiled, err := v.compile(pod, streamPath, definition)
	if err != nil {
		return err
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(content))
	if err != nil {
		return core.NewError(core.KindValidationError, "content is not valid JSON").WithCause(err)
	}
	if result.Valid() {
		return nil
	}

	failures := make([]ValidationFailure, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		failures = append(failures, ValidationFailure{Field: e.Field(), Description: e.Description()})
	}
	return core.NewError(core.KindValidationError, "content does not satisfy the stream schema").WithDetails(failures)
}

// Invalidate evicts the compiled schema for the stream. Called whenever
// the stream's schema record is written.
func (v *Validator) Invalidate(pod, streamPath string) {
	v.mutex.Lock()
	delete(v.compiled, cacheKey(pod, streamPath))
	v.mutex.Unlock()
}
