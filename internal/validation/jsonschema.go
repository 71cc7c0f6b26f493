package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/procflow/pkg/schema"
)

const (
	procedureSchemaURL = "https://procflow.dev/schemas/procedure.json"
	processSchemaURL   = "https://procflow.dev/schemas/process.json"
)

// procedureSchemaJSON is the JSON Schema for Procedure documents. Action names
// are left open here; unknown actions are reported by the semantic stage.
const procedureSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://procflow.dev/schemas/procedure.json",
  "type": "object",
  "required": ["id", "org_id", "name", "steps"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "org_id": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "version": { "type": "integer", "minimum": 0 },
    "owner_id": { "type": "string" },
    "published": { "type": "boolean" },
    "active": { "type": "boolean" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "trigger": { "$ref": "#/$defs/trigger" }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "action"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "title": { "type": "string" },
        "action": { "type": "string", "minLength": 1 },
        "assignment": { "$ref": "#/$defs/assignment" },
        "config": { "type": "object" }
      },
      "additionalProperties": false
    },
    "assignment": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "enum": ["STARTER", "SPECIFIC_USER", "TEAM_QUEUE"] },
        "assignee_id": { "type": "string" }
      },
      "additionalProperties": false
    },
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "enum": ["MANUAL", "ON_FILE_CREATED", "WEBHOOK"] },
        "folder_path": { "type": "string" },
        "provider": { "type": "string" },
        "provider_folder_id": { "type": "string" },
        "secret": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// processSchemaJSON is the JSON Schema for Process documents.
const processSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://procflow.dev/schemas/process.json",
  "type": "object",
  "required": ["id", "org_id", "name", "steps"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "org_id": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1 },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["instance_id", "type"],
      "properties": {
        "instance_id": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "enum": ["PROCEDURE", "DELAY"] },
        "procedure_id": { "type": "string" },
        "input_mappings": {
          "type": "object",
          "additionalProperties": { "type": "string" }
        },
        "delay": {
          "type": "object",
          "required": ["duration"],
          "properties": {
            "duration": { "type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$" }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    }
  }
}`

// formFieldTypes maps FORM_INPUT field types to JSON Schema fragments.
var formFieldTypes = map[string]map[string]any{
	"string":  {"type": "string"},
	"number":  {"type": "number"},
	"boolean": {"type": "boolean"},
	"date":    {"type": "string", "format": "date"},
}

// JSONSchemaValidator validates documents against JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	procedureSchema *jsonschema.Schema
	processSchema   *jsonschema.Schema

	// mu guards the cache of dynamically compiled form schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the procedure and
// process schemas pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	for url, doc := range map[string]string{
		procedureSchemaURL: procedureSchemaJSON,
		processSchemaURL:   processSchemaJSON,
	} {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", url, err)
		}
		if err := c.AddResource(url, parsed); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	procSchema, err := c.Compile(procedureSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile procedure schema: %w", err)
	}
	processSchema, err := c.Compile(processSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile process schema: %w", err)
	}

	return &JSONSchemaValidator{
		procedureSchema: procSchema,
		processSchema:   processSchema,
		cache:           make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateProcedure checks the document shape of p.
func (v *JSONSchemaValidator) ValidateProcedure(p *schema.Procedure) error {
	if p == nil {
		return schema.NewError(schema.ErrCodeValidation, "procedure is nil")
	}
	return v.validateDoc(v.procedureSchema, p, "procedure")
}

// ValidateProcess checks the document shape of p.
func (v *JSONSchemaValidator) ValidateProcess(p *schema.Process) error {
	if p == nil {
		return schema.NewError(schema.ErrCodeValidation, "process is nil")
	}
	return v.validateDoc(v.processSchema, p, "process")
}

func (v *JSONSchemaValidator) validateDoc(s *jsonschema.Schema, doc any, kind string) error {
	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "failed to serialize %s", kind).WithCause(err)
	}
	if err := s.Validate(value); err != nil {
		return toEngineError(err)
	}
	return nil
}

// ValidateFormOutput checks a FORM_INPUT record against the step's declared
// fields: required fields must be present and typed fields must match.
func (v *JSONSchemaValidator) ValidateFormOutput(stepID string, cfg schema.FormInputConfig, record map[string]any) error {
	compiled, err := v.formSchema(cfg)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid form definition").WithCause(err).WithStep(stepID)
	}

	doc, err := toJSONValue(record)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize form output").WithCause(err).WithStep(stepID)
	}

	if err := compiled.Validate(doc); err != nil {
		return toEngineError(err).WithStep(stepID)
	}
	return nil
}

// formSchema builds and caches the JSON Schema for a form definition.
func (v *JSONSchemaValidator) formSchema(cfg schema.FormInputConfig) (*jsonschema.Schema, error) {
	props := make(map[string]any, len(cfg.Fields))
	required := []string{}
	for _, f := range cfg.Fields {
		if frag, ok := formFieldTypes[f.Type]; ok {
			props[f.Name] = frag
		} else {
			props[f.Name] = map[string]any{}
		}
		if f.Required {
			required = append(required, f.Name)
		}
	}
	raw, err := json.Marshal(map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
		"required":   required,
	})
	if err != nil {
		return nil, err
	}
	return v.getOrCompile(raw)
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("procflow://form-schema/%d", len(v.cache))

	// Fresh compiler per dynamic schema to avoid resource collisions.
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEngineError converts a jsonschema.ValidationError into a VALIDATION_ERROR
// listing every leaf violation with its instance location.
func toEngineError(err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
