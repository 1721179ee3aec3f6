package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/flyerextract/internal/gcp"
	"github.com/Lllllllleong/flyerextract/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const responseSchemaURL = "https://flyerextract.schemas.local/flyer-response.schema.json"

// ResponseValidator re-checks model output against the response contract the
// model was given, including the category enumeration.
type ResponseValidator struct {
	schema *jsonschema.Schema
}

// errMalformedOutput marks output that is empty, not JSON, or off-schema.
type errMalformedOutput struct {
	err error
}

func (e *errMalformedOutput) Error() string { return "malformed model output: " + e.err.Error() }
func (e *errMalformedOutput) Unwrap() error { return e.err }

// NewResponseValidator compiles the local copy of FlyerResponseSchema.
func NewResponseValidator() (*ResponseValidator, error) {
	doc, err := json.Marshal(jsonSchemaFromGenai(gcp.FlyerResponseSchema()))
	if err != nil {
		return nil, fmt.Errorf("response schema marshal failed: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(responseSchemaURL, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("response schema load failed: %w", err)
	}
	compiled, err := c.Compile(responseSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("response schema compile failed: %w", err)
	}
	return &ResponseValidator{schema: compiled}, nil
}

// Decode validates raw JSON text and decodes it into an ExtractionResult.
func (v *ResponseValidator) Decode(text string) (*models.ExtractionResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &errMalformedOutput{err: fmt.Errorf("empty response")}
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, &errMalformedOutput{err: fmt.Errorf("invalid JSON: %w", err)}
	}
	if err := v.schema.Validate(generic); err != nil {
		return nil, &errMalformedOutput{err: fmt.Errorf("schema validation failed: %w", err)}
	}

	var result models.ExtractionResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, &errMalformedOutput{err: fmt.Errorf("decode failed: %w", err)}
	}
	return &result, nil
}

// jsonSchemaFromGenai translates the Vertex response schema into a JSON Schema
// document.
func jsonSchemaFromGenai(s *genai.Schema) map[string]any {
	out := map[string]any{}
	typeName := genaiTypeName(s.Type)
	if typeName != "" {
		if s.Nullable {
			out["type"] = []string{typeName, "null"}
		} else {
			out["type"] = typeName
		}
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Items != nil {
		out["items"] = jsonSchemaFromGenai(s.Items)
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = jsonSchemaFromGenai(prop)
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

func genaiTypeName(t genai.Type) string {
	switch t {
	case genai.TypeString:
		return "string"
	case genai.TypeNumber:
		return "number"
	case genai.TypeInteger:
		return "integer"
	case genai.TypeBoolean:
		return "boolean"
	case genai.TypeArray:
		return "array"
	case genai.TypeObject:
		return "object"
	}
	return ""
}
