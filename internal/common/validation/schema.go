// internal/common/validation/schema.go
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

var (
	activityNamingPattern = regexp.MustCompile(`^[a-z]+(-[a-z]+)*\.[a-z]+(-[a-z]+)*\.[a-z]+(-[a-z]+)*$`)
	emailPattern          = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern          = regexp.MustCompile(`^\+?[\d\s\-\(\)]{10,}$`)
	urlPattern            = regexp.MustCompile(`^(https?|ftp)://[^\s/$.?#].[^\s]*$`)
)

// Schema is a compiled JSON schema, safe for concurrent use.
type Schema struct {
	schema *gojsonschema.Schema
}

// CompileSchema compiles raw JSON schema bytes.
func CompileSchema(raw []byte) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{schema: s}, nil
}

// CompileSchemaMap compiles a schema held as a decoded JSON object.
func CompileSchemaMap(schema map[string]interface{}) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{schema: s}, nil
}

// Validate checks a Go value (struct, map or raw JSON bytes) against the schema.
func (s *Schema) Validate(document interface{}) (*ValidationResult, error) {
	var loader gojsonschema.JSONLoader
	switch doc := document.(type) {
	case []byte:
		loader = gojsonschema.NewBytesLoader(doc)
	case json.RawMessage:
		loader = gojsonschema.NewBytesLoader(doc)
	default:
		loader = gojsonschema.NewGoLoader(doc)
	}

	result, err := s.schema.Validate(loader)
	if err != nil {
		return nil, fmt.Errorf("validate document: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fieldName(desc),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out, nil
}

// ValidateDocument compiles schema and validates document in one call.
func ValidateDocument(schema map[string]interface{}, document interface{}) (*ValidationResult, error) {
	s, err := CompileSchemaMap(schema)
	if err != nil {
		return nil, err
	}
	return s.Validate(document)
}

func fieldName(desc gojsonschema.ResultError) string {
	// Missing required properties are reported on the parent; name the property instead.
	if desc.Type() == "required" {
		if prop, ok := desc.Details()["property"].(string); ok {
			field := desc.Field()
			switch {
			case field == "" || field == "(root)":
				return prop
			case field == prop || strings.HasSuffix(field, "."+prop):
				return field
			default:
				return field + "." + prop
			}
		}
	}
	return desc.Field()
}

func ValidateActivityNaming(activityID string) error {
	if !activityNamingPattern.MatchString(activityID) {
		return fmt.Errorf("activity ID must follow pattern: domain.entity.action (got: %s)", activityID)
	}
	return nil
}

func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, 0, len(vr.Errors))
	for _, err := range vr.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return messages
}

func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

func ValidateURL(url string) bool {
	return urlPattern.MatchString(url)
}
