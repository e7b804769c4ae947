package llm

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// validateContent checks a completion's content against the requested
// schema. The check is a deliberate subset of JSON Schema: top-level
// type, required and additionalProperties only, nothing nested. Callers
// rely on that permissiveness, so do not widen it here.
//
// A content string that is not valid JSON is an invalid-json error in
// both modes. In non-strict mode a type mismatch is logged and the value
// passes; in strict mode every violation is collected before failing so
// the caller sees the full list at once.
func validateContent(content string, schema *JSONSchema, logger *zap.Logger) *Error {
	var value any
	if err := json.Unmarshal([]byte(content), &value); err != nil {
		return &Error{
			Code:    CodeInvalidJSON,
			Message: "model output is not valid JSON",
			Details: truncate(content, 200),
			Cause:   err,
		}
	}

	if schema == nil || schema.Schema == nil {
		return nil
	}
	doc := schema.Schema

	var violations []SchemaViolation

	if want, _ := doc["type"].(string); want != "" {
		switch want {
		case "object":
			if _, ok := value.(map[string]any); !ok {
				violations = append(violations, SchemaViolation{
					Path:    "$",
					Message: fmt.Sprintf("expected object, got %s", jsonTypeName(value)),
				})
			}
		case "array":
			if _, ok := value.([]any); !ok {
				violations = append(violations, SchemaViolation{
					Path:    "$",
					Message: fmt.Sprintf("expected array, got %s", jsonTypeName(value)),
				})
			}
		}
	}

	if !schema.Strict {
		if len(violations) > 0 && logger != nil {
			logger.Warn("model output deviates from schema",
				zap.String("schema", schema.Name),
				zap.String("violation", violations[0].Message),
			)
		}
		return nil
	}

	obj, isObj := value.(map[string]any)

	if isObj {
		for _, name := range requiredNames(doc["required"]) {
			if _, present := obj[name]; !present {
				violations = append(violations, SchemaViolation{
					Path:    "$." + name,
					Message: "required property missing",
				})
			}
		}
	}

	if extra, ok := doc["additionalProperties"].(bool); ok && !extra && isObj {
		declared := map[string]bool{}
		if props, ok := doc["properties"].(map[string]any); ok {
			for name := range props {
				declared[name] = true
			}
		}

		var undeclared []string
		for name := range obj {
			if !declared[name] {
				undeclared = append(undeclared, name)
			}
		}
		sort.Strings(undeclared)
		for _, name := range undeclared {
			violations = append(violations, SchemaViolation{
				Path:    "$." + name,
				Message: "property not allowed",
			})
		}
	}

	if len(violations) > 0 {
		return &Error{
			Code:       CodeSchemaValidation,
			Message:    fmt.Sprintf("model output violates schema %q", schema.Name),
			Violations: violations,
		}
	}
	return nil
}

// requiredNames accepts both the []any a schema decoded from JSON
// carries and the []string a schema built in Go usually carries.
func requiredNames(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		names := make([]string, 0, len(list))
		for _, item := range list {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
		return names
	}
	return nil
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
