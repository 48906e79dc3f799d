package engine

import (
	"fmt"
	"strings"
)

// ParameterType enumerates the value types a runner parameter may take.
type ParameterType string

const (
	ParameterString ParameterType = "string"
	ParameterInt    ParameterType = "int"
	ParameterFloat  ParameterType = "float"
	ParameterBool   ParameterType = "bool"
	ParameterEnum   ParameterType = "enum"
)

// ParameterSchema describes one tunable parameter of a runner. Schemas are
// static for the lifetime of an instance and drive both validation and the
// settings UI of clients.
type ParameterSchema struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Description string        `json:"description,omitempty"`
	Default     interface{}   `json:"default,omitempty"`
	Required    bool          `json:"required,omitempty"`
	// Sensitive parameters (API keys) are redacted from logs and listings.
	Sensitive bool   `json:"sensitive,omitempty"`
	Category  string `json:"category,omitempty"`
	// Minimum and Maximum bound numeric parameters when non-nil.
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`
	// OneOf lists the admissible values of an enum parameter.
	OneOf []string `json:"one_of,omitempty"`
}

// ValidateParameters checks params against schema: every provided key must
// be declared, match its declared type, and satisfy its constraints; every
// required key without a default must be provided. Violations are reported
// as a single E401 error naming all offending parameters.
func ValidateParameters(schema []ParameterSchema, params map[string]interface{}) error {
	byName := make(map[string]ParameterSchema, len(schema))
	for _, p := range schema {
		byName[p.Name] = p
	}

	var problems []string
	for key, value := range params {
		p, ok := byName[key]
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", key))
			continue
		}
		if msg := checkParameter(p, value); msg != "" {
			problems = append(problems, msg)
		}
	}
	for _, p := range schema {
		if !p.Required || p.Default != nil {
			continue
		}
		if _, ok := params[p.Name]; !ok {
			problems = append(problems, fmt.Sprintf("missing required parameter %q", p.Name))
		}
	}

	if len(problems) > 0 {
		return NewError(CodeInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

func checkParameter(p ParameterSchema, value interface{}) string {
	switch p.Type {
	case ParameterString:
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("parameter %q must be a string", p.Name)
		}
	case ParameterBool:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("parameter %q must be a boolean", p.Name)
		}
	case ParameterInt:
		n, ok := asFloat(value)
		if !ok || n != float64(int64(n)) {
			return fmt.Sprintf("parameter %q must be an integer", p.Name)
		}
		return checkRange(p, n)
	case ParameterFloat:
		n, ok := asFloat(value)
		if !ok {
			return fmt.Sprintf("parameter %q must be a number", p.Name)
		}
		return checkRange(p, n)
	case ParameterEnum:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("parameter %q must be a string", p.Name)
		}
		for _, admissible := range p.OneOf {
			if s == admissible {
				return ""
			}
		}
		return fmt.Sprintf("parameter %q must be one of [%s]", p.Name, strings.Join(p.OneOf, ", "))
	default:
		return fmt.Sprintf("parameter %q has unsupported type %q", p.Name, p.Type)
	}
	return ""
}

func checkRange(p ParameterSchema, n float64) string {
	if p.Minimum != nil && n < *p.Minimum {
		return fmt.Sprintf("parameter %q must be >= %v", p.Name, *p.Minimum)
	}
	if p.Maximum != nil && n > *p.Maximum {
		return fmt.Sprintf("parameter %q must be <= %v", p.Name, *p.Maximum)
	}
	return ""
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
