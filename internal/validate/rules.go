package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Rule is a single typed predicate in a field's chain.
type Rule interface {
	apply(field string, value any, present bool) outcome
}

type outcome struct {
	violation *FieldError
	// skipField abandons the rest of the chain without a violation
	// (optional field absent).
	skipField bool
	// stopChain abandons the rest of the chain after recording the
	// violation (required field missing; later rules would be noise).
	stopChain bool
}

type ruleFunc func(field string, value any, present bool) outcome

func (f ruleFunc) apply(field string, value any, present bool) outcome {
	return f(field, value, present)
}

func violation(field, message string) outcome {
	return outcome{violation: &FieldError{Field: field, Message: message}}
}

// Required fails when the field is missing, an empty string, or an empty
// collection. A failure stops the rest of the chain for the field.
func Required(message string) Rule {
	return ruleFunc(func(field string, value any, present bool) outcome {
		if message == "" {
			message = "is required"
		}
		if !present || isEmpty(value) {
			out := violation(field, message)
			out.stopChain = true
			return out
		}
		return outcome{}
	})
}

// Optional skips the remainder of the chain when the field is absent. Rules
// declared after Optional still run when a value is supplied.
func Optional() Rule {
	return ruleFunc(func(field string, value any, present bool) outcome {
		if !present {
			return outcome{skipField: true}
		}
		return outcome{}
	})
}

// IsString fails unless the value is a string.
func IsString() Rule {
	return ruleFunc(func(field string, value any, present bool) outcome {
		if !present {
			return outcome{}
		}
		if _, ok := value.(string); !ok {
			return violation(field, "must be a string")
		}
		return outcome{}
	})
}

// IsArray fails unless the value is an array.
func IsArray() Rule {
	return ruleFunc(func(field string, value any, present bool) outcome {
		if !present {
			return outcome{}
		}
		if _, ok := value.([]any); !ok {
			return violation(field, "must be an array")
		}
		return outcome{}
	})
}

// IsInt fails unless the value coerces to a whole number.
func IsInt() Rule {
	return ruleFunc(func(field string, value any, present bool) outcome {
		if !present {
			return outcome{}
		}
		number, ok := asFloat(value)
		if !ok || number != math.Trunc(number) {
			return violation(field, "must be an integer")
		}
		return outcome{}
	})
}

// IsFloat fails unless the value coerces to a number.
func IsFloat() Rule {
	return ruleFunc(func(field string, value any, present bool) outcome {
		if !present {
			return outcome{}
		}
		if _, ok := asFloat(value); !ok {
			return violation(field, "must be a number")
		}
		return outcome{}
	})
}

// Range fails when a numeric value falls outside the inclusive bounds. Values
// that do not coerce to numbers are left for a type rule to report.
func Range(min, max float64) Rule {
	return ruleFunc(func(field string, value any, present bool) outcome {
		if !present {
			return outcome{}
		}
		number, ok := asFloat(value)
		if !ok {
			return outcome{}
		}
		if number < min || number > max {
			return violation(field, fmt.Sprintf("must be between %s and %s", trimFloat(min), trimFloat(max)))
		}
		return outcome{}
	})
}

// Length fails when a string's length falls outside the inclusive bounds. A
// max of zero means unbounded above.
func Length(min, max int) Rule {
	return ruleFunc(func(field string, value any, present bool) outcome {
		if !present {
			return outcome{}
		}
		s, ok := value.(string)
		if !ok {
			return outcome{}
		}
		length := len([]rune(s))
		if length < min {
			return violation(field, fmt.Sprintf("must be at least %d characters", min))
		}
		if max > 0 && length > max {
			return violation(field, fmt.Sprintf("must be at most %d characters", max))
		}
		return outcome{}
	})
}

// Pattern fails when a string does not match the expression.
func Pattern(re *regexp.Regexp, message string) Rule {
	return ruleFunc(func(field string, value any, present bool) outcome {
		if !present {
			return outcome{}
		}
		s, ok := value.(string)
		if !ok {
			return outcome{}
		}
		if !re.MatchString(s) {
			if message == "" {
				message = "has an invalid format"
			}
			return violation(field, message)
		}
		return outcome{}
	})
}

// Enum fails when a string value is not one of the allowed set. Matching is
// case-sensitive: the allowed values are the wire values.
func Enum(allowed ...string) Rule {
	return ruleFunc(func(field string, value any, present bool) outcome {
		if !present {
			return outcome{}
		}
		s, ok := value.(string)
		if !ok {
			return violation(field, "must be a string")
		}
		for _, candidate := range allowed {
			if s == candidate {
				return outcome{}
			}
		}
		return violation(field, fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")))
	})
}

var entityIDPattern = regexp.MustCompile(`^[0-9a-f]{24}$`)

// ID fails unless the value is a well-formed entity identifier (24 lowercase
// hex characters).
func ID() Rule {
	return ruleFunc(func(field string, value any, present bool) outcome {
		if !present {
			return outcome{}
		}
		s, ok := value.(string)
		if !ok || !entityIDPattern.MatchString(s) {
			return violation(field, "must be a valid identifier")
		}
		return outcome{}
	})
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		number, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return number, true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		number, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return number, true
	default:
		return 0, false
	}
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
