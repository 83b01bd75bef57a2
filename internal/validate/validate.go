// Package validate evaluates declarative per-field rule chains against decoded
// request bodies. Rule sets are configuration, not code generation: handlers
// declare the fields they accept and the interpreter walks the body, collecting
// every violation before rejecting.
package validate

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldError describes a single violated rule. Field uses dotted notation with
// concrete array indexes substituted for wildcards (items.0.quantity).
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Field binds an ordered rule chain to a body path. Paths may contain a single
// wildcard segment (items.*.quantity) which applies the chain to every element
// of the addressed array. When Trim is set, leading and trailing whitespace is
// removed from string values before any rule runs, and the trimmed value is
// written back so handlers observe it.
type Field struct {
	Path  string
	Trim  bool
	Rules []Rule
}

// RuleSet is an ordered collection of field rule chains.
type RuleSet struct {
	fields []Field
}

// NewRuleSet constructs a RuleSet from the provided field declarations.
func NewRuleSet(fields ...Field) *RuleSet {
	return &RuleSet{fields: fields}
}

// Evaluate runs every rule chain against body and returns all violations in
// declaration order. An empty result means the body is valid. Evaluation never
// fails fast: independently violated rules across fields each contribute an
// entry. The only short-circuit is a field declared Optional that is absent,
// which skips the remainder of that field's chain.
func (rs *RuleSet) Evaluate(body map[string]any) []FieldError {
	if rs == nil {
		return nil
	}
	var violations []FieldError
	for _, field := range rs.fields {
		for _, path := range expandPath(body, field.Path) {
			violations = append(violations, evaluateField(body, path, field)...)
		}
	}
	return violations
}

func evaluateField(body map[string]any, path string, field Field) []FieldError {
	value, present := lookup(body, path)
	if field.Trim && present {
		if s, ok := value.(string); ok {
			trimmed := strings.TrimSpace(s)
			if trimmed != s {
				setValue(body, path, trimmed)
				value = trimmed
			}
		}
	}
	var violations []FieldError
	for _, rule := range field.Rules {
		outcome := rule.apply(path, value, present)
		if outcome.skipField {
			break
		}
		if outcome.violation != nil {
			violations = append(violations, *outcome.violation)
			if outcome.stopChain {
				break
			}
		}
	}
	return violations
}

// expandPath resolves a wildcard path against the body, yielding one concrete
// path per array element. Paths without a wildcard resolve to themselves; a
// wildcard over a missing or non-array value yields nothing, leaving the
// array-level rules (declared on the parent path) to report the problem.
func expandPath(body map[string]any, path string) []string {
	idx := strings.Index(path, ".*")
	if idx < 0 {
		return []string{path}
	}
	prefix := path[:idx]
	suffix := path[idx+2:]
	value, present := lookup(body, prefix)
	if !present {
		return nil
	}
	elements, ok := value.([]any)
	if !ok {
		return nil
	}
	paths := make([]string, 0, len(elements))
	for i := range elements {
		concrete := fmt.Sprintf("%s.%d%s", prefix, i, suffix)
		paths = append(paths, expandPath(body, concrete)...)
	}
	return paths
}

func lookup(body map[string]any, path string) (any, bool) {
	var current any = body
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}

func setValue(body map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	var current any = body
	for i, segment := range segments {
		last := i == len(segments)-1
		switch node := current.(type) {
		case map[string]any:
			if last {
				node[segment] = value
				return
			}
			current = node[segment]
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return
			}
			if last {
				node[index] = value
				return
			}
			current = node[index]
		default:
			return
		}
	}
}
