package expressions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var stepRefPattern = regexp.MustCompile(`^step_(\d+)$`)

// VariableResolver substitutes {{path}} expressions against a context map.
// Unresolved expressions are left in place as literal text; resolution never
// fails.
type VariableResolver struct{}

// NewVariableResolver creates a VariableResolver.
func NewVariableResolver() *VariableResolver {
	return &VariableResolver{}
}

// Resolve returns template with every resolvable {{path}} replaced by its
// value. Strings are inserted raw, other values are JSON encoded.
func (r *VariableResolver) Resolve(template string, data map[string]any) string {
	if !HasTemplate(template) {
		return template
	}

	var out strings.Builder
	out.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "{{")
		if idx == -1 {
			out.WriteString(template[i:])
			break
		}
		out.WriteString(template[i : i+idx])
		start := i + idx + 2

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			// Unclosed: keep the remainder verbatim.
			out.WriteString(template[i+idx:])
			break
		}
		end += start

		path := strings.TrimSpace(template[start:end])
		if val, ok := r.Lookup(path, data); ok {
			out.WriteString(marshalInline(val))
		} else {
			out.WriteString(template[i+idx : end+2])
		}
		i = end + 2
	}

	return out.String()
}

// ResolveValue resolves a template that consists of a single expression to
// its typed value. Any other template resolves to a string via Resolve.
func (r *VariableResolver) ResolveValue(template string, data map[string]any) any {
	trimmed := strings.TrimSpace(template)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "{{") == 1 {
		path := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		if val, ok := r.Lookup(path, data); ok {
			return val
		}
	}
	return r.Resolve(template, data)
}

// ResolveMap resolves every string leaf of m, recursing into nested maps and
// slices. Single-expression leaves keep their resolved type.
func (r *VariableResolver) ResolveMap(m map[string]any, data map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = r.resolveAny(v, data)
	}
	return out
}

func (r *VariableResolver) resolveAny(v any, data map[string]any) any {
	switch val := v.(type) {
	case string:
		return r.ResolveValue(val, data)
	case map[string]any:
		return r.ResolveMap(val, data)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.resolveAny(item, data)
		}
		return out
	default:
		return v
	}
}

// Lookup finds the value addressed by a dot-path. A leading step_<n>.output
// segment pair reads the step_<n>_output binding; otherwise the first segment
// is a top-level key. The whole path is also tried as a literal key.
func (r *VariableResolver) Lookup(path string, data map[string]any) (any, bool) {
	if path == "" || data == nil {
		return nil, false
	}
	if val, ok := data[path]; ok {
		return val, true
	}

	segments := strings.Split(path, ".")
	if m := stepRefPattern.FindStringSubmatch(segments[0]); m != nil &&
		len(segments) >= 2 && segments[1] == "output" {
		root, ok := data["step_"+m[1]+"_output"]
		if !ok {
			return nil, false
		}
		return traversePath(root, segments[2:])
	}

	root, ok := data[segments[0]]
	if !ok {
		return nil, false
	}
	return traversePath(root, segments[1:])
}

// traversePath navigates nested maps and slices.
func traversePath(root any, segments []string) (any, bool) {
	current := root
	for _, seg := range segments {
		if seg == "" {
			return nil, false
		}
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		case map[string]string:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// marshalInline converts a resolved value into its textual form.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// HasTemplate reports whether s contains a {{...}} expression.
func HasTemplate(s string) bool {
	open := strings.Index(s, "{{")
	return open != -1 && strings.Contains(s[open:], "}}")
}

// StepReferences returns the 1-based step numbers referenced through
// step_<n>.output paths in s.
func StepReferences(s string) []int {
	var refs []int
	seen := make(map[int]bool)
	for {
		idx := strings.Index(s, "{{")
		if idx == -1 {
			break
		}
		rest := s[idx+2:]
		closeIdx := strings.Index(rest, "}}")
		if closeIdx == -1 {
			break
		}
		path := strings.TrimSpace(rest[:closeIdx])
		head, _, _ := strings.Cut(path, ".")
		if m := stepRefPattern.FindStringSubmatch(head); m != nil {
			n, _ := strconv.Atoi(m[1])
			if !seen[n] {
				seen[n] = true
				refs = append(refs, n)
			}
		}
		s = rest[closeIdx+2:]
	}
	return refs
}
