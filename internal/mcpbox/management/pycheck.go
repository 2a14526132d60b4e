package management

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// toolNamePattern is the §4.7 validation rule for mcpbox_create_tool names.
var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var mainDefPattern = regexp.MustCompile(`(?m)^\s*async\s+def\s+main\s*\(([^)]*)\)\s*(->\s*[^:]+)?:`)

// validateToolName enforces the §4.7 naming rule.
func validateToolName(name string) error {
	if !toolNamePattern.MatchString(name) {
		return fmt.Errorf("tool name %q must match ^[a-z][a-z0-9_]*$", name)
	}
	return nil
}

// validatePythonCode runs a lightweight syntax sanity check (balanced
// brackets, non-empty body) and requires an `async def main(...)` entry
// point, returning its parameter list for schema derivation. This stands in
// for a real Python parser: the gateway process has no Python runtime to
// shell out to, so validation happens at dispatch time inside the sandbox's
// execute_code call — this check only catches the entry-point shape early.
func validatePythonCode(code string) (params string, err error) {
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("python code must not be empty")
	}
	if err := checkBalancedBrackets(code); err != nil {
		return "", err
	}
	m := mainDefPattern.FindStringSubmatch(code)
	if m == nil {
		return "", fmt.Errorf("python code must define an async entry point: async def main(...)")
	}
	return m[1], nil
}

func checkBalancedBrackets(code string) error {
	var stack []byte
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}
	inString := byte(0)
	for i := 0; i < len(code); i++ {
		c := code[i]
		if inString != 0 {
			if c == inString && (i == 0 || code[i-1] != '\\') {
				inString = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			inString = c
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return fmt.Errorf("unbalanced brackets in python code near position %d", i)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) != 0 {
		return fmt.Errorf("unbalanced brackets in python code: %d unclosed", len(stack))
	}
	return nil
}

// deriveInputSchema builds a JSON schema object from main's parameter list,
// inferring each property's type from its Python type annotation when
// present (falling back to "string") and marking parameters without a
// default value as required.
func deriveInputSchema(params string) string {
	props := map[string]any{}
	var required []string

	for _, raw := range splitParams(params) {
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "self" {
			continue
		}
		name := raw
		typeAnnotation := ""
		hasDefault := strings.Contains(raw, "=")

		if idx := strings.Index(raw, "="); idx != -1 {
			name = raw[:idx]
		}
		if idx := strings.Index(name, ":"); idx != -1 {
			typeAnnotation = strings.TrimSpace(name[idx+1:])
			name = name[:idx]
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		props[name] = map[string]any{"type": pySchemaType(typeAnnotation)}
		if !hasDefault {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// splitParams splits a parameter list on top-level commas, respecting
// nested brackets in type annotations like `list[str]`.
func splitParams(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func pySchemaType(annotation string) string {
	switch strings.ToLower(strings.TrimSpace(annotation)) {
	case "int":
		return "integer"
	case "float":
		return "number"
	case "bool":
		return "boolean"
	case "list", "tuple":
		return "array"
	case "dict":
		return "object"
	case "str", "":
		return "string"
	default:
		if strings.HasPrefix(annotation, "list") || strings.HasPrefix(annotation, "List") {
			return "array"
		}
		if strings.HasPrefix(annotation, "dict") || strings.HasPrefix(annotation, "Dict") {
			return "object"
		}
		return "string"
	}
}
