package management

import (
	"encoding/json"
	"fmt"
)

// argsToJSON marshals an arguments map for storage in a log row, falling
// back to "{}" if the value isn't marshalable (it always is for map[string]any
// built from decoded JSON, but a nil map should still record as an object).
func argsToJSON(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func argStringOpt(args map[string]any, key, def string) string {
	v, ok := args[key]
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

func argBoolOpt(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func argIntOpt(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

func argIntPtrOpt(args map[string]any, key string) *int {
	v, ok := args[key]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	case int:
		return &n
	}
	return nil
}

func argStringSliceOpt(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func argStringPtrOpt(args map[string]any, key string) *string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	if s, ok := v.(string); ok {
		return &s
	}
	return nil
}

func argBoolPtrOpt(args map[string]any, key string) *bool {
	v, ok := args[key]
	if !ok {
		return nil
	}
	if b, ok := v.(bool); ok {
		return &b
	}
	return nil
}
