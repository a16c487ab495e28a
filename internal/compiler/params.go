package compiler

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Param helpers over resolved node properties. Templates resolve to strings,
// so numeric and boolean fields also accept their string forms.

func stringParam(m map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		case int:
			return strconv.Itoa(s)
		case bool:
			return strconv.FormatBool(s)
		}
	}
	return ""
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	switch b := m[key].(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return defaultVal
		}
		return parsed
	default:
		return defaultVal
	}
}

// intParam returns defaultVal when key is absent and an error when the value
// is present but not a whole number.
func intParam(m map[string]any, key string, defaultVal int) (int, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%s: %v is not a whole number", key, n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return int(i), nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return defaultVal, nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not a number", key, n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%s: unsupported type %T", key, v)
	}
}

// stringsParam accepts a list or a single string under any of keys.
func stringsParam(m map[string]any, keys ...string) []string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s := stringParam(map[string]any{"v": item}, "v"); s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case []string:
			if len(v) > 0 {
				return append([]string(nil), v...)
			}
		case string:
			if v != "" {
				return []string{v}
			}
		}
	}
	return nil
}
