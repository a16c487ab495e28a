package expressions

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"

	"github.com/rendis/autoflow/pkg/schema"
)

const (
	openMarker  = "{{"
	closeMarker = "}}"
)

// Resolve returns a structural copy of props in which every string containing
// {{path}} markers has each marker replaced by the string form of the value
// found at path in ns. Markers whose path does not resolve are left verbatim.
// Resolved values are never re-scanned, so the output is stable under repeated
// application once every marker has resolved.
func Resolve(props any, ns map[string]any) (any, error) {
	switch v := props.(type) {
	case string:
		return ResolveString(v, ns)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := Resolve(item, ns)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := Resolve(item, ns)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := ResolveString(item, ns)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return deepCopyAny(props), nil
	}
}

// ResolveMap is Resolve specialized to a property map.
func ResolveMap(props map[string]any, ns map[string]any) (map[string]any, error) {
	if props == nil {
		return map[string]any{}, nil
	}
	out, err := Resolve(props, ns)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// ResolveString substitutes every {{path}} marker in s.
func ResolveString(s string, ns map[string]any) (string, error) {
	if !strings.Contains(s, openMarker) {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], openMarker)
		if idx == -1 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		start := i + idx + len(openMarker)

		end := strings.Index(s[start:], closeMarker)
		if end == -1 {
			// Unclosed marker: keep the remainder literally.
			b.WriteString(s[i+idx:])
			break
		}
		end += start
		raw := s[i+idx : end+len(closeMarker)]

		val, ok := Lookup(strings.TrimSpace(s[start:end]), ns)
		if !ok {
			b.WriteString(raw)
		} else {
			str, err := stringify(val)
			if err != nil {
				return "", schema.NewErrorf(schema.ErrCodeInterpolation,
					"cannot render %s: %s", raw, err.Error()).WithCause(err)
			}
			b.WriteString(str)
		}
		i = end + len(closeMarker)
	}
	return b.String(), nil
}

// HasMarkers reports whether s contains a template marker.
func HasMarkers(s string) bool {
	i := strings.Index(s, openMarker)
	return i != -1 && strings.Contains(s[i:], closeMarker)
}

// Lookup resolves a dot-delimited path with optional bracket indices
// (e.g. "user.addresses[0].city") against ns.
func Lookup(path string, ns map[string]any) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = ns
	for _, seg := range strings.Split(path, ".") {
		name, indices, ok := parseSegment(seg)
		if !ok {
			return nil, false
		}
		if name != "" {
			current, ok = field(current, name)
			if !ok {
				return nil, false
			}
		}
		for _, n := range indices {
			current, ok = index(current, n)
			if !ok {
				return nil, false
			}
		}
	}
	return current, true
}

// parseSegment splits "key[1][2]" into "key" and [1 2].
func parseSegment(seg string) (string, []int, bool) {
	open := strings.IndexByte(seg, '[')
	if open == -1 {
		return seg, nil, seg != ""
	}
	name := seg[:open]
	rest := seg[open:]
	var indices []int
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		closeIdx := strings.IndexByte(rest, ']')
		if closeIdx == -1 {
			return "", nil, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest[1:closeIdx]))
		if err != nil {
			return "", nil, false
		}
		indices = append(indices, n)
		rest = rest[closeIdx+1:]
	}
	if name == "" && len(indices) == 0 {
		return "", nil, false
	}
	return name, indices, true
}

func field(v any, name string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		val, ok := m[name]
		return val, ok
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	val := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
	if !val.IsValid() {
		return nil, false
	}
	return val.Interface(), true
}

func index(v any, n int) (any, bool) {
	if n < 0 {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		if n >= len(s) {
			return nil, false
		}
		return s[n], true
	}
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if n >= rv.Len() {
		return nil, false
	}
	return rv.Index(n).Interface(), true
}

// stringify renders a resolved value: strings verbatim, numbers in shortest
// decimal form, containers as JSON.
func stringify(val any) (string, error) {
	switch v := val.(type) {
	case string:
		return v, nil
	case nil:
		return "null", nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case json.Number:
		return v.String(), nil
	case json.RawMessage:
		return string(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
