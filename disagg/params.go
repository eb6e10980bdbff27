package disagg

import (
	"fmt"
	"reflect"
	"sort"
)

// Params is a loosely-typed parameter mapping as produced by YAML decoding:
// string keys to strings, numbers, booleans, nested mappings and lists. The
// core never interprets unknown keys; they flow through to InstanceSpec
// ExtraParams verbatim.
type Params map[string]any

// Clone returns a deep copy. Nested maps and slices are copied; scalar
// values are shared (they are immutable post-decode).
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Params:
		return val.Clone()
	case map[string]any:
		return Params(val).Clone()
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return val
	}
}

// Equal reports structural deep equality. Params are compared exactly: no
// numeric coercion, no key-order sensitivity.
func (p Params) Equal(other Params) bool {
	if len(p) == 0 && len(other) == 0 {
		return true
	}
	return reflect.DeepEqual(normalizeValue(p), normalizeValue(other))
}

// valuesEqual reports structural equality of two loosely-typed values.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

// normalizeValue rewrites map[string]any as Params recursively so that
// mixed-origin mappings (decoded vs. hand-built) compare equal.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case Params:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return val
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

// sortedKeys returns the keys in lexical order, for deterministic iteration
// when error reporting must not depend on map order.
func (p Params) sortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// intValue reads an integer-valued key, tolerating the numeric types yaml.v3
// may produce. Returns def when the key is absent.
func (p Params) intValue(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("parameter %q must be an integer, got %v (%T)", key, v, v)
}

// stringList reads a list-of-strings key. Returns nil when absent.
func (p Params) stringList(key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		if typed, ok := v.([]string); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("parameter %q must be a list of strings, got %T", key, v)
	}
	out := make([]string, len(raw))
	for i, e := range raw {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %q[%d] must be a string, got %T", key, i, e)
		}
		out[i] = s
	}
	return out, nil
}

// mapValue reads a nested-mapping key. Returns nil when absent.
func (p Params) mapValue(key string) (Params, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	switch m := v.(type) {
	case Params:
		return m, nil
	case map[string]any:
		return Params(m), nil
	}
	return nil, fmt.Errorf("parameter %q must be a mapping, got %T", key, v)
}

// stringValue reads a string-valued key with a default.
func (p Params) stringValue(key, def string) (string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string, got %T", key, v)
	}
	return s, nil
}
