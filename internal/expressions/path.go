package expressions

import "strings"

// LookupPath resolves a dotted path (e.g. "report.summary.score") against a
// nested map. Returns the resolved value and true, or nil and false when any
// segment is missing or a non-map value is traversed.
func LookupPath(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
