package hub

import (
	"strings"
)

// normalizeSymbols coerces the symbols field of a subscribe request into a
// deduplicated, uppercased ticker list. Clients send it as a single string,
// a string array, or (from loosely-typed serializers) a mixed array. Any
// unrecognized shape yields an empty list, which the caller rejects as a
// NoSymbols subscription rather than treating it as subscribe-to-everything.
func normalizeSymbols(v any) []string {
	var raw []string

	switch t := v.(type) {
	case string:
		raw = []string{t}
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		ticker := strings.ToUpper(strings.TrimSpace(s))
		if ticker == "" {
			continue
		}
		if _, dup := seen[ticker]; dup {
			continue
		}
		seen[ticker] = struct{}{}
		out = append(out, ticker)
	}
	return out
}
