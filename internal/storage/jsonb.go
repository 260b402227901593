package storage

import "encoding/json"

// jsonbOf marshals an operation's loosely-typed metadata for a jsonb
// column, falling back to null on a marshal error rather than failing the
// whole write (metadata is diagnostic, not load-bearing).
func jsonbOf(v map[string]any) []byte {
	if v == nil {
		return []byte("null")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return raw
}
