package hook

import "fmt"

// ExtractRecordIDs pulls every record identifier referenced by a tool call's
// arguments. The shapes covered are the ones the CMS data-API tools use:
//
//	{"keys": ["id1", "id2"]}   - bulk read/update/delete
//	{"key": "id1"}             - single-item operations
//	{"data": {"id": "id1"}}    - upsert payloads carrying an id
//	{"data": [{"id": "id1"}]}  - bulk payloads
//
// Numeric keys are stringified; unrecognized shapes contribute nothing.
func ExtractRecordIDs(input map[string]any) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(v any) {
		s := stringify(v)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		ids = append(ids, s)
	}

	if keys, ok := input["keys"].([]any); ok {
		for _, k := range keys {
			add(k)
		}
	}
	if key, ok := input["key"]; ok {
		add(key)
	}

	switch data := input["data"].(type) {
	case map[string]any:
		if id, ok := data["id"]; ok {
			add(id)
		}
	case []any:
		for _, item := range data {
			if m, ok := item.(map[string]any); ok {
				if id, ok := m["id"]; ok {
					add(id)
				}
			}
		}
	}

	return ids
}

// stringify converts a JSON scalar to its record-id string form.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode to float64; integer keys are common for
		// auto-increment collections.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case nil:
		return ""
	default:
		return ""
	}
}
