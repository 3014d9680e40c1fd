package job

import (
	"encoding/json"
	"fmt"
)

// FlattenRow converts a nested detail record into a single flat row suitable
// for a spreadsheet. Nested objects contribute dot-joined columns. Arrays
// contribute a <path>_count column and a <path>_json column holding the
// serialized array. The key column is written last so a same-named field in
// the record cannot shadow it.
func FlattenRow(data any, keyColumn, key string) map[string]any {
	row := make(map[string]any)
	flattenInto(row, "", data)
	row[keyColumn] = key
	return row
}

func flattenInto(row map[string]any, prefix string, v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flattenInto(row, joinPath(prefix, k), child)
		}
	case []any:
		if prefix == "" {
			prefix = "items"
		}
		row[prefix+"_count"] = len(t)
		if raw, err := json.Marshal(t); err == nil {
			row[prefix+"_json"] = string(raw)
		} else {
			row[prefix+"_json"] = fmt.Sprintf("%v", t)
		}
	default:
		if prefix == "" {
			prefix = "value"
		}
		row[prefix] = v
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
