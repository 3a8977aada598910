package main

import (
	"encoding/json"
	"fmt"
)

func list(v any) []any {
	items, _ := v.([]any)
	return items
}

func toInt(v any) int64 {
	f, _ := v.(float64)
	return int64(f)
}

func userLabel(v any) string {
	u, _ := v.(map[string]any)
	if name, _ := u["username"].(string); name != "" {
		return name
	}
	return fmt.Sprint(u["_id"])
}

func compact(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
