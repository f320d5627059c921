// Package jsonx converts between typed values and dynamic JSON objects.
package jsonx

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// ToDynamicJSON round-trips val through JSON into a map. val must encode to a
// JSON object.
func ToDynamicJSON(val any) (map[string]any, error) {
	b, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	result := make(map[string]any)
	if err = json.Unmarshal(b, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ParseObject decodes s as a JSON object. Blank input yields an empty map.
func ParseObject(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}, nil
	}
	if !gjson.Valid(s) {
		return nil, fmt.Errorf("invalid json: %q", truncate(s, 120))
	}
	jv := gjson.Parse(s)
	if !jv.IsObject() {
		return nil, fmt.Errorf("expected a json object, got %s", jv.Type)
	}
	result := make(map[string]any)
	if err := json.Unmarshal([]byte(s), &result); err != nil {
		return nil, err
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
