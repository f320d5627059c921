package executor

import (
	"encoding"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"time"

	"github.com/casualjim/relay/pkg/slogx"
	json "github.com/goccy/go-json"
)

// FormattedResultKey is the map key a tool may use to supply its own display text.
const FormattedResultKey = "formatted_result"

// Stringify converts a tool result into the text that is fed back to the model.
//
// Maps carrying a string under FormattedResultKey use that value, other maps and
// structured values are rendered as indented JSON.
func Stringify(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case map[string]any:
		if formatted, ok := v[FormattedResultKey].(string); ok {
			return formatted, nil
		}
		return indentJSON(v)
	case bool:
		return strconv.FormatBool(v), nil
	case int, int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(v).Int(), 10), nil
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(v).Uint(), 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	case error:
		return v.Error(), nil
	case encoding.TextMarshaler:
		b, err := v.MarshalText()
		if err != nil {
			slog.Error("failed to marshal tool result", slogx.Error(err))
			return "", err
		}
		return string(b), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return indentJSON(v)
	}
}

func indentJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Error("failed to marshal tool result", slogx.Error(err))
		return "", err
	}
	return string(b), nil
}

// reportedFailure extracts the error a tool reported in its result payload via
// {"success": false, "error": "..."} without raising.
func reportedFailure(result any) (string, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return "", false
	}
	success, ok := m["success"].(bool)
	if !ok || success {
		return "", false
	}
	if msg, ok := m["error"].(string); ok && msg != "" {
		return msg, true
	}
	return "tool reported failure", true
}
