package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// originTimeKeys are the document fields checked, in order, for the time the
// producer recorded the entry.
var originTimeKeys = []string{"@timestamp", "timestamp", "time", "ts", "timeUnixNano", "observedTimeUnixNano"}

// serviceKeys name the producing service in structured logs.
var serviceKeys = []string{"service", "service.name", "service_name", "app"}

// extractStringField returns the first non-empty string value found among the given keys.
func extractStringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if str := stringifyJSONValue(v); str != "" {
				return str
			}
		}
	}
	return ""
}

// extractOriginTime returns the producer timestamp of a JSON document, if any.
// Numeric values are read as epoch seconds, milliseconds or nanoseconds
// depending on their magnitude.
func extractOriginTime(doc map[string]any) (time.Time, bool) {
	for _, key := range originTimeKeys {
		value, ok := doc[key]
		if !ok {
			continue
		}
		if strings.HasSuffix(key, "UnixNano") {
			if ts, ok := parseTimeUnixNano(value); ok {
				return ts, true
			}
			continue
		}
		switch v := value.(type) {
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.000", "2006-01-02 15:04:05"} {
				if ts, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
					return ts, true
				}
			}
		case float64:
			return epochTime(int64(v)), true
		}
	}
	return time.Time{}, false
}

func epochTime(n int64) time.Time {
	switch {
	case n > 1e17:
		return time.Unix(0, n)
	case n > 1e11:
		return time.UnixMilli(n)
	default:
		return time.Unix(n, 0)
	}
}

func parseTimeUnixNano(value any) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(0, n), true
		}
	case float64:
		return time.Unix(0, int64(v)), true
	case int64:
		return time.Unix(0, v), true
	}
	return time.Time{}, false
}

func stringifyJSONValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return ""
}
