package telemetry

import (
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	maxAttrString = 256
	maxAttrSlice  = 16
)

// Request text and credentials never become metric or span attributes.
var deniedAttrKeys = []string{
	"sample",
	"intent",
	"desired_state",
	"system_prompt",
	"snapshot",
	"authorization",
	"api_key",
	"token",
	"secret",
}

// SafeAttributes converts values to OTEL attributes in key order. Denied keys,
// empty or oversized strings and unsupported types are dropped.
func SafeAttributes(values map[string]any) []attribute.KeyValue {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if !deniedAttrKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch val := values[k].(type) {
		case string:
			if val == "" || len(val) > maxAttrString {
				continue
			}
			attrs = append(attrs, attribute.String(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case []string:
			if len(val) == 0 {
				continue
			}
			attrs = append(attrs, attribute.StringSlice(k, headStrings(val, maxAttrSlice)))
		}
	}
	return attrs
}

func deniedAttrKey(k string) bool {
	lk := strings.ToLower(k)
	for _, bad := range deniedAttrKeys {
		if strings.Contains(lk, bad) {
			return true
		}
	}
	return false
}

func headStrings(in []string, limit int) []string {
	if len(in) <= limit {
		return in
	}
	return in[:limit]
}
