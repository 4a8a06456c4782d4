package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesFiltersRequestText(t *testing.T) {
	attrs := SafeAttributes(map[string]any{
		"watcher.samples":       []string{"a", "b", "c"},
		"watcher.intent":        "move funds",
		"watcher.system_prompt": "x",
		"api_key":               "sk-123",
		"authorization":         "Bearer x",
		"watcher.tenant":        "",
		"watcher.action":        "BLOCK",
		"watcher.note":          strings.Repeat("n", 600),
		"watcher.drift":         true,
		"watcher.struct":        struct{}{},
	})

	assert.Equal(t, []attribute.KeyValue{
		attribute.String("watcher.action", "BLOCK"),
		attribute.Bool("watcher.drift", true),
	}, attrs)
}

func TestSafeAttributesTruncatesSlices(t *testing.T) {
	long := make([]string, 40)
	for i := range long {
		long[i] = "v"
	}
	attrs := SafeAttributes(map[string]any{"watcher.violations": long})
	if assert.Len(t, attrs, 1) {
		assert.Len(t, attrs[0].Value.AsStringSlice(), maxAttrSlice)
	}
	assert.Nil(t, SafeAttributes(nil))
}
