package ingest

import (
	"testing"
	"time"
)

func TestExtractOriginTime(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)
	tests := []struct {
		name string
		doc  map[string]any
		ok   bool
	}{
		{"rfc3339", map[string]any{"@timestamp": "2024-01-15T10:30:45Z"}, true},
		{"space layout", map[string]any{"time": "2024-01-15 10:30:45"}, true},
		{"epoch seconds", map[string]any{"ts": float64(want.Unix())}, true},
		{"epoch millis", map[string]any{"timestamp": float64(want.UnixMilli())}, true},
		{"unix nano string", map[string]any{"timeUnixNano": "1705314645000000000"}, true},
		{"unparseable", map[string]any{"time": "yesterday"}, false},
		{"absent", map[string]any{"msg": "x"}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := extractOriginTime(tt.doc)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(want) {
				t.Errorf("time = %v, want %v", got.UTC(), want)
			}
		})
	}
}

func TestExtractStringField(t *testing.T) {
	t.Parallel()

	doc := map[string]any{"service": "", "service.name": "api", "app": "other"}
	if got := extractStringField(doc, serviceKeys...); got != "api" {
		t.Errorf("service = %q, want api", got)
	}
	if got := extractStringField(map[string]any{"app": float64(7)}, serviceKeys...); got != "7" {
		t.Errorf("numeric service = %q, want 7", got)
	}
	if got := extractStringField(map[string]any{"msg": "x"}, serviceKeys...); got != "" {
		t.Errorf("missing service = %q, want empty", got)
	}
}
