package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]any
		if err := dec.Decode(&line); err != nil {
			t.Fatalf("invalid log line: %v", err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestNewWithWriterFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("test-service", &buf)

	log.WithJob("com.tencent.mm").WithEvent("evt-1", "com.tencent.mm").Info().Msg("hello")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	line := lines[0]
	for key, want := range map[string]string{
		"service":        "test-service",
		"job_target":     "com.tencent.mm",
		"job_type":       "accessibility",
		"event_id":       "evt-1",
		"application_id": "com.tencent.mm",
		"message":        "hello",
	} {
		if line[key] != want {
			t.Errorf("%s = %v, want %q", key, line[key], want)
		}
	}
	if _, ok := line["@timestamp"]; !ok {
		t.Error("missing @timestamp field")
	}
}

func TestLogLifecycleAndFailure(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("test-service", &buf)

	log.LogLifecycle("connected", "disconnected", "connected", 2)
	log.LogJobFailure("com.tencent.mm", "receive", errors.New("boom"))
	log.WithError(errors.New("outer")).Info().Msg("with error")

	lines := decodeLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0]["transitioned"] != true || lines[0]["job_count"] != float64(2) {
		t.Errorf("unexpected lifecycle line: %v", lines[0])
	}
	if lines[1]["level"] != "error" || lines[1]["hook"] != "receive" || lines[1]["error"] != "boom" {
		t.Errorf("unexpected failure line: %v", lines[1])
	}
	if lines[2]["error"] != "outer" {
		t.Errorf("unexpected error field: %v", lines[2])
	}
}

func TestContextRoundTrip(t *testing.T) {
	log := Nop().WithRequestID("req-1")
	ctx := log.ToContext(context.Background())

	if got := WithContext(ctx, "fallback"); got != log {
		t.Error("WithContext should return the stored logger")
	}
	if got := WithContext(context.Background(), "fallback"); got == nil {
		t.Error("WithContext should create a logger when none is stored")
	}
}
