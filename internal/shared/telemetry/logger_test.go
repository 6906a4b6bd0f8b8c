package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestWriteEmitsJSONLine(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Warn("job.status", map[string]any{
		"job_id": "job-1",
		"error":  errors.New("boom"),
		"msg":    "overridden",
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	if payload["level"] != "warn" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
	if payload["msg"] != "job.status" {
		t.Fatalf("reserved msg key must win, got %v", payload["msg"])
	}
	if payload["error"] != "boom" {
		t.Fatalf("errors should be rendered as strings, got %v", payload["error"])
	}
	if payload["job_id"] != "job-1" {
		t.Fatalf("unexpected job_id: %v", payload["job_id"])
	}
}

func TestMergeDoesNotMutateBase(t *testing.T) {
	base := map[string]any{"job_id": "a"}
	merged := Merge(base, map[string]any{"status": "running"})
	if _, ok := base["status"]; ok {
		t.Fatalf("base mutated")
	}
	if merged["job_id"] != "a" || merged["status"] != "running" {
		t.Fatalf("unexpected merge result: %v", merged)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-7")
	if got := RequestIDFromContext(ctx); got != "req-7" {
		t.Fatalf("RequestIDFromContext = %q", got)
	}
	if got := RequestIDFromContext(WithRequestID(context.Background(), "")); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
