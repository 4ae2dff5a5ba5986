package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestFromContextAddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithCorrelationID(context.Background(), "req-42")
	FromContext(ctx, base).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["correlation_id"] != "req-42" {
		t.Fatalf("expected correlation_id req-42, got %v", line["correlation_id"])
	}
}

func TestWithCorrelationIDIgnoresEmpty(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	if got := CorrelationID(ctx); got != "" {
		t.Fatalf("expected no correlation id, got %q", got)
	}
}
