package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithComponentAddsField(t *testing.T) {
	l := WithComponent("reaper")

	var buf bytes.Buffer
	l = l.Output(&buf)
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["component"] != "reaper" {
		t.Fatalf("expected component=reaper, got %v", entry["component"])
	}
	if entry["service"] != "paygate" {
		t.Fatalf("expected service=paygate, got %v", entry["service"])
	}
}

func TestFromContext(t *testing.T) {
	if l := FromContext(context.Background()); l == nil {
		t.Fatal("expected base logger for empty context")
	}

	var buf bytes.Buffer
	custom := zerolog.New(&buf).With().Str("request_id", "r1").Logger()
	ctx := custom.WithContext(context.Background())

	FromContext(ctx).Info().Msg("x")
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"r1"`)) {
		t.Fatalf("expected context logger to be used, got %s", buf.String())
	}
}
