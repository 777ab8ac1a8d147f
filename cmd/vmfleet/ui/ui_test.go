package ui

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestKeyValuesAligns(t *testing.T) {
	ConfigureColor(true)

	got := KeyValues("  ", KV("name", "web"), KV("checkpoints", "2"))
	want := "  name:        web\n  checkpoints: 2\n"
	if got != want {
		t.Fatalf("KeyValues = %q, want %q", got, want)
	}
}

func TestTelemetryOutputTracerRecords(t *testing.T) {
	out := NewTelemetryOutput()
	defer out.Close()

	_, span := out.Tracer("vmfleet/fleet").Start(context.Background(), "up")
	if !span.IsRecording() {
		t.Fatal("span from owned provider is not recording")
	}
	span.End()
}

func TestTelemetryOutputNilFallsBack(t *testing.T) {
	var out *TelemetryOutput
	_, span := out.Tracer("vmfleet/fleet").Start(context.Background(), "up")
	if span.IsRecording() {
		t.Fatal("global fallback span should not record")
	}
	span.End()
}

func TestFinishedSpansReachTheDebugLog(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	out := NewTelemetryOutput()
	_, span := out.Tracer("vmfleet/fleet").Start(context.Background(), "destroy")
	span.End()
	out.Close()

	if !strings.Contains(buf.String(), "Span finished.") || !strings.Contains(buf.String(), "span=destroy") {
		t.Fatalf("debug log missing span line: %q", buf.String())
	}
}
