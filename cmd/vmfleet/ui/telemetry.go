package ui

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TelemetryOutput owns the tracer provider behind fleet operation spans.
// Finished spans are mirrored to the debug log, so --debug shows the full
// operation timeline without an external collector.
type TelemetryOutput struct {
	provider *sdktrace.TracerProvider
}

func NewTelemetryOutput() *TelemetryOutput {
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(logSpanProcessor{}))
	return &TelemetryOutput{provider: provider}
}

// Tracer hands out a tracer from the owned provider. A nil receiver falls
// back to the global provider, which is a no-op unless one was installed.
func (o *TelemetryOutput) Tracer(name string) trace.Tracer {
	if o == nil || o.provider == nil {
		return otel.Tracer(name)
	}
	return o.provider.Tracer(name)
}

func (o *TelemetryOutput) Close() {
	if o == nil || o.provider == nil {
		return
	}
	_ = o.provider.Shutdown(context.Background())
}

// logSpanProcessor turns span completions into debug log lines.
type logSpanProcessor struct{}

func (logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (logSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	attrs := []any{
		"span", s.Name(),
		"duration", s.EndTime().Sub(s.StartTime()).Round(time.Millisecond).String(),
	}
	if st := s.Status(); st.Code == codes.Error {
		attrs = append(attrs, "err", st.Description)
	}
	slog.Debug("Span finished.", attrs...)
}

func (logSpanProcessor) Shutdown(context.Context) error   { return nil }
func (logSpanProcessor) ForceFlush(context.Context) error { return nil }
