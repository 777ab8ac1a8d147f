package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracer() (trace.Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return provider.Tracer("vmfleet/test"), recorder
}

func getAttr(attrs []attribute.KeyValue, key string) string {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value.AsString()
		}
	}
	return ""
}

func findSpanByName(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func TestOperationCarriesPlanAndActionSpans(t *testing.T) {
	t.Parallel()

	tracer, recorder := newTestTracer()
	op, err := StartOperation(context.Background(), tracer, "fleet.up", map[string]int{"create": 2})
	if err != nil {
		t.Fatalf("StartOperation() error = %v", err)
	}

	_, end := op.StartAction("create", "web")
	end(nil)
	op.End(nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended span count = %d, want 2", len(spans))
	}

	root := findSpanByName(spans, "fleet.up")
	if root == nil {
		t.Fatal("missing operation span")
	}
	if len(root.Events()) == 0 || root.Events()[0].Name != PlanEventName {
		t.Fatal("missing plan event on operation span")
	}
	if getAttr(root.Attributes(), PlanJSONKey) != `{"create":2}` {
		t.Fatalf("plan json = %q", getAttr(root.Attributes(), PlanJSONKey))
	}

	action := findSpanByName(spans, "create")
	if action == nil {
		t.Fatal("missing action span")
	}
	if action.Parent().SpanID() != root.SpanContext().SpanID() {
		t.Fatal("action span not parented to operation span")
	}
	if getAttr(action.Attributes(), "vmfleet.action.machine") != "web" {
		t.Fatal("action span missing machine attribute")
	}
}

func TestOperationRecordsFailure(t *testing.T) {
	t.Parallel()

	tracer, recorder := newTestTracer()
	op, err := StartOperation(context.Background(), tracer, "fleet.destroy", nil)
	if err != nil {
		t.Fatal(err)
	}

	_, end := op.StartAction("destroy", "web")
	end(errors.New("blocked"))
	op.End(errors.New("blocked"))

	for _, s := range recorder.Ended() {
		if s.Status().Code != codes.Error {
			t.Fatalf("span %q status = %v, want error", s.Name(), s.Status().Code)
		}
	}
}

func TestNilTracerIsNoop(t *testing.T) {
	t.Parallel()

	op, err := StartOperation(context.Background(), nil, "fleet.up", nil)
	if err != nil {
		t.Fatalf("StartOperation() error = %v", err)
	}
	_, end := op.StartAction("create", "web")
	end(nil)
	op.End(nil)

	if op.Context() == nil {
		t.Fatal("Context() returned nil")
	}
}
