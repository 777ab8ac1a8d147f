// Package telemetry wraps fleet operations in OpenTelemetry spans. The
// top-level span carries the JSON-encoded plan; each executed action becomes
// a child span. A nil tracer disables everything, so callers never branch.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	PlanEventName  = "vmfleet.plan"
	PlanVersion    = "1"
	PlanVersionKey = "vmfleet.plan.version"
	PlanJSONKey    = "vmfleet.plan.json"
)

// Operation is one traced fleet operation (up, halt, destroy, ...).
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
}

// StartOperation opens the operation span and attaches the plan as a JSON
// attribute and event. A nil tracer yields a no-op Operation.
func StartOperation(ctx context.Context, tracer trace.Tracer, operation string, plan any) (*Operation, error) {
	if tracer == nil {
		return &Operation{ctx: ctx}, nil
	}

	operation = strings.TrimSpace(operation)
	if operation == "" {
		return nil, fmt.Errorf("start operation: name is required")
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("start operation: marshal plan: %w", err)
	}

	attrs := []attribute.KeyValue{
		attribute.String(PlanVersionKey, PlanVersion),
		attribute.String(PlanJSONKey, string(planJSON)),
	}
	spanCtx, span := tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	span.AddEvent(PlanEventName, trace.WithAttributes(attrs...))

	return &Operation{ctx: spanCtx, tracer: tracer, span: span}, nil
}

// Context returns the span-carrying context for downstream calls.
func (o *Operation) Context() context.Context {
	if o == nil || o.ctx == nil {
		return context.Background()
	}
	return o.ctx
}

// StartAction opens a child span for one action and returns its context and
// an end function to call with the action's outcome.
func (o *Operation) StartAction(kind, machine string) (context.Context, func(error)) {
	if o == nil || o.tracer == nil {
		return o.Context(), func(error) {}
	}

	ctx, span := o.tracer.Start(o.ctx, kind, trace.WithAttributes(
		attribute.String("vmfleet.action.kind", kind),
		attribute.String("vmfleet.action.machine", machine),
	))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// End closes the operation span with the overall outcome.
func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	} else {
		o.span.SetStatus(codes.Ok, "")
	}
	o.span.End()
}
