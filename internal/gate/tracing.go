package gate

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type tracedGate struct {
	next   Gate
	tracer trace.Tracer
}

// WithTracing wraps every call to g in an OpenTelemetry span
func WithTracing(g Gate, tracer trace.Tracer) Gate {
	if tracer == nil {
		return g
	}
	return &tracedGate{next: g, tracer: tracer}
}

func (t *tracedGate) FireTransition(ctx context.Context, name string, callback bool) error {
	ctx, span := t.tracer.Start(ctx, "gate.fire",
		trace.WithAttributes(
			attribute.String("gate.transition", name),
			attribute.Bool("gate.callback", callback),
		),
	)
	defer span.End()

	err := t.next.FireTransition(ctx, name, callback)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *tracedGate) SetGuard(ctx context.Context, name string, value bool) error {
	ctx, span := t.tracer.Start(ctx, "gate.guard",
		trace.WithAttributes(
			attribute.String("gate.guard", name),
			attribute.Bool("gate.guard_value", value),
		),
	)
	defer span.End()

	err := t.next.SetGuard(ctx, name, value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
