package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/baxromumarov/scoped/v2"
)

const tracerName = "github.com/baxromumarov/scoped/v2/observe"

// Tracing starts one span per task, parented to the span active in the
// scope's context.
type Tracing struct {
	tracer trace.Tracer
}

// NewTracing returns a Tracing using tp, or the global provider if tp is nil.
func NewTracing(tp trace.TracerProvider) *Tracing {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracing{tracer: tp.Tracer(tracerName)}
}

// Intercept implements [scoped.Interceptor].
func (t *Tracing) Intercept(ctx context.Context, info scoped.TaskInfo) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, "scoped.task/"+info.Name,
		trace.WithAttributes(
			attribute.String("scoped.task", info.Name),
			attribute.String("scoped.scope_id", info.ScopeID.String()),
		),
	)
	return ctx, func(err error) {
		defer span.End()
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return
		}
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("scoped.structure_violation",
			errors.Is(err, scoped.ErrStructureViolation)))
		span.SetStatus(codes.Error, err.Error())
	}
}

// Option returns a scope option wrapping every task in a span.
func (t *Tracing) Option() scoped.Option {
	return scoped.WithInterceptor(t.Intercept)
}
