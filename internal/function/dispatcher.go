package function

import (
	"context"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"funchatgo/internal/models"
)

// Outcome is the shape of a dispatch result.
type Outcome int

const (
	Passthrough Outcome = iota
	Success
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Passthrough:
		return "passthrough"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Result is either the untouched delta, a function-result delta, or a failure.
type Result struct {
	Outcome Outcome
	Delta   models.Delta
	Failure *InvocationError
}

// Err returns the failure as an error, or nil.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

type Dispatcher struct {
	registry *Registry
	tracer   trace.Tracer
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		tracer:   otel.Tracer("funchatgo/function"),
	}
}

// MaybeDispatch invokes the function named by a complete function-call delta.
// It never touches conversation history.
func (d *Dispatcher) MaybeDispatch(ctx context.Context, delta models.Delta) Result {
	if delta.Role != models.RoleFunction {
		return Result{Outcome: Passthrough, Delta: delta}
	}

	ctx, span := d.tracer.Start(ctx, "function.dispatch", trace.WithAttributes(
		attribute.String("function.name", delta.Name),
		attribute.String("function.call_id", delta.CallID),
	))
	defer span.End()

	res := d.dispatch(ctx, delta)
	span.SetAttributes(attribute.String("function.outcome", res.Outcome.String()))
	if res.Failure != nil {
		span.SetAttributes(attribute.String("function.error_kind", string(res.Failure.Kind)))
		span.RecordError(res.Failure)
		span.SetStatus(codes.Error, res.Failure.Error())
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, delta models.Delta) Result {
	fail := func(kind Kind, err error) Result {
		return Result{Outcome: Failure, Failure: newInvocationError(delta.Name, kind, err)}
	}

	var fn Function
	var ok bool
	if d.registry != nil {
		fn, ok = d.registry.Lookup(delta.Name)
	}
	if !ok {
		return fail(KindUnknownFunction, ErrUnknownFunction)
	}

	raw := []byte(delta.Content)
	if !json.Valid(raw) {
		return fail(KindSerialization, errors.New("arguments are not valid JSON"))
	}
	args, err := fn.Bind(raw)
	if err != nil {
		return fail(KindBinding, err)
	}
	out, err := fn.Invoke(ctx, args)
	if err != nil {
		return fail(KindExecution, err)
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return fail(KindSerialization, err)
	}
	return Result{
		Outcome: Success,
		Delta: models.Delta{
			Role:    models.RoleFunction,
			Name:    delta.Name,
			CallID:  delta.CallID,
			Content: string(payload),
		},
	}
}
