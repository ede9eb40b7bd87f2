package conversation

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Strategy decides when function-call arguments are handed to the dispatcher.
type Strategy int

const (
	// DispatchOnComplete waits for the model stream to drain.
	DispatchOnComplete Strategy = iota
	// DispatchEager invokes a call as soon as its arguments parse. Failures
	// are only reported once the stream has drained.
	DispatchEager
)

func (s Strategy) String() string {
	switch s {
	case DispatchEager:
		return "eager"
	default:
		return "on_complete"
	}
}

// ParseStrategy maps a configuration value to a Strategy.
func ParseStrategy(v string) Strategy {
	if v == "eager" {
		return DispatchEager
	}
	return DispatchOnComplete
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	systemPrompt  string
	maxFollowUps  int
	maxRecoveries int
	strategy      Strategy
	recovery      Recovery
	tracer        trace.Tracer
}

func defaultOptions() options {
	return options{
		maxFollowUps:  1,
		maxRecoveries: 1,
		strategy:      DispatchOnComplete,
		recovery:      InjectError{},
		tracer:        otel.Tracer("funchatgo/conversation"),
	}
}

// WithSystemPrompt seeds an empty history with a system message.
func WithSystemPrompt(prompt string) Option {
	return func(o *options) {
		o.systemPrompt = prompt
	}
}

// WithMaxFollowUps bounds the follow-up model calls issued after successful
// dispatches within one turn.
func WithMaxFollowUps(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxFollowUps = n
		}
	}
}

// WithMaxRecoveries bounds the recovery hops within one turn.
func WithMaxRecoveries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRecoveries = n
		}
	}
}

func WithStrategy(s Strategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

// WithRecovery replaces the default error injection.
func WithRecovery(r Recovery) Option {
	return func(o *options) {
		if r != nil {
			o.recovery = r
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}
