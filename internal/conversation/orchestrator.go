package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync/atomic"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"funchatgo/internal/function"
	"funchatgo/internal/logger"
	"funchatgo/internal/memory"
	"funchatgo/internal/models"
)

var (
	ErrRecoveryExhausted = errors.New("conversation: recovery budget exhausted")
	ErrTurnConsumed      = errors.New("conversation: turn output already consumed")

	errStopped = errors.New("conversation: consumer stopped")
)

// DeltaStream is a single-pass stream of model output. Recv returns io.EOF
// once the stream is drained.
type DeltaStream interface {
	Recv() (models.Delta, error)
	Close()
}

// Model is the chat model collaborator.
type Model interface {
	Stream(ctx context.Context, history []models.Message, functions []*schema.ToolInfo) (DeltaStream, error)
}

// Orchestrator drives user turns against a model and a function registry.
type Orchestrator struct {
	model      Model
	registry   *function.Registry
	dispatcher *function.Dispatcher
	opts       options
}

func New(model Model, registry *function.Registry, opts ...Option) *Orchestrator {
	if registry == nil {
		registry, _ = function.NewRegistry()
	}
	o := &Orchestrator{
		model:      model,
		registry:   registry,
		dispatcher: function.NewDispatcher(registry),
		opts:       defaultOptions(),
	}
	for _, opt := range opts {
		opt(&o.opts)
	}
	return o
}

// RunTurn appends input to store and returns the turn's output. Text is
// yielded while the model streams. A fatal error is yielded last. Stopping
// the range early stops the turn. The sequence can be ranged over once.
func (o *Orchestrator) RunTurn(ctx context.Context, store *memory.Store, input string) iter.Seq2[models.Delta, error] {
	var consumed atomic.Bool
	return func(yield func(models.Delta, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(models.Delta{}, ErrTurnConsumed)
			return
		}
		turnCtx, span := o.opts.tracer.Start(ctx, "conversation.turn",
			trace.WithAttributes(attribute.Int("history.len", store.Len())))
		defer span.End()
		t := &turn{o: o, store: store, yield: yield, span: span}

		err := t.run(turnCtx, input)
		t.setState(StateDone)
		if err == nil || errors.Is(err, errStopped) {
			return
		}
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
		yield(models.Delta{}, err)
	}
}

type eagerResult struct {
	content string
	res     function.Result
}

type turn struct {
	o     *Orchestrator
	store *memory.Store
	yield func(models.Delta, error) bool
	span  trace.Span

	state      TurnState
	modelCalls int
	followUps  int
	recoveries int
}

func (t *turn) run(ctx context.Context, input string) error {
	if t.store.Len() == 0 && t.o.opts.systemPrompt != "" {
		t.store.Append(models.Message{Role: models.RoleSystem, Content: t.o.opts.systemPrompt})
	}
	t.store.Append(models.Message{Role: models.RoleUser, Content: input})

	for {
		if t.modelCalls == 0 {
			t.setState(StateAwaitingModel)
		} else {
			t.setState(StateFollowUpModelCall)
		}
		start := t.store.Len()
		eager, err := t.streamModel(ctx)
		if err != nil {
			return err
		}

		calls := pendingCalls(t.store.Since(start))
		if len(calls) == 0 {
			return nil
		}

		t.setState(StateDispatchingFunction)
		if last, _ := t.store.Last(); !last.IsFunctionCall() {
			// The round ended in text, which is the reply. Calls are still
			// answered so the history stays valid for the provider.
			t.answerCalls(ctx, calls, eager)
			return nil
		}
		results, failure := t.dispatchAll(ctx, calls, eager)
		if failure != nil {
			if t.recoveries >= t.o.opts.maxRecoveries {
				return fmt.Errorf("%w: %w", ErrRecoveryExhausted, failure)
			}
			t.recoveries++
			logger.Debug("recovering from dispatch failure", "error", failure, "recoveries", t.recoveries)
			if err := t.o.opts.recovery.Recover(t.store, failure); err != nil {
				return err
			}
			continue
		}

		if t.followUps >= t.o.opts.maxFollowUps {
			for _, d := range results {
				if !t.yield(d, nil) {
					return errStopped
				}
			}
			return nil
		}
		t.followUps++
	}
}

// streamModel issues one model call and folds its output into the store.
func (t *turn) streamModel(ctx context.Context) (map[int64]eagerResult, error) {
	t.modelCalls++
	ctx, span := t.o.opts.tracer.Start(ctx, "conversation.model_call",
		trace.WithAttributes(attribute.Int("model.call", t.modelCalls)))
	defer span.End()

	stream, err := t.o.model.Stream(ctx, t.store.Messages(), t.o.registry.Infos())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("model stream: %w", err)
	}
	defer stream.Close()
	t.setState(StateStreaming)

	var eager map[int64]eagerResult
	first := true
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return eager, nil
		}
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("model stream: %w", err)
		}
		if first && delta.Role.IsNone() {
			delta.Role = models.RoleAssistant
		}
		first = false

		msg, err := t.store.Fold(delta)
		if err != nil {
			return nil, fmt.Errorf("fold delta: %w", err)
		}
		if msg.Role == models.RoleFunction {
			if t.o.opts.strategy == DispatchEager {
				eager = t.tryEager(ctx, msg, eager)
			}
			continue
		}
		if delta.Content == "" {
			continue
		}
		if !t.yield(models.Delta{Role: msg.Role, Name: msg.Name, Content: delta.Content}, nil) {
			return nil, errStopped
		}
	}
}

func (t *turn) tryEager(ctx context.Context, msg models.Message, cache map[int64]eagerResult) map[int64]eagerResult {
	if !json.Valid([]byte(msg.Content)) {
		return cache
	}
	if prev, ok := cache[msg.ID]; ok && prev.content == msg.Content {
		return cache
	}
	if cache == nil {
		cache = make(map[int64]eagerResult)
	}
	cache[msg.ID] = eagerResult{content: msg.Content, res: t.o.dispatcher.MaybeDispatch(ctx, msg.Delta())}
	return cache
}

// dispatchAll answers every pending call. Each result is stored as a
// distinct message right after the calls of its round.
func (t *turn) dispatchAll(ctx context.Context, calls []models.Message, eager map[int64]eagerResult) ([]models.Delta, error) {
	var results []models.Delta
	var failures []error
	for _, call := range calls {
		res := t.dispatch(ctx, call, eager)
		switch res.Outcome {
		case function.Success:
			t.storeResult(call, res.Delta.Content)
			results = append(results, res.Delta)
		case function.Failure:
			failures = append(failures, res.Failure)
		}
	}
	switch len(failures) {
	case 0:
		return results, nil
	case 1:
		return results, failures[0]
	default:
		return results, errors.Join(failures...)
	}
}

// answerCalls stores a result for every call without asking the model
// again. A failure is stored as the call's result.
func (t *turn) answerCalls(ctx context.Context, calls []models.Message, eager map[int64]eagerResult) {
	for _, call := range calls {
		res := t.dispatch(ctx, call, eager)
		switch res.Outcome {
		case function.Success:
			t.storeResult(call, res.Delta.Content)
		case function.Failure:
			logger.Warn("function call after reply failed", "function", call.Name, "error", res.Failure)
			t.storeResult(call, "error: "+res.Failure.Error())
		}
	}
}

func (t *turn) dispatch(ctx context.Context, call models.Message, eager map[int64]eagerResult) function.Result {
	if cached, ok := eager[call.ID]; ok && cached.content == call.Content {
		return cached.res
	}
	return t.o.dispatcher.MaybeDispatch(ctx, call.Delta())
}

func (t *turn) storeResult(call models.Message, content string) {
	t.store.InsertResult(call.ID, models.Message{
		Role:           models.RoleFunction,
		Name:           call.Name,
		CallID:         call.CallID,
		Content:        content,
		FunctionResult: true,
	})
}

func pendingCalls(msgs []models.Message) []models.Message {
	var calls []models.Message
	for i := range msgs {
		if msgs[i].IsFunctionCall() {
			calls = append(calls, msgs[i])
		}
	}
	return calls
}

func (t *turn) setState(s TurnState) {
	t.state = s
	logger.Debug("turn state", "state", s, "model_calls", t.modelCalls)
	if t.span != nil {
		t.span.AddEvent(s.String())
	}
}
