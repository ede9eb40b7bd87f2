package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/trace/noop"

	"funchatgo/internal/function"
	"funchatgo/internal/memory"
	"funchatgo/internal/models"
)

type step struct {
	deltas []models.Delta
	// openErr fails the Stream call, recvErr fails after all deltas.
	openErr error
	recvErr error
}

type scriptedModel struct {
	steps     []step
	calls     int
	histories [][]models.Message
	functions [][]*schema.ToolInfo
	closed    int
	pos       int
}

func (m *scriptedModel) Stream(_ context.Context, history []models.Message, functions []*schema.ToolInfo) (DeltaStream, error) {
	m.calls++
	m.histories = append(m.histories, history)
	m.functions = append(m.functions, functions)
	if m.calls > len(m.steps) {
		return nil, errors.New("unexpected model call")
	}
	s := m.steps[m.calls-1]
	if s.openErr != nil {
		return nil, s.openErr
	}
	m.pos = 0
	return &sliceStream{model: m, deltas: s.deltas, err: s.recvErr}, nil
}

type sliceStream struct {
	model  *scriptedModel
	deltas []models.Delta
	err    error
}

func (s *sliceStream) Recv() (models.Delta, error) {
	if len(s.deltas) == 0 {
		if s.err != nil {
			return models.Delta{}, s.err
		}
		return models.Delta{}, io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	s.model.pos++
	return d, nil
}

func (s *sliceStream) Close() {
	s.model.closed++
}

type weatherArgs struct {
	Location string `json:"location"`
	Format   string `json:"format,omitempty" jsonschema:"enum=celsius,enum=fahrenheit"`
}

type weatherReport struct {
	Location    string `json:"location"`
	Forecast    string `json:"forecast"`
	Temperature string `json:"temperature"`
}

func weatherRegistry(t *testing.T, onCall func()) *function.Registry {
	t.Helper()
	fn := function.MustNew("get_current_weather", "Get the current weather in a given location",
		func(_ context.Context, in weatherArgs) (weatherReport, error) {
			if onCall != nil {
				onCall()
			}
			temp := "25 C"
			if in.Format == "fahrenheit" {
				temp = "77 F"
			}
			return weatherReport{Location: in.Location, Forecast: "sunny", Temperature: temp}, nil
		})
	reg, err := function.NewRegistry(fn)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func assistant(content string) models.Delta {
	return models.Delta{Role: models.RoleAssistant, Content: content}
}

func cont(content string) models.Delta {
	return models.Delta{Content: content}
}

func call(id, args string) models.Delta {
	return models.Delta{Role: models.RoleFunction, Name: "get_current_weather", CallID: id, Content: args}
}

func assertRoles(t *testing.T, msgs []models.Message, roles ...models.Role) {
	t.Helper()
	if len(msgs) != len(roles) {
		t.Fatalf("expected %d messages, got %d: %+v", len(roles), len(msgs), msgs)
	}
	for i, r := range roles {
		if msgs[i].Role != r {
			t.Fatalf("message %d: expected role %q, got %q", i, r, msgs[i].Role)
		}
	}
}

func TestRunTurnPlainReply(t *testing.T) {
	model := &scriptedModel{steps: []step{{deltas: []models.Delta{assistant("Hel"), cont("lo!")}}}}
	o := New(model, weatherRegistry(t, nil))
	store := memory.NewStore()

	out, err := JoinContent(o.RunTurn(context.Background(), store, "hi there"))
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if out != "Hello!" {
		t.Fatalf("unexpected output %q", out)
	}
	msgs := store.Messages()
	assertRoles(t, msgs, models.RoleUser, models.RoleAssistant)
	if msgs[0].Content != "hi there" || msgs[1].Content != "Hello!" {
		t.Fatalf("unexpected history %+v", msgs)
	}
	if model.calls != 1 {
		t.Fatalf("expected one model call, got %d", model.calls)
	}
	if len(model.functions[0]) != 1 || model.functions[0][0].Name != "get_current_weather" {
		t.Fatalf("functions not advertised: %+v", model.functions[0])
	}
}

func TestRunTurnWithTracer(t *testing.T) {
	model := &scriptedModel{steps: []step{{deltas: []models.Delta{assistant("ok")}}}}
	o := New(model, weatherRegistry(t, nil), WithTracer(noop.NewTracerProvider().Tracer("test")), WithTracer(nil))

	out, err := JoinContent(o.RunTurn(context.Background(), memory.NewStore(), "hi"))
	if err != nil || out != "ok" {
		t.Fatalf("unexpected result %q %v", out, err)
	}
}

func TestRunTurnFunctionCallFollowUp(t *testing.T) {
	model := &scriptedModel{steps: []step{
		{deltas: []models.Delta{call("c1", `{"location":`), cont(`"Amsterdam"}`)}},
		{deltas: []models.Delta{assistant("It is sunny and 25 C "), cont("in Amsterdam.")}},
	}}
	o := New(model, weatherRegistry(t, nil))
	store := memory.NewStore()

	deltas, err := Collect(o.RunTurn(context.Background(), store, "weather in Amsterdam?"))
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	for _, d := range deltas {
		if d.Role == models.RoleFunction {
			t.Fatalf("function delta leaked into output: %+v", d)
		}
	}
	var out strings.Builder
	for _, d := range deltas {
		out.WriteString(d.Content)
	}
	if out.String() != "It is sunny and 25 C in Amsterdam." {
		t.Fatalf("unexpected output %q", out.String())
	}

	msgs := store.Messages()
	assertRoles(t, msgs, models.RoleUser, models.RoleFunction, models.RoleFunction, models.RoleAssistant)
	if msgs[1].Content != `{"location":"Amsterdam"}` || msgs[1].FunctionResult {
		t.Fatalf("unexpected call message %+v", msgs[1])
	}
	want := `{"location":"Amsterdam","forecast":"sunny","temperature":"25 C"}`
	if msgs[2].Content != want || !msgs[2].FunctionResult || msgs[2].CallID != "c1" {
		t.Fatalf("unexpected result message %+v", msgs[2])
	}
	if model.calls != 2 {
		t.Fatalf("expected follow-up call, got %d calls", model.calls)
	}
	followUpHistory := model.histories[1]
	if len(followUpHistory) != 3 || followUpHistory[2].Content != want {
		t.Fatalf("follow-up history missing result: %+v", followUpHistory)
	}
}

func TestRunTurnCallThenTextNeedsNoFollowUp(t *testing.T) {
	model := &scriptedModel{steps: []step{
		{deltas: []models.Delta{call("c1", `{"location":"Oslo"}`), assistant("Checking the weather for you.")}},
		{deltas: []models.Delta{assistant("never reached")}},
	}}
	o := New(model, weatherRegistry(t, nil))
	store := memory.NewStore()

	out, err := JoinContent(o.RunTurn(context.Background(), store, "weather in Oslo?"))
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if model.calls != 1 {
		t.Fatalf("expected no follow-up call, got %d calls", model.calls)
	}
	if out != "Checking the weather for you." {
		t.Fatalf("unexpected output %q", out)
	}
	msgs := store.Messages()
	assertRoles(t, msgs, models.RoleUser, models.RoleFunction, models.RoleFunction, models.RoleAssistant)
	if msgs[1].FunctionResult || !msgs[2].FunctionResult || msgs[2].CallID != "c1" {
		t.Fatalf("result not placed after its call: %+v", msgs)
	}
	if msgs[3].Content != "Checking the weather for you." {
		t.Fatalf("unexpected reply %+v", msgs[3])
	}
}

func TestRunTurnCallThenTextStoresFailure(t *testing.T) {
	model := &scriptedModel{steps: []step{
		{deltas: []models.Delta{call("c1", `{}`), assistant("Let me look that up.")}},
	}}
	o := New(model, weatherRegistry(t, nil))
	store := memory.NewStore()

	out, err := JoinContent(o.RunTurn(context.Background(), store, "weather?"))
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if model.calls != 1 || out != "Let me look that up." {
		t.Fatalf("unexpected calls=%d output=%q", model.calls, out)
	}
	msgs := store.Messages()
	assertRoles(t, msgs, models.RoleUser, models.RoleFunction, models.RoleFunction, models.RoleAssistant)
	if !msgs[2].FunctionResult || !strings.Contains(msgs[2].Content, `missing required field "location"`) {
		t.Fatalf("failure not stored as result: %+v", msgs[2])
	}
}

func TestRunTurnTextThenCallFollowsUp(t *testing.T) {
	model := &scriptedModel{steps: []step{
		{deltas: []models.Delta{assistant("Let me check. "), call("c1", `{"location":"Oslo"}`)}},
		{deltas: []models.Delta{assistant("Sunny in Oslo.")}},
	}}
	o := New(model, weatherRegistry(t, nil))
	store := memory.NewStore()

	out, err := JoinContent(o.RunTurn(context.Background(), store, "weather in Oslo?"))
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if model.calls != 2 {
		t.Fatalf("expected one follow-up call, got %d calls", model.calls)
	}
	if out != "Let me check. Sunny in Oslo." {
		t.Fatalf("unexpected output %q", out)
	}
	msgs := store.Messages()
	assertRoles(t, msgs, models.RoleUser, models.RoleAssistant, models.RoleFunction, models.RoleFunction, models.RoleAssistant)
	if msgs[2].FunctionResult || !msgs[3].FunctionResult {
		t.Fatalf("unexpected call and result %+v %+v", msgs[2], msgs[3])
	}
}

func TestRunTurnBindingErrorRecovery(t *testing.T) {
	model := &scriptedModel{steps: []step{
		{deltas: []models.Delta{call("c1", `{}`)}},
		{deltas: []models.Delta{assistant("Which city do you mean?")}},
	}}
	o := New(model, weatherRegistry(t, nil))
	store := memory.NewStore()

	out, err := JoinContent(o.RunTurn(context.Background(), store, "what is the weather?"))
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if out != "Which city do you mean?" {
		t.Fatalf("unexpected output %q", out)
	}
	msgs := store.Messages()
	assertRoles(t, msgs, models.RoleUser, models.RoleFunction, models.RoleUser, models.RoleAssistant)
	if !strings.Contains(msgs[2].Content, `missing required field "location"`) {
		t.Fatalf("recovery message lacks error text: %q", msgs[2].Content)
	}
	if model.calls != 2 {
		t.Fatalf("expected exactly one follow-up call, got %d calls", model.calls)
	}
}

func TestRunTurnRecoveryBoundedToOneHop(t *testing.T) {
	model := &scriptedModel{steps: []step{
		{deltas: []models.Delta{call("c1", `{}`)}},
		{deltas: []models.Delta{call("c2", `{"city":"Paris"}`)}},
		{deltas: []models.Delta{assistant("never reached")}},
	}}
	o := New(model, weatherRegistry(t, nil))
	store := memory.NewStore()

	_, err := Collect(o.RunTurn(context.Background(), store, "weather?"))
	if !errors.Is(err, ErrRecoveryExhausted) {
		t.Fatalf("expected ErrRecoveryExhausted, got %v", err)
	}
	var invErr *function.InvocationError
	if !errors.As(err, &invErr) || invErr.Kind != function.KindBinding {
		t.Fatalf("expected wrapped binding error, got %v", err)
	}
	if model.calls != 2 {
		t.Fatalf("expected 2 model calls, got %d", model.calls)
	}
	synthetic := 0
	for _, m := range store.Messages()[1:] {
		if m.Role == models.RoleUser {
			synthetic++
		}
	}
	if synthetic != 1 {
		t.Fatalf("expected one synthetic user message, got %d", synthetic)
	}
}

func TestRunTurnFollowUpBudgetExhausted(t *testing.T) {
	model := &scriptedModel{steps: []step{
		{deltas: []models.Delta{call("c1", `{"location":"Oslo"}`)}},
		{deltas: []models.Delta{call("c2", `{"location":"Rome","format":"fahrenheit"}`)}},
		{deltas: []models.Delta{assistant("never reached")}},
	}}
	o := New(model, weatherRegistry(t, nil))
	store := memory.NewStore()

	deltas, err := Collect(o.RunTurn(context.Background(), store, "weather in Oslo then Rome"))
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if model.calls != 2 {
		t.Fatalf("expected 2 model calls, got %d", model.calls)
	}
	if len(deltas) != 1 || deltas[0].Role != models.RoleFunction {
		t.Fatalf("expected the function result as output, got %+v", deltas)
	}
	if deltas[0].Content != `{"location":"Rome","forecast":"sunny","temperature":"77 F"}` {
		t.Fatalf("unexpected result %s", deltas[0].Content)
	}
	last, _ := store.Last()
	if !last.FunctionResult {
		t.Fatalf("expected result to close the history, got %+v", last)
	}
}

func TestRunTurnZeroFollowUps(t *testing.T) {
	model := &scriptedModel{steps: []step{{deltas: []models.Delta{call("c1", `{"location":"Oslo"}`)}}}}
	o := New(model, weatherRegistry(t, nil), WithMaxFollowUps(0))
	out, err := JoinContent(o.RunTurn(context.Background(), memory.NewStore(), "weather in Oslo"))
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if model.calls != 1 || !strings.Contains(out, `"forecast":"sunny"`) {
		t.Fatalf("unexpected calls=%d output=%q", model.calls, out)
	}
}

func TestRunTurnParallelCalls(t *testing.T) {
	model := &scriptedModel{steps: []step{
		{deltas: []models.Delta{
			call("a", `{"location":`), cont(`"Paris"}`),
			call("b", `{"location":"Rome"}`),
		}},
		{deltas: []models.Delta{assistant("Both sunny.")}},
	}}
	o := New(model, weatherRegistry(t, nil))
	store := memory.NewStore()
	if _, err := JoinContent(o.RunTurn(context.Background(), store, "Paris and Rome?")); err != nil {
		t.Fatalf("run turn: %v", err)
	}
	msgs := store.Messages()
	assertRoles(t, msgs, models.RoleUser, models.RoleFunction, models.RoleFunction, models.RoleFunction, models.RoleFunction, models.RoleAssistant)
	if msgs[3].CallID != "a" || msgs[4].CallID != "b" || !msgs[3].FunctionResult || !msgs[4].FunctionResult {
		t.Fatalf("unexpected results %+v %+v", msgs[3], msgs[4])
	}
	if model.calls != 2 {
		t.Fatalf("expected one follow-up for the batch, got %d calls", model.calls)
	}
}

func TestRunTurnFatalErrors(t *testing.T) {
	errTransport := errors.New("connection reset")

	t.Run("open", func(t *testing.T) {
		model := &scriptedModel{steps: []step{{openErr: errTransport}}}
		o := New(model, weatherRegistry(t, nil))
		deltas, err := Collect(o.RunTurn(context.Background(), memory.NewStore(), "hi"))
		if !errors.Is(err, errTransport) || len(deltas) != 0 {
			t.Fatalf("unexpected deltas=%v err=%v", deltas, err)
		}
	})

	t.Run("mid stream", func(t *testing.T) {
		model := &scriptedModel{steps: []step{{deltas: []models.Delta{assistant("partial")}, recvErr: errTransport}}}
		o := New(model, weatherRegistry(t, nil))
		var got []models.Delta
		var errs []error
		for d, err := range o.RunTurn(context.Background(), memory.NewStore(), "hi") {
			if err != nil {
				errs = append(errs, err)
				continue
			}
			got = append(got, d)
		}
		if len(got) != 1 || got[0].Content != "partial" {
			t.Fatalf("unexpected deltas %+v", got)
		}
		if len(errs) != 1 || !errors.Is(errs[0], errTransport) {
			t.Fatalf("expected one trailing transport error, got %v", errs)
		}
		if model.closed != 1 {
			t.Fatalf("stream not closed")
		}
	})

	t.Run("recovery refuses", func(t *testing.T) {
		errRefused := errors.New("refused")
		model := &scriptedModel{steps: []step{{deltas: []models.Delta{call("c1", `{}`)}}}}
		o := New(model, weatherRegistry(t, nil), WithRecovery(RecoveryFunc(func(*memory.Store, error) error {
			return errRefused
		})))
		_, err := Collect(o.RunTurn(context.Background(), memory.NewStore(), "weather?"))
		if !errors.Is(err, errRefused) {
			t.Fatalf("expected recovery error, got %v", err)
		}
	})
}

func TestInjectErrorPassesUnrelatedErrors(t *testing.T) {
	store := memory.NewStore()
	errOther := errors.New("disk full")
	if err := (InjectError{}).Recover(store, errOther); !errors.Is(err, errOther) {
		t.Fatalf("expected error unchanged, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("store must not change for unrelated errors")
	}
	invErr := &function.InvocationError{Function: "f", Kind: function.KindBinding, Err: errors.New("bad")}
	if err := (InjectError{}).Recover(store, invErr); err != nil {
		t.Fatalf("recover: %v", err)
	}
	last, _ := store.Last()
	if last.Role != models.RoleUser || last.Content != invErr.Error() {
		t.Fatalf("unexpected injected message %+v", last)
	}
}

func TestRunTurnEagerDispatch(t *testing.T) {
	build := func(strategy Strategy) (int, int) {
		model := &scriptedModel{steps: []step{
			{deltas: []models.Delta{call("c1", `{"location":`), cont(`"Oslo"}`), assistant("checking"), cont("...")}},
			{deltas: []models.Delta{assistant("Sunny.")}},
		}}
		calls, calledAt := 0, -1
		reg := weatherRegistry(t, func() {
			calls++
			if calledAt < 0 {
				calledAt = model.pos
			}
		})
		o := New(model, reg, WithStrategy(strategy))
		if _, err := JoinContent(o.RunTurn(context.Background(), memory.NewStore(), "Oslo?")); err != nil {
			t.Fatalf("run turn: %v", err)
		}
		return calls, calledAt
	}

	calls, at := build(DispatchEager)
	if calls != 1 || at != 2 {
		t.Fatalf("eager: expected one call after the second delta, got calls=%d at=%d", calls, at)
	}
	calls, at = build(DispatchOnComplete)
	if calls != 1 || at != 4 {
		t.Fatalf("on complete: expected one call after drain, got calls=%d at=%d", calls, at)
	}
}

func TestRunTurnEarlyBreak(t *testing.T) {
	model := &scriptedModel{steps: []step{{deltas: []models.Delta{assistant("one "), cont("two "), cont("three")}}}}
	o := New(model, weatherRegistry(t, nil))
	store := memory.NewStore()
	n := 0
	for _, err := range o.RunTurn(context.Background(), store, "count") {
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		n++
		break
	}
	if n != 1 || model.pos != 1 || model.closed != 1 {
		t.Fatalf("turn did not stop: n=%d pos=%d closed=%d", n, model.pos, model.closed)
	}
	last, _ := store.Last()
	if last.Content != "one " {
		t.Fatalf("unexpected partial reply %q", last.Content)
	}
}

func TestRunTurnSingleUse(t *testing.T) {
	model := &scriptedModel{steps: []step{{deltas: []models.Delta{assistant("ok")}}}}
	o := New(model, weatherRegistry(t, nil))
	seq := o.RunTurn(context.Background(), memory.NewStore(), "hi")
	if _, err := JoinContent(seq); err != nil {
		t.Fatalf("first range: %v", err)
	}
	if _, err := JoinContent(seq); !errors.Is(err, ErrTurnConsumed) {
		t.Fatalf("expected ErrTurnConsumed, got %v", err)
	}
	if model.calls != 1 {
		t.Fatalf("second range must not call the model")
	}
}

func TestRunTurnSystemPromptAndRoleDefault(t *testing.T) {
	model := &scriptedModel{steps: []step{
		{deltas: []models.Delta{cont("first")}},
		{deltas: []models.Delta{assistant("second")}},
	}}
	o := New(model, weatherRegistry(t, nil), WithSystemPrompt("You are a weather bot."))
	store := memory.NewStore()
	for _, in := range []string{"a", "b"} {
		if _, err := JoinContent(o.RunTurn(context.Background(), store, in)); err != nil {
			t.Fatalf("run turn: %v", err)
		}
	}
	msgs := store.Messages()
	assertRoles(t, msgs, models.RoleSystem, models.RoleUser, models.RoleAssistant, models.RoleUser, models.RoleAssistant)
	if msgs[2].Content != "first" {
		t.Fatalf("roleless first delta must open an assistant message, got %+v", msgs[2])
	}
}

func TestTurnStateString(t *testing.T) {
	if StateFollowUpModelCall.String() != "FOLLOW_UP_MODEL_CALL" || StateDone.String() != "DONE" {
		t.Fatalf("unexpected state names")
	}
	if ParseStrategy("eager") != DispatchEager || ParseStrategy("") != DispatchOnComplete {
		t.Fatalf("unexpected strategy parsing")
	}
}
