package function

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v6"
)

// Function is a locally implemented function the model may call.
type Function interface {
	Name() string
	Description() string
	Parameters() *jsonschema.Schema
	Info() *schema.ToolInfo
	// Bind validates raw JSON arguments and decodes them into the typed input.
	Bind(args []byte) (any, error)
	Invoke(ctx context.Context, args any) (any, error)
}

type typedFunction[In, Out any] struct {
	name   string
	desc   string
	params *jsonschema.Schema
	args   *jsv.Schema
	info   *schema.ToolInfo
	fn     func(context.Context, In) (Out, error)
}

// New builds a Function whose parameter schema is reflected from In.
// Fields without omitempty are required.
func New[In, Out any](name, desc string, fn func(context.Context, In) (Out, error)) (Function, error) {
	if name == "" {
		return nil, errors.New("function name required")
	}
	if fn == nil {
		return nil, fmt.Errorf("function %s: implementation required", name)
	}
	params := reflectParameters(new(In))
	if params.Type != "object" {
		return nil, fmt.Errorf("function %s: parameters must be a struct, got %q", name, params.Type)
	}
	args, err := compileArguments(name, params)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", name, err)
	}
	return &typedFunction[In, Out]{
		name:   name,
		desc:   desc,
		params: params,
		args:   args,
		info:   toolInfo(name, desc, params),
		fn:     fn,
	}, nil
}

// MustNew is like New but panics on error.
func MustNew[In, Out any](name, desc string, fn func(context.Context, In) (Out, error)) Function {
	f, err := New(name, desc, fn)
	if err != nil {
		panic(err)
	}
	return f
}

func reflectParameters(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	s := r.Reflect(v)
	s.Version = ""
	s.ID = ""
	return s
}

func (f *typedFunction[In, Out]) Name() string                    { return f.name }
func (f *typedFunction[In, Out]) Description() string             { return f.desc }
func (f *typedFunction[In, Out]) Parameters() *jsonschema.Schema { return f.params }
func (f *typedFunction[In, Out]) Info() *schema.ToolInfo          { return f.info }

func (f *typedFunction[In, Out]) Bind(args []byte) (any, error) {
	if err := validateArguments(f.args, args); err != nil {
		return nil, err
	}
	var in In
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, err
	}
	return in, nil
}

func (f *typedFunction[In, Out]) Invoke(ctx context.Context, args any) (any, error) {
	in, ok := args.(In)
	if !ok {
		return nil, fmt.Errorf("unexpected argument type %T", args)
	}
	return f.fn(ctx, in)
}
