package function

import (
	"strings"
	"testing"

	"github.com/invopop/jsonschema"
)

func TestValidateArgumentsEnumIsTypeStrict(t *testing.T) {
	props := jsonschema.NewProperties()
	props.Set("level", &jsonschema.Schema{Enum: []any{"1"}})
	sch, err := compileArguments("levels", &jsonschema.Schema{Type: "object", Properties: props})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := validateArguments(sch, []byte(`{"level":"1"}`)); err != nil {
		t.Fatalf("string enum rejected: %v", err)
	}
	if err := validateArguments(sch, []byte(`{"level":1}`)); err == nil {
		t.Fatalf("number 1 must not match string enum \"1\"")
	}
}

func TestValidateArgumentsMessages(t *testing.T) {
	reg, _ := newTestRegistry(t)
	fn, _ := reg.Lookup("get_current_weather")
	cases := map[string]string{
		`{}`:                                    `missing required field "location"`,
		`{"location":"Oslo","units":"si"}`:      `unknown field "units"`,
		`{"location":42}`:                       `field "location": expected string, got `,
		`{"location":"Oslo","format":"kelvin"}`: `field "format": expected one of [celsius fahrenheit], got kelvin`,
	}
	for args, want := range cases {
		_, err := fn.Bind([]byte(args))
		if err == nil || !strings.HasPrefix(err.Error(), want) {
			t.Fatalf("Bind(%s): want %q, got %v", args, want, err)
		}
	}
}
