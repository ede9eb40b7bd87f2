package function

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

func toolInfo(name, desc string, params *jsonschema.Schema) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        name,
		Desc:        desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(subParams(params)),
	}
}

func subParams(s *jsonschema.Schema) map[string]*schema.ParameterInfo {
	out := make(map[string]*schema.ParameterInfo)
	if s == nil || s.Properties == nil {
		return out
	}
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = paramInfo(pair.Value, slices.Contains(s.Required, pair.Key))
	}
	return out
}

func paramInfo(s *jsonschema.Schema, required bool) *schema.ParameterInfo {
	p := &schema.ParameterInfo{
		Type:     schema.DataType(s.Type),
		Desc:     s.Description,
		Required: required,
	}
	for _, e := range s.Enum {
		p.Enum = append(p.Enum, fmt.Sprint(e))
	}
	switch s.Type {
	case "array":
		if s.Items != nil {
			p.ElemInfo = paramInfo(s.Items, false)
		}
	case "object":
		p.SubParams = subParams(s)
	}
	return p
}

// compileArguments turns the reflected parameter schema into a validator.
func compileArguments(name string, s *jsonschema.Schema) (*jsv.Schema, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	doc, err := jsv.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	url := "https://funchatgo.local/functions/" + name + ".json"
	c := jsv.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return c.Compile(url)
}

// validateArguments checks raw arguments against the compiled schema and
// reports the first violation.
func validateArguments(sch *jsv.Schema, args []byte) error {
	v, err := jsv.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return err
	}
	err = sch.Validate(v)
	if err == nil {
		return nil
	}
	var verr *jsv.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	return violation(verr)
}

func violation(e *jsv.ValidationError) error {
	for len(e.Causes) > 0 {
		e = e.Causes[0]
	}
	path := strings.Join(e.InstanceLocation, ".")
	switch k := e.ErrorKind.(type) {
	case *kind.Required:
		if len(k.Missing) > 0 {
			return fmt.Errorf("missing required field %q", joinPath(path, k.Missing[0]))
		}
	case *kind.AdditionalProperties:
		if len(k.Properties) > 0 {
			return fmt.Errorf("unknown field %q", joinPath(path, k.Properties[0]))
		}
	case *kind.Type:
		return fmt.Errorf("%sexpected %s, got %s", fieldPrefix(path), strings.Join(k.Want, " or "), k.Got)
	case *kind.Enum:
		return fmt.Errorf("%sexpected one of %v, got %v", fieldPrefix(path), k.Want, k.Got)
	}
	return fmt.Errorf("%s%s", fieldPrefix(path), e.ErrorKind.LocalizedString(printer))
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func fieldPrefix(path string) string {
	if path == "" {
		return ""
	}
	return fmt.Sprintf("field %q: ", path)
}
