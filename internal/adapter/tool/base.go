package tool

import (
	"context"
	"fmt"
	"maps"

	"github.com/mitchellh/mapstructure"

	"github.com/chih3b/SanteConnect/internal/domain"
)

// Validator is implemented by parameter structs that check themselves after decoding.
type Validator interface {
	Validate() error
}

// Handler runs a tool with typed parameters.
type Handler[P any] func(ctx context.Context, p P) (any, error)

// Func adapts a typed handler to domain.Tool. Invoke decodes the open argument
// map into P, checks required parameters and P's Validate, then calls the handler.
type Func[P any] struct {
	name        string
	description string
	params      map[string]domain.ParamSpec
	handler     Handler[P]
}

// NewFunc creates a Func tool.
func NewFunc[P any](name, description string, params map[string]domain.ParamSpec, h Handler[P]) *Func[P] {
	return &Func[P]{name: name, description: description, params: params, handler: h}
}

func (f *Func[P]) Name() string        { return f.name }
func (f *Func[P]) Description() string { return f.description }

func (f *Func[P]) Parameters() map[string]domain.ParamSpec {
	return maps.Clone(f.params)
}

func (f *Func[P]) Invoke(ctx context.Context, args domain.Args) (any, error) {
	for name, spec := range f.params {
		if !spec.Required {
			continue
		}
		if v, ok := args[name]; !ok || v == nil {
			return nil, fmt.Errorf("%w: %s: missing required parameter %q", domain.ErrInvalidInput, f.name, name)
		}
	}

	var p P
	if err := DecodeArgs(args, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, f.name, err)
	}
	if v, ok := any(&p).(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, f.name, err)
		}
	}
	return f.handler(ctx, p)
}

// DecodeArgs decodes an open argument map into out. Numeric strings and
// numbers convert freely so arguments that came through JSON or YAML decode
// the same as in-process values.
func DecodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}

var _ domain.Tool = (*Func[struct{}])(nil)
