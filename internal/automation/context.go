package automation

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/nerrad567/cuebox/internal/template"
)

// EnvSource supplies the plugin namespaces of a template environment.
type EnvSource interface {
	// PluginEnv returns one map per plugin holding its helpers and a
	// fresh copy of its state.
	PluginEnv() map[string]map[string]any
}

// Context is the complete context an automation runs with.
//
// Values are fixed when the context is built. Plugin helpers and state
// are read through the EnvSource each time Env is called, so templates
// rendered while an action runs see the freshest state.
type Context struct {
	values map[string]any
	source EnvSource
}

// NewContext builds a Context from caller values. values is copied.
// source may be nil, in which case Env holds only the values.
func NewContext(values map[string]any, source EnvSource) *Context {
	cpy := make(map[string]any, len(values))
	for k, v := range values {
		cpy[k] = v
	}
	return &Context{values: cpy, source: source}
}

// Value returns one caller value.
func (c *Context) Value(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

// Values returns a copy of the caller values.
func (c *Context) Values() map[string]any {
	out := make(map[string]any)
	if c == nil {
		return out
	}
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Env returns the template environment: caller values first, then one
// namespace per plugin. A plugin namespace replaces a caller value of the
// same name.
func (c *Context) Env() template.Env {
	env := c.Values()
	if c == nil || c.source == nil {
		return env
	}
	for plugin, ns := range c.source.PluginEnv() {
		env[plugin] = ns
	}
	return env
}

// String renders a templated string.
func (c *Context) String(s string) (string, error) {
	return template.String(s, c.Env())
}

// Number renders a number or numeric template.
func (c *Context) Number(v any) (float64, error) {
	return template.Number(v, c.Env())
}

// Render renders every string inside a payload.
func (c *Context) Render(data any) (any, error) {
	return template.Data(data, c.Env())
}

// Decode renders data and decodes it into target, a pointer to a struct
// with json tags. Numeric strings are accepted for numeric fields.
func (c *Context) Decode(data any, target any) error {
	rendered, err := c.Render(data)
	if err != nil {
		return fmt.Errorf("rendering action data: %w", err)
	}
	return DecodeData(rendered, target)
}

// DecodeData decodes an opaque payload into target without templating.
func DecodeData(data any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}
	if err := decoder.Decode(data); err != nil {
		return fmt.Errorf("decoding action data: %w", err)
	}
	return nil
}
