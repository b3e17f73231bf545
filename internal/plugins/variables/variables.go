package variables

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/plugin"
	"github.com/nerrad567/cuebox/internal/state"
)

// Name is the plugin's namespace.
const Name = "variables"

const (
	setSchema = `{
  "type": "object",
  "required": ["name", "value"],
  "properties": {"name": {"type": "string", "minLength": 1}}
}`
	incSchema = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "amount": {"type": ["number", "string"]}
  }
}`
	defineSchema = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "type": {"enum": ["number", "string", "boolean"]},
    "serialized": {"type": "boolean"}
  }
}`
	removeSchema = `{
  "type": "object",
  "required": ["name"],
  "properties": {"name": {"type": "string", "minLength": 1}}
}`
)

// Plugin holds user-defined variables.
type Plugin struct {
	initial []state.Spec

	mu    sync.RWMutex
	host  plugin.Host
	types map[string]state.Type
}

// New creates the plugin with the variables loaded from the variables file.
func New(specs []state.Spec) *Plugin {
	types := make(map[string]state.Type, len(specs))
	for _, s := range specs {
		types[s.Key] = s.Type
	}
	return &Plugin{initial: specs, types: types}
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Description: "User-defined variables",
		State:       p.initial,
		Actions: []plugin.ActionDef{
			{ID: "set", Description: "Set a variable", DataSchema: setSchema, Handler: automation.ActionFunc(p.set)},
			{ID: "inc", Description: "Add to a number variable", DataSchema: incSchema, Handler: automation.ActionFunc(p.inc)},
			{ID: "define", Description: "Create a variable", DataSchema: defineSchema, Handler: automation.ActionFunc(p.define)},
			{ID: "remove", Description: "Delete a variable", DataSchema: removeSchema, Handler: automation.ActionFunc(p.remove)},
		},
	}
}

// Init implements plugin.Initializer.
func (p *Plugin) Init(_ context.Context, host plugin.Host) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.host = host
	return nil
}

func (p *Plugin) getHost() (plugin.Host, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.host == nil {
		return nil, ErrNotInitialised
	}
	return p.host, nil
}

// Names returns the defined variable names.
func (p *Plugin) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.types))
	for name := range p.types {
		out = append(out, name)
	}
	return out
}

func (p *Plugin) typeOf(name string) (state.Type, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.types[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}
	return t, nil
}

// Define creates a variable at runtime and rebuilds profile dependencies.
func (p *Plugin) Define(spec state.Spec) error {
	host, err := p.getHost()
	if err != nil {
		return err
	}
	if err := host.DefineState(spec); err != nil {
		return err
	}

	p.mu.Lock()
	p.types[spec.Key] = spec.Type
	p.mu.Unlock()

	host.Logger().Info("variable defined", "name", spec.Key, "type", spec.Type)
	host.RedoDependencies()
	return nil
}

// Remove deletes a variable at runtime and rebuilds profile dependencies.
func (p *Plugin) Remove(name string) error {
	host, err := p.getHost()
	if err != nil {
		return err
	}
	if _, err := p.typeOf(name); err != nil {
		return err
	}
	if err := host.RemoveState(name); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.types, name)
	p.mu.Unlock()

	host.Logger().Info("variable removed", "name", name)
	host.RedoDependencies()
	return nil
}

// ─── Actions ────────────────────────────────────────────────────────────────

type setData struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func (p *Plugin) set(_ context.Context, data any, ac *automation.Context) error {
	var d setData
	if err := automation.DecodeData(data, &d); err != nil {
		return err
	}
	name, err := ac.String(d.Name)
	if err != nil {
		return err
	}
	t, err := p.typeOf(name)
	if err != nil {
		return err
	}
	value, err := render(ac, t, d.Value)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}

	host, err := p.getHost()
	if err != nil {
		return err
	}
	return host.SetState(name, value)
}

// render resolves a templated value to the representation of type t.
func render(ac *automation.Context, t state.Type, v any) (any, error) {
	switch t {
	case state.TypeNumber:
		return ac.Number(v)
	case state.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		s, err := ac.String(fmt.Sprint(v))
		if err != nil {
			return nil, err
		}
		return strconv.ParseBool(s)
	case state.TypeString:
		if s, ok := v.(string); ok {
			return ac.String(s)
		}
		return fmt.Sprint(v), nil
	default:
		return ac.Render(v)
	}
}

type incData struct {
	Name   string `json:"name"`
	Amount any    `json:"amount"`
}

func (p *Plugin) inc(_ context.Context, data any, ac *automation.Context) error {
	var d incData
	if err := automation.DecodeData(data, &d); err != nil {
		return err
	}
	name, err := ac.String(d.Name)
	if err != nil {
		return err
	}
	t, err := p.typeOf(name)
	if err != nil {
		return err
	}
	if t != state.TypeNumber {
		return fmt.Errorf("%w: %s", ErrNotNumeric, name)
	}

	amount := 1.0
	if d.Amount != nil {
		if amount, err = ac.Number(d.Amount); err != nil {
			return fmt.Errorf("variable %s amount: %w", name, err)
		}
	}

	host, err := p.getHost()
	if err != nil {
		return err
	}
	current, _ := host.GetState(name)
	f, _ := state.ToFloat(current)
	return host.SetState(name, f+amount)
}

type defineData struct {
	Name       string     `json:"name"`
	Type       state.Type `json:"type"`
	Default    any        `json:"default"`
	Serialized bool       `json:"serialized"`
}

func (p *Plugin) define(_ context.Context, data any, ac *automation.Context) error {
	var d defineData
	if err := ac.Decode(data, &d); err != nil {
		return err
	}
	spec, err := Spec(d.Name, Definition{Type: d.Type, Default: d.Default, Serialized: d.Serialized})
	if err != nil {
		return err
	}
	return p.Define(spec)
}

func (p *Plugin) remove(_ context.Context, data any, ac *automation.Context) error {
	var d struct {
		Name string `json:"name"`
	}
	if err := ac.Decode(data, &d); err != nil {
		return err
	}
	return p.Remove(d.Name)
}
