package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/template"
)

// action is a registered action with its compiled data schema.
type action struct {
	def    ActionDef
	schema *jsonschema.Schema
}

// trigger is a registered trigger with its compiled schemas.
type trigger struct {
	def     TriggerDef
	config  *jsonschema.Schema
	context *jsonschema.Schema
}

// entry is one registered plugin.
type entry struct {
	plugin   Plugin
	manifest Manifest
	actions  map[string]*action
	triggers map[string]*trigger
}

// Registry holds every plugin known to the process.
//
// Plugins are registered at startup and never unregistered. Lookups keyed
// by (plugin, id) replace dynamic dispatch by name.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*entry
	order   []string
	logger  Logger
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*entry),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Register validates p's manifest, compiles its schemas and adds it.
//
// Returns:
//   - error: ErrInvalidPlugin, ErrPluginExists, or ErrInvalidSchema
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("%w: nil plugin", ErrInvalidPlugin)
	}
	name := p.Name()
	if name == "" || strings.ContainsAny(name, ". /") {
		return fmt.Errorf("%w: bad plugin name %q", ErrInvalidPlugin, name)
	}

	e, err := compileEntry(p)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("%w: %s", ErrPluginExists, name)
	}
	r.plugins[name] = e
	r.order = append(r.order, name)

	r.logger.Info("plugin registered",
		"plugin", name,
		"state", len(e.manifest.State),
		"actions", len(e.actions),
		"triggers", len(e.triggers),
	)
	return nil
}

func compileEntry(p Plugin) (*entry, error) {
	name := p.Name()
	m := p.Manifest()
	e := &entry{
		plugin:   p,
		manifest: m,
		actions:  make(map[string]*action, len(m.Actions)),
		triggers: make(map[string]*trigger, len(m.Triggers)),
	}

	for _, def := range m.Actions {
		if def.ID == "" {
			return nil, fmt.Errorf("%w: %s has an action without an id", ErrInvalidPlugin, name)
		}
		if _, dup := e.actions[def.ID]; dup {
			return nil, fmt.Errorf("%w: %s.%s defined twice", ErrInvalidPlugin, name, def.ID)
		}
		schema, err := compileSchema(name+"."+def.ID+".data.json", def.DataSchema)
		if err != nil {
			return nil, err
		}
		e.actions[def.ID] = &action{def: def, schema: schema}
	}

	for _, def := range m.Triggers {
		if def.ID == "" {
			return nil, fmt.Errorf("%w: %s has a trigger without an id", ErrInvalidPlugin, name)
		}
		if _, dup := e.triggers[def.ID]; dup {
			return nil, fmt.Errorf("%w: trigger %s.%s defined twice", ErrInvalidPlugin, name, def.ID)
		}
		cfg, err := compileSchema(name+"."+def.ID+".config.json", def.ConfigSchema)
		if err != nil {
			return nil, err
		}
		ctxSchema, err := compileSchema(name+"."+def.ID+".context.json", def.ContextSchema)
		if err != nil {
			return nil, err
		}
		e.triggers[def.ID] = &trigger{def: def, config: cfg, context: ctxSchema}
	}

	seen := make(map[string]bool, len(m.State))
	for _, spec := range m.State {
		if spec.Key == "" || !spec.Type.Valid() {
			return nil, fmt.Errorf("%w: %s state %q has type %q", ErrInvalidPlugin, name, spec.Key, spec.Type)
		}
		if seen[spec.Key] {
			return nil, fmt.Errorf("%w: %s state %q defined twice", ErrInvalidPlugin, name, spec.Key)
		}
		seen[spec.Key] = true
	}
	return e, nil
}

// compileSchema compiles src, or returns nil when src is empty.
func compileSchema(resource, src string) (*jsonschema.Schema, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resource, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("%w: adding %s: %v", ErrInvalidSchema, resource, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling %s: %v", ErrInvalidSchema, resource, err)
	}
	return schema, nil
}

// Get returns a registered plugin.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[name]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// Plugins returns every plugin in registration order.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name].plugin)
	}
	return out
}

// Names returns every plugin name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Manifest returns the manifest a plugin registered with.
func (r *Registry) Manifest(name string) (Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[name]
	if !ok {
		return Manifest{}, false
	}
	return e.manifest, true
}

// Action implements automation.ActionResolver. Actions without a handler
// are reported as missing.
func (r *Registry) Action(plugin, id string) (automation.ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[plugin]
	if !ok {
		return nil, false
	}
	a, ok := e.actions[id]
	if !ok || a.def.Handler == nil {
		return nil, false
	}
	return a.def.Handler, true
}

// Trigger returns a trigger definition.
func (r *Registry) Trigger(plugin, id string) (TriggerDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[plugin]
	if !ok {
		return TriggerDef{}, false
	}
	t, ok := e.triggers[id]
	if !ok {
		return TriggerDef{}, false
	}
	return t.def, true
}

// Helpers returns the template helpers of every plugin, keyed by plugin.
func (r *Registry) Helpers() map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]any, len(r.plugins))
	for name, e := range r.plugins {
		if len(e.manifest.Helpers) == 0 {
			continue
		}
		ns := make(map[string]any, len(e.manifest.Helpers))
		for k, v := range e.manifest.Helpers {
			ns[k] = v
		}
		out[name] = ns
	}
	return out
}

// ─── Payload Validation ─────────────────────────────────────────────────────

// ValidateActionData checks data against the action's schema.
// Payloads containing templates are only checked once rendered, at run time,
// so they pass here.
func (r *Registry) ValidateActionData(plugin, id string, data any) error {
	r.mu.RLock()
	e, ok := r.plugins[plugin]
	var a *action
	if ok {
		a = e.actions[id]
	}
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, plugin)
	}
	if a == nil {
		return fmt.Errorf("%w: %s.%s", ErrUnknownAction, plugin, id)
	}
	if a.schema == nil || containsTemplate(data) {
		return nil
	}
	if err := validate(a.schema, data); err != nil {
		return fmt.Errorf("action %s.%s data: %w", plugin, id, err)
	}
	return nil
}

// ValidateTriggerConfig checks a mapping config against the trigger's schema.
func (r *Registry) ValidateTriggerConfig(plugin, id string, config any) error {
	t, err := r.lookupTrigger(plugin, id)
	if err != nil {
		return err
	}
	if t.config == nil {
		return nil
	}
	if err := validate(t.config, config); err != nil {
		return fmt.Errorf("trigger %s.%s config: %w", plugin, id, err)
	}
	return nil
}

// ValidateTriggerContext checks the values a plugin raises a trigger with.
func (r *Registry) ValidateTriggerContext(plugin, id string, values map[string]any) error {
	t, err := r.lookupTrigger(plugin, id)
	if err != nil {
		return err
	}
	if t.context == nil {
		return nil
	}
	if err := validate(t.context, values); err != nil {
		return fmt.Errorf("trigger %s.%s context: %w", plugin, id, err)
	}
	return nil
}

func (r *Registry) lookupTrigger(plugin, id string) (*trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[plugin]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, plugin)
	}
	t, ok := e.triggers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownTrigger, plugin, id)
	}
	return t, nil
}

// ValidateAutomation checks that every action of a exists and that its
// data satisfies the action's schema. All problems are reported together.
func (r *Registry) ValidateAutomation(a *automation.Automation) error {
	if a == nil {
		return automation.ErrInvalidAutomation
	}
	var errs []error
	for i, act := range a.Actions {
		if err := r.ValidateActionData(act.Plugin, act.Action, act.Data); err != nil {
			errs = append(errs, fmt.Errorf("action[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// validate converts data to plain JSON values and checks it against schema.
func validate(schema *jsonschema.Schema, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshalling for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshalling for validation: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			var messages []string
			collectErrors(verr, &messages)
			if len(messages) == 0 {
				messages = append(messages, verr.Message)
			}
			return fmt.Errorf("%w: %s", ErrSchemaValidation, strings.Join(messages, "; "))
		}
		return fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	return nil
}

// collectErrors flattens a validation error tree.
func collectErrors(err *jsonschema.ValidationError, messages *[]string) {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*messages = append(*messages, fmt.Sprintf("%s: %s", loc, err.Message))
	}
	for _, cause := range err.Causes {
		collectErrors(cause, messages)
	}
}

// containsTemplate reports whether any string inside v holds a template.
func containsTemplate(v any) bool {
	switch x := v.(type) {
	case string:
		return template.HasTemplate(x)
	case map[string]any:
		for _, item := range x {
			if containsTemplate(item) {
				return true
			}
		}
	case []any:
		for _, item := range x {
			if containsTemplate(item) {
				return true
			}
		}
	}
	return false
}

// SortedActionIDs returns a plugin's action ids, sorted.
func (r *Registry) SortedActionIDs(plugin string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[plugin]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(e.actions))
	for id := range e.actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
