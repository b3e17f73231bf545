package automation

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// CorePlugin is the plugin id of the built-in actions.
const CorePlugin = "core"

// Built-in action ids. These run inline in the queue and define the
// automation's control flow.
const (
	ActionRunAutomation = "automation"
	ActionDelay         = "delay"
)

// Automation is an ordered list of actions.
//
// Sync automations run one at a time, in arrival order, through the
// queue's FIFO. Async automations run independently of everything else.
// Actions within one automation always run sequentially.
type Automation struct {
	Name        string   `yaml:"name,omitempty" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Sync        bool     `yaml:"sync" json:"sync"`
	Actions     []Action `yaml:"actions" json:"actions"`

	// Source is the file the automation was loaded from, if any.
	Source string `yaml:"-" json:"source,omitempty"`
}

// Action is one unit of work dispatched to a plugin.
type Action struct {
	// ID identifies the action within its automation (optional).
	ID string `yaml:"id,omitempty" json:"id,omitempty"`

	Plugin string `yaml:"plugin" json:"plugin"`
	Action string `yaml:"action" json:"action"`

	// Data is the action's payload, opaque to the queue.
	Data any `yaml:"data,omitempty" json:"data,omitempty"`

	// Timestamp is the offset from automation start, in seconds.
	Timestamp *float64 `yaml:"timestamp,omitempty" json:"timestamp,omitempty"`

	// BeforeDelay is the wait before this action, derived from Timestamp by Prep.
	BeforeDelay time.Duration `yaml:"-" json:"-"`
}

// IsBuiltin reports whether the action is handled by the queue itself.
func (a Action) IsBuiltin() bool {
	return a.Plugin == CorePlugin && (a.Action == ActionRunAutomation || a.Action == ActionDelay)
}

// String returns "plugin.action".
func (a Action) String() string {
	return a.Plugin + "." + a.Action
}

// DeepCopy creates an independent copy of the Automation.
// Action data is cloned so modifications to the copy do not affect the original.
func (a *Automation) DeepCopy() *Automation {
	if a == nil {
		return nil
	}

	cpy := *a
	if a.Actions != nil {
		cpy.Actions = make([]Action, len(a.Actions))
		for i, act := range a.Actions {
			cpy.Actions[i] = act
			cpy.Actions[i].Data = deepCopyValue(act.Data)
			if act.Timestamp != nil {
				ts := *act.Timestamp
				cpy.Actions[i].Timestamp = &ts
			}
		}
	}
	return &cpy
}

func deepCopyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// Ref refers to an automation either by name or inline.
//
// In files a Ref is written as a plain string (a name) or as a mapping
// (an inline automation).
type Ref struct {
	Name   string
	Inline *Automation
}

// Named returns a Ref to the automation called name.
func Named(name string) Ref {
	return Ref{Name: name}
}

// InlineRef returns a Ref holding a.
func InlineRef(a *Automation) Ref {
	return Ref{Inline: a}
}

// IsZero reports whether the Ref points at nothing.
func (r Ref) IsZero() bool {
	return r.Name == "" && r.Inline == nil
}

// String describes the Ref for logs.
func (r Ref) String() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.Inline != nil && r.Inline.Name != "":
		return r.Inline.Name + " (inline)"
	case r.Inline != nil:
		return "(inline)"
	default:
		return "(none)"
	}
}

// UnmarshalYAML accepts a name or an inline automation.
func (r *Ref) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var name string
		if err := value.Decode(&name); err != nil {
			return err
		}
		*r = Ref{Name: name}
		return nil
	case yaml.MappingNode:
		var a Automation
		if err := value.Decode(&a); err != nil {
			return fmt.Errorf("decoding inline automation: %w", err)
		}
		*r = Ref{Inline: &a}
		return nil
	default:
		return fmt.Errorf("%w: automation reference must be a name or a mapping", ErrInvalidAutomation)
	}
}

// MarshalYAML writes the name, or the inline automation.
func (r Ref) MarshalYAML() (any, error) {
	if r.Inline != nil {
		return r.Inline, nil
	}
	return r.Name, nil
}

// UnmarshalJSON accepts a name or an inline automation.
func (r *Ref) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*r = Ref{Name: name}
		return nil
	}
	var a Automation
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("%w: automation reference must be a name or an object", ErrInvalidAutomation)
	}
	*r = Ref{Inline: &a}
	return nil
}

// MarshalJSON writes the name, or the inline automation.
func (r Ref) MarshalJSON() ([]byte, error) {
	if r.Inline != nil {
		return json.Marshal(r.Inline)
	}
	if r.Name == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.Name)
}

// Run tracks a single execution of an automation.
type Run struct {
	ID          string     `json:"id"`
	Automation  string     `json:"automation"`
	Sync        bool       `json:"sync"`
	Source      string     `json:"source,omitempty"` // api, trigger:<plugin>.<trigger>, profile:<name>, cli
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Action counts. Sub-automation actions count towards their parent run.
	ActionsTotal     int `json:"actions_total"`
	ActionsCompleted int `json:"actions_completed"`
	ActionsFailed    int `json:"actions_failed"`
	ActionsSkipped   int `json:"actions_skipped"`

	// Error holds the built-in failure that aborted the run.
	Error string `json:"error,omitempty"`

	DurationMS *int `json:"duration_ms,omitempty"`
}

// RunStatus is the state of a Run.
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusPartial   RunStatus = "partial"   // Some plugin actions failed or were skipped
	StatusFailed    RunStatus = "failed"    // A built-in action failed and aborted the run
	StatusCancelled RunStatus = "cancelled" // Queue shut down mid-run
)
