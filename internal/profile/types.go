package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/condition"
	"github.com/nerrad567/cuebox/internal/dispatch"
	"github.com/nerrad567/cuebox/internal/plugin"
)

const maxNameLength = 100

// Profile bundles an activation condition, trigger bindings, and the
// automations run when it activates or deactivates.
type Profile struct {
	Name        string `yaml:"name,omitempty" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Conditions decide whether the profile is active. The zero value is
	// an empty Any, which is always true.
	Conditions condition.Node `yaml:"conditions,omitempty" json:"conditions"`

	// Triggers binds plugin → trigger → mappings.
	Triggers dispatch.Table `yaml:"triggers,omitempty" json:"triggers"`

	OnActivate   automation.Ref `yaml:"on_activate,omitempty" json:"on_activate"`
	OnDeactivate automation.Ref `yaml:"on_deactivate,omitempty" json:"on_deactivate"`

	// Source is the file the profile was loaded from, if any.
	Source string `yaml:"-" json:"source,omitempty"`
}

// State is the activation state of a loaded profile.
type State string

// Profile states. A profile is Loading until the first recombination
// after it was added.
const (
	StateLoading  State = "loading"
	StateActive   State = "active"
	StateInactive State = "inactive"
)

// Clone returns a copy whose trigger table can be modified independently.
// Mapping configs and inline automations are shared.
func (p *Profile) Clone() *Profile {
	cpy := *p
	cpy.Triggers = dispatch.Merge(p.Triggers)
	return &cpy
}

// Mappings returns the number of trigger mappings.
func (p *Profile) Mappings() int {
	return p.Triggers.Len()
}

// normalize stamps every mapping with the profile name and an ID.
func (p *Profile) normalize() {
	for _, triggers := range p.Triggers {
		for trigger, mappings := range triggers {
			for i := range mappings {
				mappings[i].Profile = p.Name
				if mappings[i].ID == "" {
					mappings[i].ID = uuid.New().String()
				}
			}
			triggers[trigger] = mappings
		}
	}
}

// Validate checks the profile's structure. Plugin-specific checks (trigger
// existence, config schemas) are done by the Manager on load.
func (p *Profile) Validate() error {
	if p == nil {
		return ErrInvalidProfile
	}
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	if err := p.Conditions.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidProfile, p.Name, err)
	}

	var errs []error
	for pluginName, triggers := range p.Triggers {
		for trigger, mappings := range triggers {
			for i, m := range mappings {
				if err := validateRef(m.Automation); err != nil {
					errs = append(errs, fmt.Errorf("%s.%s[%d]: %w", pluginName, trigger, i, err))
				}
			}
		}
	}
	for label, ref := range map[string]automation.Ref{"on_activate": p.OnActivate, "on_deactivate": p.OnDeactivate} {
		if ref.IsZero() {
			continue
		}
		if err := validateRef(ref); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrInvalidProfile, p.Name, errors.Join(errs...))
	}
	return nil
}

func validateRef(ref automation.Ref) error {
	switch {
	case ref.Inline != nil:
		_, err := automation.Prep(ref.Inline)
		return err
	case ref.Name == "":
		return errors.New("mapping has no automation")
	default:
		return nil
	}
}

// ValidateName checks if a profile name is valid.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: name cannot contain path separators", ErrInvalidName)
	}
	return nil
}

// Parse decodes one profile from YAML.
// When the document has no name, name is used. Mappings without an id get
// a generated one.
func Parse(data []byte, name string) (*Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidProfile, name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.normalize()
	return &p, nil
}

// ─── Plugin Hooks ───────────────────────────────────────────────────────────

// LoadHook is implemented by plugins that keep per-profile bookkeeping.
// OnProfileLoad runs before the recombination that follows the load.
type LoadHook interface {
	OnProfileLoad(p Profile)
}

// ChangeHook is implemented by plugins that reconcile external resources
// against the active profiles.
type ChangeHook interface {
	OnProfilesChanged(active, inactive []Profile)
}

// PluginSet is the view of the plugin registry the Manager needs.
// *plugin.Registry implements it.
type PluginSet interface {
	Plugins() []plugin.Plugin
	ValidateTriggerConfig(plugin, id string, config any) error
}
