package profile

import (
	"errors"
	"testing"

	"github.com/nerrad567/cuebox/internal/condition"
)

const nightModeYAML = `
description: Dim everything after ten
conditions:
  operator: all
  operands:
    - state: {plugin: clock, key: hour}
      compare: 22
    - state: {plugin: vars, key: away}
      operator: notEqual
      compare: true
triggers:
  chat:
    command:
      - config: {command: "!dim"}
        automation: dim-lights
      - id: raid
        config: {command: "!raid"}
        automation:
          sync: true
          actions:
            - plugin: lights
              action: flash
on_activate: evening
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(nightModeYAML), "night-mode")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if p.Name != "night-mode" {
		t.Errorf("Name = %q, want night-mode", p.Name)
	}
	if p.Conditions.Kind != condition.KindAll || len(p.Conditions.Operands) != 2 {
		t.Errorf("Conditions = %s", p.Conditions)
	}
	if p.OnActivate.Name != "evening" {
		t.Errorf("OnActivate = %v, want evening", p.OnActivate)
	}
	if !p.OnDeactivate.IsZero() {
		t.Errorf("OnDeactivate = %v, want none", p.OnDeactivate)
	}

	mappings := p.Triggers.Mappings("chat", "command")
	if len(mappings) != 2 {
		t.Fatalf("len(mappings) = %d, want 2", len(mappings))
	}
	for _, m := range mappings {
		if m.Profile != "night-mode" {
			t.Errorf("mapping Profile = %q, want night-mode", m.Profile)
		}
		if m.ID == "" {
			t.Error("mapping ID should be generated")
		}
	}
	if mappings[1].ID != "raid" {
		t.Errorf("explicit ID = %q, want raid", mappings[1].ID)
	}
	if mappings[1].Automation.Inline == nil || !mappings[1].Automation.Inline.Sync {
		t.Errorf("inline automation not decoded: %+v", mappings[1].Automation)
	}
}

func TestParse_DefaultsToAlwaysActive(t *testing.T) {
	p, err := Parse([]byte("description: nothing else\n"), "plain")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !condition.Evaluate(p.Conditions, condition.Snapshot{}) {
		t.Error("profile without conditions should evaluate true")
	}

	empty, err := Parse(nil, "empty")
	if err != nil {
		t.Fatalf("Parse(empty) error = %v", err)
	}
	if empty.Name != "empty" || empty.Mappings() != 0 {
		t.Errorf("empty profile = %+v", empty)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"unknown field", "bogus: 1\n", ErrInvalidProfile},
		{"bad condition", "conditions: {operator: xor}\n", ErrInvalidProfile},
		{"leaf without key", "conditions: {state: {plugin: clock}}\n", ErrInvalidProfile},
		{"mapping without automation", "triggers: {chat: {command: [{config: {}}]}}\n", ErrInvalidProfile},
		{"inline without actions", "triggers: {chat: {command: [{automation: {sync: true}}]}}\n", ErrInvalidProfile},
		{"bad activation", "on_activate: {actions: []}\n", ErrInvalidProfile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "broken")
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("night-mode"); err != nil {
		t.Errorf("ValidateName() error = %v", err)
	}
	for _, bad := range []string{"", "  ", "a/b", `a\b`} {
		if err := ValidateName(bad); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) error = %v, want ErrInvalidName", bad, err)
		}
	}
}

func TestClone_IndependentTriggers(t *testing.T) {
	p, err := Parse([]byte(nightModeYAML), "night-mode")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cpy := p.Clone()
	cpy.Triggers["chat"]["command"][0].ID = "changed"
	cpy.Triggers["chat"]["other"] = nil

	if p.Triggers["chat"]["command"][0].ID == "changed" {
		t.Error("Clone shares mapping slices")
	}
	if _, ok := p.Triggers["chat"]["other"]; ok {
		t.Error("Clone shares trigger maps")
	}
}
