package mqtt

import (
	"errors"
	"testing"
)

func TestTopics(t *testing.T) {
	topics := NewTopics("/stage/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", topics.State("clock", "hour"), "stage/state/clock/hour"},
		{"all states", topics.AllStates(), "stage/state/#"},
		{"profiles", topics.ProfilesChanged(), "stage/profiles/status"},
		{"automation", topics.AutomationFinished("dim-lights"), "stage/automation/dim-lights/finished"},
		{"status", topics.SystemStatus(), "stage/system/status"},
		{"all", topics.All(), "stage/#"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_DefaultPrefix(t *testing.T) {
	if got := NewTopics("").SystemStatus(); got != "cuebox/system/status" {
		t.Errorf("NewTopics(\"\").SystemStatus() = %q", got)
	}
	if got := (Topics{}).State("a", "b"); got != "cuebox/state/a/b" {
		t.Errorf("Topics{}.State() = %q", got)
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/b", "a/b/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a/b/c", false},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/d", false},
		{"+/+", "a/b", true},
		{"+", "a", true},
		{"+", "", false},
		{"a/#", "a", true},
		{"a/#", "a/b", true},
		{"a/#", "a/b/c", true},
		{"a/#", "b/c", false},
		{"#", "a/b/c", true},
		{"#", "$SYS/broker", false},
		{"+/broker", "$SYS/broker", false},
		{"$SYS/#", "$SYS/broker", true},
		{"sensors/+/temperature", "sensors/hall/temperature", true},
		{"sensors/+/temperature", "sensors/hall/humidity", false},
		{"a//b", "a//b", true},
		{"", "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.filter+"~"+tt.topic, func(t *testing.T) {
			if got := Match(tt.filter, tt.topic); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		filter string
		want   error
	}{
		{"a/b", nil},
		{"a/+/c", nil},
		{"a/#", nil},
		{"#", nil},
		{"+", nil},
		{"", ErrInvalidTopic},
		{"a/#/c", ErrInvalidFilter},
		{"a/b#", ErrInvalidFilter},
		{"a/b+/c", ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			err := ValidateFilter(tt.filter)
			if tt.want == nil {
				if err != nil {
					t.Errorf("ValidateFilter(%q) = %v, want nil", tt.filter, err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateFilter(%q) = %v, want %v", tt.filter, err, tt.want)
			}
		})
	}
}
