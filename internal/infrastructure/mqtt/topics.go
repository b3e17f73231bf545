package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix namespaces every topic cuebox publishes.
const DefaultTopicPrefix = "cuebox"

// Topics builds the topics cuebox publishes under a prefix.
//
//	topics := mqtt.NewTopics("stage")
//	topics.State("clock", "hour") // "stage/state/clock/hour"
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, or DefaultTopicPrefix when empty.
// Leading and trailing slashes are dropped.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// State returns the mirror topic of one state cell.
//
// Example: cuebox/state/variables/scene
func (t Topics) State(plugin, key string) string {
	return fmt.Sprintf("%s/state/%s/%s", t.prefix(), plugin, key)
}

// AllStates matches every mirrored state cell.
func (t Topics) AllStates() string {
	return t.prefix() + "/state/#"
}

// ProfilesChanged returns the topic the active/inactive partition is published on.
//
// Example: cuebox/profiles/status
func (t Topics) ProfilesChanged() string {
	return t.prefix() + "/profiles/status"
}

// AutomationFinished returns the topic run results of one automation are published on.
//
// Example: cuebox/automation/dim-lights/finished
func (t Topics) AutomationFinished(name string) string {
	return fmt.Sprintf("%s/automation/%s/finished", t.prefix(), name)
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: cuebox/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// All matches everything under the prefix.
func (t Topics) All() string {
	return t.prefix() + "/#"
}

// ─── Filters ────────────────────────────────────────────────────────────────

// ValidateFilter checks a subscription filter.
//
// '+' must fill a whole level; '#' must fill the last level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: %q has '#' before the last level", ErrInvalidFilter, filter)
		case level != "#" && level != "+" && strings.ContainsAny(level, "#+"):
			return fmt.Errorf("%w: %q mixes a wildcard into level %q", ErrInvalidFilter, filter, level)
		}
	}
	return nil
}

// Match reports whether topic matches filter using MQTT wildcard rules.
//
// Filters starting with a wildcard never match topics starting with '$'.
// "a/#" matches "a" itself.
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if strings.HasPrefix(topic, "$") && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
