package automation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Validation constants.
const (
	maxNameLength = 100
	maxActions    = 500

	// maxTimestamp bounds action offsets (seconds).
	maxTimestamp = 24 * 60 * 60
)

// Prep validates a and returns a copy ready to run.
//
// The copy has BeforeDelay set on every action that carries a Timestamp:
// the gap since the previous timestamped action, or since the start for
// the first one. Actions without a Timestamp keep a zero BeforeDelay.
// Offsets that go backwards yield a zero gap. Prep is a pure function of
// the action list, so preparing the same automation twice yields the same
// delays.
//
// Returns:
//   - *Automation: prepared deep copy
//   - error: ErrInvalidAutomation, ErrNoActions, or ErrInvalidAction
func Prep(a *Automation) (*Automation, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: automation is missing", ErrInvalidAutomation)
	}
	if len(a.Actions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoActions, describe(a))
	}
	if len(a.Actions) > maxActions {
		return nil, fmt.Errorf("%w: %s exceeds maximum of %d actions", ErrInvalidAutomation, describe(a), maxActions)
	}
	for i, act := range a.Actions {
		if err := ValidateAction(act); err != nil {
			return nil, fmt.Errorf("%s action[%d]: %w", describe(a), i, err)
		}
	}

	prepared := a.DeepCopy()
	convertOffsets(prepared.Actions)
	return prepared, nil
}

// convertOffsets derives BeforeDelay from absolute timestamps.
func convertOffsets(actions []Action) {
	sinceStart := 0.0
	for i := range actions {
		actions[i].BeforeDelay = 0
		ts := actions[i].Timestamp
		if ts == nil {
			continue
		}
		gap := *ts - sinceStart
		if gap > 0 {
			actions[i].BeforeDelay = time.Duration(gap * float64(time.Second))
		}
		sinceStart = *ts
	}
}

func describe(a *Automation) string {
	if a.Name == "" {
		return "inline automation"
	}
	return fmt.Sprintf("automation %q", a.Name)
}

// ValidateAction checks the structure of a single action.
// Data is not inspected here; plugins validate their own payloads.
func ValidateAction(action Action) error {
	if action.Plugin == "" {
		return fmt.Errorf("%w: plugin is required", ErrInvalidAction)
	}
	if action.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidAction)
	}
	if ts := action.Timestamp; ts != nil {
		if math.IsNaN(*ts) || *ts < 0 || *ts > maxTimestamp {
			return fmt.Errorf("%w: timestamp must be 0-%d seconds", ErrInvalidAction, maxTimestamp)
		}
	}
	return nil
}

// ValidateName checks if an automation name is valid.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
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

// Validate checks a named automation for the registry.
func Validate(a *Automation) error {
	if a == nil {
		return ErrInvalidAutomation
	}
	if err := ValidateName(a.Name); err != nil {
		return err
	}
	_, err := Prep(a)
	return err
}

// Parse decodes one automation from YAML.
// When the document has no name, name is used.
func Parse(data []byte, name string) (*Automation, error) {
	var a Automation
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&a); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s is empty", ErrInvalidAutomation, name)
		}
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidAutomation, name, err)
	}
	if a.Name == "" {
		a.Name = name
	}
	if err := Validate(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GenerateID creates a new UUID for a run.
func GenerateID() string {
	return uuid.New().String()
}
