package engine

import (
	"fmt"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/library"
	"github.com/nerrad567/cuebox/internal/profile"
)

var _ library.Sink = (*Engine)(nil)

// LoadProfile implements library.Sink.
func (e *Engine) LoadProfile(p *profile.Profile) error {
	return e.profiles.Load(p)
}

// RemoveProfile implements library.Sink.
func (e *Engine) RemoveProfile(name string) error {
	return e.profiles.Remove(name)
}

// PutAutomation implements library.Sink. Action data is checked against
// the plugins' schemas before the automation replaces the cached one.
func (e *Engine) PutAutomation(a *automation.Automation) error {
	if err := e.plugins.ValidateAutomation(a); err != nil {
		return fmt.Errorf("automation %s: %w", a.Name, err)
	}
	return e.automations.Put(a)
}

// RemoveAutomation implements library.Sink.
func (e *Engine) RemoveAutomation(name string) error {
	return e.automations.Delete(name)
}
