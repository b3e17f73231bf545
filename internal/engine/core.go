package engine

import (
	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/plugin"
)

// TriggerStarted is raised once by the core plugin after startup.
const TriggerStarted = "started"

const automationDataSchema = `{
  "anyOf": [
    {"type": "string", "minLength": 1},
    {
      "type": "object",
      "required": ["automation"],
      "properties": {"automation": {"type": "string", "minLength": 1}}
    }
  ]
}`

const delayDataSchema = `{
  "anyOf": [
    {"type": "number", "minimum": 0},
    {"type": "string", "minLength": 1},
    {
      "type": "object",
      "required": ["seconds"],
      "properties": {"seconds": {"type": ["number", "string"]}}
    }
  ]
}`

// corePlugin declares the built-in actions so they validate like any other.
// The queue runs them itself, so their handlers are nil.
type corePlugin struct{}

func (corePlugin) Name() string { return automation.CorePlugin }

func (corePlugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Description: "Built-in control flow",
		Actions: []plugin.ActionDef{
			{
				ID:          automation.ActionRunAutomation,
				Description: "Run a named automation inline, sharing the caller's context",
				DataSchema:  automationDataSchema,
			},
			{
				ID:          automation.ActionDelay,
				Description: "Wait a number of seconds before the next action",
				DataSchema:  delayDataSchema,
			},
		},
		Triggers: []plugin.TriggerDef{
			{
				ID:          TriggerStarted,
				Description: "Raised once after the library has loaded",
			},
		},
	}
}
