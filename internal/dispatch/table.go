// Package dispatch routes plugin triggers to automations.
//
// The live Table maps plugin → trigger → mappings. The profile manager
// rebuilds it from the active profiles and installs it with one atomic
// store, so Trigger never observes a partially merged table.
package dispatch

import (
	"sort"

	"github.com/nerrad567/cuebox/internal/plugin"
)

// Table maps plugin name → trigger id → mappings, in profile order.
type Table map[string]map[string][]plugin.Mapping

// Merge concatenates tables in order. Mapping lists under the same key
// are appended, never deduplicated: two profiles may bind one trigger.
// The inputs are not modified.
func Merge(tables ...Table) Table {
	out := make(Table)
	for _, t := range tables {
		for pluginName, triggers := range t {
			dst, ok := out[pluginName]
			if !ok {
				dst = make(map[string][]plugin.Mapping, len(triggers))
				out[pluginName] = dst
			}
			for trigger, mappings := range triggers {
				if len(mappings) == 0 {
					continue
				}
				dst[trigger] = append(dst[trigger], mappings...)
			}
		}
	}
	return out
}

// Mappings returns the mappings bound to plugin.trigger.
func (t Table) Mappings(pluginName, trigger string) []plugin.Mapping {
	return t[pluginName][trigger]
}

// Len returns the total number of mappings.
func (t Table) Len() int {
	n := 0
	for _, triggers := range t {
		for _, mappings := range triggers {
			n += len(mappings)
		}
	}
	return n
}

// Keys returns every bound "plugin.trigger", sorted.
func (t Table) Keys() []string {
	var keys []string
	for pluginName, triggers := range t {
		for trigger, mappings := range triggers {
			if len(mappings) > 0 {
				keys = append(keys, pluginName+"."+trigger)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
