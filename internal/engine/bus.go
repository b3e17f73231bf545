package engine

import (
	"sync"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/profile"
)

// Hub channels. Payloads are state.Change, profile.Status and automation.Run.
const (
	ChannelStateChanged       = "state.changed"
	ChannelProfilesChanged    = profile.ChannelProfilesChanged
	ChannelAutomationFinished = automation.ChannelRunFinished
)

// Observer receives every event the engine broadcasts.
// *api.Hub, *Mirror and *Telemetry implement it.
type Observer interface {
	Broadcast(channel string, payload any)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(channel string, payload any)

// Broadcast calls f.
func (f ObserverFunc) Broadcast(channel string, payload any) {
	f(channel, payload)
}

// bus fans broadcasts out to every attached Observer, in attach order.
// It is handed to the queue and the profile manager as their hub.
type bus struct {
	mu        sync.RWMutex
	observers []Observer
}

func (b *bus) attach(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

func (b *bus) Broadcast(channel string, payload any) {
	b.mu.RLock()
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()

	for _, o := range observers {
		o.Broadcast(channel, payload)
	}
}
