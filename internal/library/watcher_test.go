package library

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/profile"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type mockSink struct {
	mu          sync.Mutex
	profiles    map[string]*profile.Profile
	automations map[string]*automation.Automation
}

func newMockSink() *mockSink {
	return &mockSink{
		profiles:    make(map[string]*profile.Profile),
		automations: make(map[string]*automation.Automation),
	}
}

func (m *mockSink) LoadProfile(p *profile.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Name] = p
	return nil
}

func (m *mockSink) RemoveProfile(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[name]; !ok {
		return profile.ErrNotFound
	}
	delete(m.profiles, name)
	return nil
}

func (m *mockSink) PutAutomation(a *automation.Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.automations[a.Name] = a
	return nil
}

func (m *mockSink) RemoveAutomation(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.automations, name)
	return nil
}

func (m *mockSink) hasProfile(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.profiles[name]
	return ok
}

func (m *mockSink) automation(name string) *automation.Automation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.automations[name]
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) add(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) has(op Op, name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.Op == op && ev.Name == name {
			return true
		}
	}
	return false
}

func (e *eventLog) failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.Err != nil {
			return true
		}
	}
	return false
}

// ─── Helper ─────────────────────────────────────────────────────────────────

func startWatcher(t *testing.T, l *Loader, sink Sink, lib *Library) *eventLog {
	t.Helper()
	events := &eventLog{}
	w, err := NewWatcher(WatcherConfig{
		Loader:   l,
		Sink:     sink,
		Debounce: 20 * time.Millisecond,
		OnEvent:  events.add,
	})
	require.NoError(t, err)
	w.Seed(lib)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return events
}

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestWatcher_LoadsNewAndChangedFiles(t *testing.T) {
	l := setupLibrary(t)
	sink := newMockSink()
	events := startWatcher(t, l, sink, nil)

	path := writeFile(t, l.AutomationsDir, "dim-lights.yaml", dimLightsYAML)
	require.Eventually(t, func() bool { return sink.automation("dim-lights") != nil }, waitFor, tick)
	assert.True(t, events.has(OpLoaded, "dim-lights"))

	writeFile(t, l.AutomationsDir, "dim-lights.yaml", "sync: true\n"+dimLightsYAML)
	require.Eventually(t, func() bool {
		a := sink.automation("dim-lights")
		return a != nil && a.Sync
	}, waitFor, tick)
	assert.True(t, events.has(OpChanged, "dim-lights"))
	assert.Equal(t, path, sink.automation("dim-lights").Source)
}

func TestWatcher_RemovesDeletedFiles(t *testing.T) {
	l := setupLibrary(t)
	path := writeFile(t, l.ProfilesDir, "night-mode.yaml", nightModeYAML)

	lib, err := l.LoadAll()
	require.NoError(t, err)
	sink := newMockSink()
	for _, p := range lib.Profiles {
		require.NoError(t, sink.LoadProfile(p))
	}
	events := startWatcher(t, l, sink, lib)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return !sink.hasProfile("night-mode") }, waitFor, tick)
	assert.True(t, events.has(OpRemoved, "night-mode"))
}

func TestWatcher_RenameInsideFile(t *testing.T) {
	l := setupLibrary(t)
	sink := newMockSink()
	startWatcher(t, l, sink, nil)

	writeFile(t, l.ProfilesDir, "evening.yaml", "name: evening\n")
	require.Eventually(t, func() bool { return sink.hasProfile("evening") }, waitFor, tick)

	writeFile(t, l.ProfilesDir, "evening.yaml", "name: dusk\n")
	require.Eventually(t, func() bool { return sink.hasProfile("dusk") && !sink.hasProfile("evening") }, waitFor, tick)
}

func TestWatcher_BadFileReportsAndKeepsOldDefinition(t *testing.T) {
	l := setupLibrary(t)
	sink := newMockSink()
	events := startWatcher(t, l, sink, nil)

	writeFile(t, l.AutomationsDir, "dim-lights.yaml", dimLightsYAML)
	require.Eventually(t, func() bool { return sink.automation("dim-lights") != nil }, waitFor, tick)

	writeFile(t, l.AutomationsDir, "dim-lights.yaml", "actions: []\n")
	require.Eventually(t, events.failed, waitFor, tick)
	assert.NotNil(t, sink.automation("dim-lights"))
}
