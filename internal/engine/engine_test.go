package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/dispatch"
	"github.com/nerrad567/cuebox/internal/library"
	"github.com/nerrad567/cuebox/internal/plugin"
	"github.com/nerrad567/cuebox/internal/profile"
	"github.com/nerrad567/cuebox/internal/state"
)

// ─── Test Doubles ───────────────────────────────────────────────────────────

// lightsPlugin exposes a dimmer level, a set action and a pressed trigger.
type lightsPlugin struct {
	mu     sync.Mutex
	host   plugin.Host
	inits  *[]string
	closes *[]string
	name   string
}

func newLights(name string, inits, closes *[]string) *lightsPlugin {
	return &lightsPlugin{name: name, inits: inits, closes: closes}
}

func (l *lightsPlugin) Name() string { return l.name }

func (l *lightsPlugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		State: []state.Spec{
			{Key: "level", Type: state.TypeNumber},
			{Key: "scene", Type: state.TypeString, Default: "off", Serialized: true},
		},
		Actions: []plugin.ActionDef{{
			ID:         "set",
			DataSchema: `{"type":"object","required":["level"]}`,
			Handler: automation.ActionFunc(func(_ context.Context, data any, ac *automation.Context) error {
				var d struct {
					Level float64 `json:"level"`
				}
				if err := ac.Decode(data, &d); err != nil {
					return err
				}
				return l.Host().SetState("level", d.Level)
			}),
		}},
		Triggers: []plugin.TriggerDef{{
			ID:            "pressed",
			ContextSchema: `{"type":"object","required":["button"]}`,
		}},
		Helpers: map[string]any{"max": 100, "level": "helper"},
	}
}

func (l *lightsPlugin) Init(_ context.Context, host plugin.Host) error {
	l.mu.Lock()
	l.host = host
	l.mu.Unlock()
	if l.inits != nil {
		*l.inits = append(*l.inits, l.name)
	}
	return nil
}

func (l *lightsPlugin) Close() error {
	if l.closes != nil {
		*l.closes = append(*l.closes, l.name)
	}
	return nil
}

func (l *lightsPlugin) Host() plugin.Host {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.host
}

type memStore struct {
	mu      sync.Mutex
	values  map[string]state.StoredValue
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]state.StoredValue)}
}

func (s *memStore) Load(context.Context) ([]state.StoredValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]state.StoredValue, 0, len(s.values))
	for _, v := range s.values {
		out = append(out, v)
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, v state.StoredValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[v.Plugin+"."+v.Key] = v
	return nil
}

func (s *memStore) Delete(_ context.Context, p, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, p+"."+key)
	s.deleted = append(s.deleted, p+"."+key)
	return nil
}

func (s *memStore) get(id string) (state.StoredValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[id]
	return v, ok
}

type recorder struct {
	mu     sync.Mutex
	events []string
	runs   []automation.Run
}

func (r *recorder) Broadcast(channel string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, channel)
	if run, ok := payload.(automation.Run); ok {
		r.runs = append(r.runs, run)
	}
}

func (r *recorder) count(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == channel {
			n++
		}
	}
	return n
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func setLevel(level any) automation.Action {
	return automation.Action{Plugin: "lights", Action: "set", Data: map[string]any{"level": level}}
}

func pressedProfile(name, auto string) *profile.Profile {
	return &profile.Profile{
		Name: name,
		Triggers: dispatch.Table{"lights": {"pressed": {{
			Automation: automation.Named(auto),
		}}}},
	}
}

func newStartedEngine(t *testing.T, cfg Config) (*Engine, *lightsPlugin) {
	t.Helper()
	e := New(cfg)
	lights := newLights("lights", nil, nil)
	require.NoError(t, e.Register(lights))
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e, lights
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestNew_RegistersCorePlugin(t *testing.T) {
	e := New(Config{})

	assert.Contains(t, e.Plugins().Names(), automation.CorePlugin)
	assert.NoError(t, e.Plugins().ValidateActionData("core", "delay", 1.5))
	assert.NoError(t, e.Plugins().ValidateActionData("core", "automation", "dim-lights"))
	assert.NoError(t, e.Plugins().ValidateActionData("core", "automation", map[string]any{"automation": "x"}))
	assert.Error(t, e.Plugins().ValidateActionData("core", "delay", -1))
	assert.Error(t, e.Plugins().ValidateActionData("core", "automation", ""))

	_, ok := e.Plugins().Trigger("core", TriggerStarted)
	assert.True(t, ok)
}

func TestRegister_DefinesState(t *testing.T) {
	e := New(Config{})
	require.NoError(t, e.Register(newLights("lights", nil, nil)))

	v, ok := e.Graph().Get("lights", "scene")
	require.True(t, ok)
	assert.Equal(t, "off", v)

	err := e.Register(newLights("lights", nil, nil))
	assert.ErrorIs(t, err, plugin.ErrPluginExists)
}

func TestRegister_AfterStart(t *testing.T) {
	e := New(Config{})
	require.NoError(t, e.Start(context.Background()))

	err := e.Register(newLights("lights", nil, nil))
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.ErrorIs(t, e.Start(context.Background()), ErrAlreadyStarted)
}

func TestStartAndClose_PluginOrder(t *testing.T) {
	var inits, closes []string
	e := New(Config{})
	require.NoError(t, e.Register(newLights("a", &inits, &closes)))
	require.NoError(t, e.Register(newLights("b", &inits, &closes)))

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, []string{"a", "b"}, inits)

	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, []string{"b", "a"}, closes)

	// Second close is a no-op.
	require.NoError(t, e.Close(context.Background()))
	assert.Len(t, closes, 2)
}

func TestStart_RestoresSerializedState(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Save(context.Background(), state.StoredValue{Plugin: "lights", Key: "scene", Value: "evening"}))
	require.NoError(t, store.Save(context.Background(), state.StoredValue{Plugin: "lights", Key: "level", Value: 40.0}))

	e, lights := newStartedEngine(t, Config{Store: store})

	v, _ := e.Graph().Get("lights", "scene")
	assert.Equal(t, "evening", v)
	v, _ = e.Graph().Get("lights", "level")
	assert.Equal(t, 0.0, v, "non-serialized cells are not restored")

	require.NoError(t, lights.Host().SetState("scene", "night"))
	stored, ok := store.get("lights.scene")
	require.True(t, ok)
	assert.Equal(t, "night", stored.Value)

	require.NoError(t, lights.Host().RemoveState("scene"))
	_, ok = store.get("lights.scene")
	assert.False(t, ok)
	assert.Contains(t, store.deleted, "lights.scene")
}

// ─── Library ────────────────────────────────────────────────────────────────

func TestLoadLibrary_SkipsInvalidDefinitions(t *testing.T) {
	e, _ := newStartedEngine(t, Config{})

	lib := &library.Library{
		Automations: []*automation.Automation{
			{Name: "dim", Actions: []automation.Action{setLevel(10)}},
			{Name: "broken", Actions: []automation.Action{{Plugin: "lights", Action: "set", Data: map[string]any{}}}},
		},
		Profiles: []*profile.Profile{
			pressedProfile("evening", "dim"),
			{
				Name:     "bad",
				Triggers: dispatch.Table{"lights": {"unknown": {{Automation: automation.Named("dim")}}}},
			},
		},
	}

	err := e.LoadLibrary(lib)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	assert.True(t, e.Automations().Has("dim"))
	assert.False(t, e.Automations().Has("broken"))
	assert.Equal(t, []string{"evening"}, e.Profiles().Names())
	assert.True(t, e.Profiles().IsActive("evening"))
}

func TestSink_AppliesLibraryChanges(t *testing.T) {
	e, _ := newStartedEngine(t, Config{})

	require.NoError(t, e.PutAutomation(&automation.Automation{Name: "dim", Actions: []automation.Action{setLevel(5)}}))
	assert.True(t, e.Automations().Has("dim"))

	err := e.PutAutomation(&automation.Automation{Name: "bad", Actions: []automation.Action{{Plugin: "nope", Action: "x"}}})
	assert.Error(t, err)
	assert.False(t, e.Automations().Has("bad"))

	require.NoError(t, e.LoadProfile(pressedProfile("evening", "dim")))
	assert.True(t, e.Profiles().IsActive("evening"))

	require.NoError(t, e.RemoveProfile("evening"))
	assert.Empty(t, e.Profiles().Names())

	require.NoError(t, e.RemoveAutomation("dim"))
	assert.False(t, e.Automations().Has("dim"))
}

// ─── Triggers ───────────────────────────────────────────────────────────────

func TestTrigger_StartsMappedAutomation(t *testing.T) {
	e, _ := newStartedEngine(t, Config{})
	obs := &recorder{}
	e.Observe(obs)

	require.NoError(t, e.LoadLibrary(&library.Library{
		Automations: []*automation.Automation{{Name: "dim", Actions: []automation.Action{setLevel("{{ button * 10 }}")}}},
		Profiles:    []*profile.Profile{pressedProfile("evening", "dim")},
	}))

	started, err := e.Trigger(context.Background(), "lights", "pressed", map[string]any{"button": 3})
	require.NoError(t, err)
	assert.True(t, started)
	e.Queue().Wait()

	v, _ := e.Graph().Get("lights", "level")
	assert.Equal(t, 30.0, v)
	assert.Equal(t, 1, obs.count(ChannelStateChanged))
	assert.Equal(t, 1, obs.count(ChannelAutomationFinished))
	assert.Equal(t, automation.StatusCompleted, obs.runs[0].Status)
	assert.Equal(t, "trigger:lights.pressed", obs.runs[0].Source)
}

func TestTrigger_Errors(t *testing.T) {
	e, _ := newStartedEngine(t, Config{})
	ctx := context.Background()

	_, err := e.Trigger(ctx, "nope", "pressed", nil)
	assert.ErrorIs(t, err, plugin.ErrUnknownPlugin)

	_, err = e.Trigger(ctx, "lights", "nope", nil)
	assert.ErrorIs(t, err, plugin.ErrUnknownTrigger)

	_, err = e.Trigger(ctx, "lights", "pressed", map[string]any{})
	assert.ErrorIs(t, err, ErrTriggerContext)

	started, err := e.Trigger(ctx, "lights", "pressed", map[string]any{"button": 1})
	require.NoError(t, err)
	assert.False(t, started, "no profile maps the trigger")
}

func TestHostTrigger_RejectsInvalidContext(t *testing.T) {
	e, lights := newStartedEngine(t, Config{})
	require.NoError(t, e.LoadLibrary(&library.Library{
		Automations: []*automation.Automation{{Name: "dim", Actions: []automation.Action{setLevel(1)}}},
		Profiles:    []*profile.Profile{pressedProfile("evening", "dim")},
	}))

	host := lights.Host()
	assert.False(t, host.Trigger(context.Background(), "pressed", map[string]any{}))
	assert.False(t, host.Trigger(context.Background(), "undeclared", nil))
	assert.True(t, host.Trigger(context.Background(), "pressed", map[string]any{"button": 1}))
	e.Queue().Wait()
}

func TestReady_RaisesStarted(t *testing.T) {
	e, _ := newStartedEngine(t, Config{})
	require.NoError(t, e.LoadLibrary(&library.Library{
		Automations: []*automation.Automation{{Name: "boot", Actions: []automation.Action{setLevel(75)}}},
		Profiles: []*profile.Profile{{
			Name:     "boot",
			Triggers: dispatch.Table{"core": {"started": {{Automation: automation.Named("boot")}}}},
		}},
	}))

	assert.True(t, e.Ready(context.Background()))
	e.Queue().Wait()

	v, _ := e.Graph().Get("lights", "level")
	assert.Equal(t, 75.0, v)
}

// ─── Operations ─────────────────────────────────────────────────────────────

func TestStartAutomation(t *testing.T) {
	e, _ := newStartedEngine(t, Config{})
	require.NoError(t, e.PutAutomation(&automation.Automation{
		Name:    "dim",
		Actions: []automation.Action{setLevel("{{ target }}")},
	}))

	id, err := e.StartAutomation("dim", map[string]any{"target": 12}, "api")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	e.Queue().Wait()

	v, _ := e.Graph().Get("lights", "level")
	assert.Equal(t, 12.0, v)

	_, err = e.StartAutomation("missing", nil, "api")
	assert.True(t, errors.Is(err, automation.ErrNotFound))
}

func TestRunActions_ValidatesData(t *testing.T) {
	e, _ := newStartedEngine(t, Config{})

	_, err := e.RunActions([]automation.Action{{Plugin: "lights", Action: "set", Data: "bad"}}, nil, "api")
	assert.Error(t, err)

	id, err := e.RunActions([]automation.Action{setLevel(8)}, nil, "api")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	e.Queue().Wait()

	v, _ := e.Graph().Get("lights", "level")
	assert.Equal(t, 8.0, v)
}

func TestPluginEnv_StateWinsOverHelpers(t *testing.T) {
	e, _ := newStartedEngine(t, Config{})

	env := e.PluginEnv()
	require.Contains(t, env, "lights")
	assert.Equal(t, 100, env["lights"]["max"])
	assert.Equal(t, 0.0, env["lights"]["level"])
	assert.Equal(t, "off", env["lights"]["scene"])
}

func TestStatus(t *testing.T) {
	e, lights := newStartedEngine(t, Config{})
	require.NoError(t, lights.Host().SetState("level", 3))

	s := e.Status()
	assert.ElementsMatch(t, []string{"core", "lights"}, s.Plugins)
	assert.Equal(t, 0, s.Automations)
	assert.Equal(t, 0, s.PendingSync)
	assert.NotZero(t, s.StateSeq)
}

func TestHost_PluginLogger(t *testing.T) {
	var got []string
	e := New(Config{PluginLogger: func(name string) plugin.Logger {
		got = append(got, name)
		return nil
	}})
	require.NoError(t, e.Register(newLights("lights", nil, nil)))

	assert.Equal(t, []string{"core", "lights"}, got)
	_, ok := e.host("lights").Logger().(taggedLogger)
	assert.True(t, ok, "nil plugin logger falls back to a tagged engine logger")
}

func TestValidate_ReportsWithoutInstalling(t *testing.T) {
	e := New(Config{})
	require.NoError(t, e.Register(newLights("lights", nil, nil)))

	lib := &library.Library{
		Automations: []*automation.Automation{
			{Name: "dim", Actions: []automation.Action{setLevel(10)}},
			{Name: "broken", Actions: []automation.Action{{Plugin: "lights", Action: "set", Data: map[string]any{}}}},
		},
		Profiles: []*profile.Profile{
			pressedProfile("evening", "dim"),
			pressedProfile("dangling", "missing"),
			{
				Name:       "inline",
				OnActivate: automation.InlineRef(&automation.Automation{Actions: []automation.Action{{Plugin: "nope", Action: "x"}}}),
			},
		},
	}

	err := e.Validate(lib)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "automation broken")
	assert.Contains(t, err.Error(), "profile dangling")
	assert.Contains(t, err.Error(), "profile inline: on_activate")
	assert.NotContains(t, err.Error(), "profile evening")
	assert.ErrorIs(t, err, automation.ErrNotFound)
	assert.ErrorIs(t, err, plugin.ErrUnknownPlugin)

	assert.Empty(t, e.Automations().Names(), "validate installs nothing")
	assert.Empty(t, e.Profiles().Names())

	assert.NoError(t, e.Validate(&library.Library{
		Automations: lib.Automations[:1],
		Profiles:    lib.Profiles[:1],
	}))
}
