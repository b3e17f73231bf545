package variables

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/plugin"
	"github.com/nerrad567/cuebox/internal/plugin/plugintest"
	"github.com/nerrad567/cuebox/internal/state"
)

const sampleFile = `
variables:
  scene:
    type: string
    default: "off"
    serialized: true
  brightness:
    default: 50
  armed:
    default: false
  counter: {}
`

func setup(t *testing.T) (*Plugin, *plugintest.Host) {
	t.Helper()
	specs, err := Parse(strings.NewReader(sampleFile))
	require.NoError(t, err)

	p := New(specs)
	host, err := plugintest.New(p)
	require.NoError(t, err)
	require.NoError(t, p.Init(context.Background(), host))
	return p, host
}

func invoke(t *testing.T, p *Plugin, action string, data any, values map[string]any) error {
	t.Helper()
	for _, def := range p.Manifest().Actions {
		if def.ID == action {
			return def.Handler.Invoke(context.Background(), data, automation.NewContext(values, nil))
		}
	}
	t.Fatalf("no action %q", action)
	return nil
}

// ─── File ───────────────────────────────────────────────────────────────────

func TestParse(t *testing.T) {
	specs, err := Parse(strings.NewReader(sampleFile))
	require.NoError(t, err)

	assert.Equal(t, []state.Spec{
		{Key: "armed", Type: state.TypeBoolean, Default: false},
		{Key: "brightness", Type: state.TypeNumber, Default: 50},
		{Key: "counter", Type: state.TypeNumber},
		{Key: "scene", Type: state.TypeString, Default: "off", Serialized: true},
	}, specs)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(strings.NewReader("variables: [1, 2]"))
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = Parse(strings.NewReader("variables:\n  x: {type: colour}\n"))
	assert.ErrorIs(t, err, ErrInvalidFile)

	specs, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestLoadFile(t *testing.T) {
	specs, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, specs)

	path := filepath.Join(t.TempDir(), "variables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))
	specs, err = LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, specs, 4)
}

// ─── Manifest ───────────────────────────────────────────────────────────────

func TestManifest_Registers(t *testing.T) {
	specs, err := Parse(strings.NewReader(sampleFile))
	require.NoError(t, err)

	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(New(specs)))

	assert.NoError(t, reg.ValidateActionData(Name, "set", map[string]any{"name": "scene", "value": "on"}))
	assert.Error(t, reg.ValidateActionData(Name, "set", map[string]any{"name": "scene"}))
	assert.Error(t, reg.ValidateActionData(Name, "define", map[string]any{"name": "x", "type": "colour"}))
}

// ─── Actions ────────────────────────────────────────────────────────────────

func TestSet(t *testing.T) {
	p, host := setup(t)

	require.NoError(t, invoke(t, p, "set", map[string]any{"name": "scene", "value": "night"}, nil))
	require.NoError(t, invoke(t, p, "set", map[string]any{"name": "brightness", "value": "{{ level * 2 }}"}, map[string]any{"level": 20}))
	require.NoError(t, invoke(t, p, "set", map[string]any{"name": "armed", "value": "{{ level > 10 }}"}, map[string]any{"level": 20}))

	v, _ := host.GetState("scene")
	assert.Equal(t, "night", v)
	v, _ = host.GetState("brightness")
	assert.Equal(t, 40.0, v)
	v, _ = host.GetState("armed")
	assert.Equal(t, true, v)
}

func TestSet_UnknownVariable(t *testing.T) {
	p, _ := setup(t)
	err := invoke(t, p, "set", map[string]any{"name": "nope", "value": 1}, nil)
	assert.ErrorIs(t, err, ErrUnknownVariable)
}

func TestInc(t *testing.T) {
	p, host := setup(t)

	require.NoError(t, invoke(t, p, "inc", map[string]any{"name": "counter"}, nil))
	require.NoError(t, invoke(t, p, "inc", map[string]any{"name": "counter", "amount": -3}, nil))
	require.NoError(t, invoke(t, p, "inc", map[string]any{"name": "counter", "amount": "{{ step }}"}, map[string]any{"step": 10}))

	v, _ := host.GetState("counter")
	assert.Equal(t, 8.0, v)

	err := invoke(t, p, "inc", map[string]any{"name": "scene"}, nil)
	assert.ErrorIs(t, err, ErrNotNumeric)
}

func TestDefineAndRemove(t *testing.T) {
	p, host := setup(t)

	require.NoError(t, invoke(t, p, "define", map[string]any{"name": "mood", "default": "calm"}, nil))
	v, ok := host.GetState("mood")
	require.True(t, ok)
	assert.Equal(t, "calm", v)
	assert.Equal(t, 1, host.Redone())
	assert.Contains(t, p.Names(), "mood")

	require.NoError(t, invoke(t, p, "set", map[string]any{"name": "mood", "value": "busy"}, nil))

	require.NoError(t, invoke(t, p, "remove", map[string]any{"name": "mood"}, nil))
	_, ok = host.GetState("mood")
	assert.False(t, ok)
	assert.Equal(t, 2, host.Redone())

	err := p.Remove("mood")
	assert.ErrorIs(t, err, ErrUnknownVariable)

	err = p.Define(state.Spec{Key: "scene", Type: state.TypeString})
	assert.ErrorIs(t, err, state.ErrCellExists)
}

func TestNotInitialised(t *testing.T) {
	p := New(nil)
	assert.ErrorIs(t, p.Define(state.Spec{Key: "x"}), ErrNotInitialised)
}
