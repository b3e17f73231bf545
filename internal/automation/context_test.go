package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_EnvPluginsOverrideValues(t *testing.T) {
	ac := NewContext(map[string]any{"user": "ada", "clock": "shadowed"}, staticEnv{"clock": {"hour": float64(7)}})

	env := ac.Env()
	assert.Equal(t, "ada", env["user"])
	assert.Equal(t, map[string]any{"hour": float64(7)}, env["clock"])

	v, ok := ac.Value("clock")
	assert.True(t, ok)
	assert.Equal(t, "shadowed", v)
}

func TestContext_ValuesAreCopied(t *testing.T) {
	values := map[string]any{"a": 1}
	ac := NewContext(values, nil)
	values["a"] = 2

	v, _ := ac.Value("a")
	assert.Equal(t, 1, v)

	out := ac.Values()
	out["a"] = 3
	v, _ = ac.Value("a")
	assert.Equal(t, 1, v)
}

func TestContext_NilSafe(t *testing.T) {
	var ac *Context
	_, ok := ac.Value("x")
	assert.False(t, ok)
	assert.Empty(t, ac.Env())
}

func TestContext_Decode(t *testing.T) {
	ac := NewContext(map[string]any{"level": 55}, nil)

	var target struct {
		Room  string  `json:"room"`
		Level float64 `json:"level"`
	}
	err := ac.Decode(map[string]any{"room": "lounge", "level": "{{ level }}"}, &target)
	require.NoError(t, err)
	assert.Equal(t, "lounge", target.Room)
	assert.Equal(t, 55.0, target.Level)
}

func TestDecodeData_Error(t *testing.T) {
	var target struct {
		Level float64 `json:"level"`
	}
	assert.Error(t, DecodeData(map[string]any{"level": "bright"}, &target))
}
