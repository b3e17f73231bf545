package mqttbridge

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
	"github.com/nerrad567/cuebox/internal/infrastructure/mqtt"
	"github.com/nerrad567/cuebox/internal/plugin"
	"github.com/nerrad567/cuebox/internal/plugin/plugintest"
	"github.com/nerrad567/cuebox/internal/profile"
	"github.com/nerrad567/cuebox/internal/state"
)

type publishedMsg struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

type fakeClient struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []publishedMsg
	failSub   map[string]bool
	hold      chan struct{} // when set, Subscribe waits for it to close
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler), failSub: make(map[string]bool)}
}

func (c *fakeClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	c.mu.Lock()
	hold := c.hold
	c.mu.Unlock()
	if hold != nil {
		<-hold
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSub[topic] {
		return mqtt.ErrNotConnected
	}
	c.handlers[topic] = h
	return nil
}

func (c *fakeClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	return nil
}

func (c *fakeClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, publishedMsg{topic, string(payload), qos, retained})
	return nil
}

// deliver routes a message the way a broker would.
func (c *fakeClient) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	c.mu.Lock()
	var hs []mqtt.MessageHandler
	for filter, h := range c.handlers {
		if mqtt.Match(filter, topic) {
			hs = append(hs, h)
		}
	}
	c.mu.Unlock()
	for _, h := range hs {
		require.NoError(t, h(topic, []byte(payload)))
	}
}

func (c *fakeClient) filters() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := make(map[string]bool, len(c.handlers))
	for f := range c.handlers {
		m[f] = true
	}
	return sortedKeys(m)
}

var testBindings = []Binding{
	{Topic: "stage/door", Key: "door_open", Type: state.TypeBoolean},
	{Topic: "stage/climate/+", Key: "temperature", Type: state.TypeNumber, Field: "readings.celsius"},
	{Topic: "stage/title", Key: "title", Type: state.TypeString},
}

func setup(t *testing.T) (*Plugin, *plugintest.Host, *fakeClient) {
	t.Helper()
	client := newFakeClient()
	p, err := New(Config{Client: client, QoS: 1, Bindings: testBindings})
	require.NoError(t, err)
	host, err := plugintest.New(p)
	require.NoError(t, err)
	require.NoError(t, p.Init(context.Background(), host))
	t.Cleanup(func() { _ = p.Close() })
	return p, host, client
}

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func hasFilter(c *fakeClient, filter string) func() bool {
	return func() bool {
		for _, f := range c.filters() {
			if f == filter {
				return true
			}
		}
		return false
	}
}

func messageProfile(name string, topics ...string) profile.Profile {
	mappings := make([]plugin.Mapping, 0, len(topics))
	for _, topic := range topics {
		mappings = append(mappings, plugin.Mapping{
			Config:     map[string]any{"topic": topic},
			Automation: automation.Named("on-message"),
		})
	}
	return profile.Profile{Name: name, Triggers: dispatch.Table{Name: {TriggerMessage: mappings}}}
}

// ─── Bindings ───────────────────────────────────────────────────────────────

func TestNew_RejectsInvalidBindings(t *testing.T) {
	_, err := New(Config{Bindings: []Binding{{Topic: "a"}}})
	assert.ErrorIs(t, err, ErrInvalidBinding)

	_, err = New(Config{Bindings: []Binding{{Topic: "a/#/b", Key: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidBinding)
}

func TestBindingValue(t *testing.T) {
	tests := []struct {
		name    string
		binding Binding
		payload string
		want    any
		wantErr bool
	}{
		{"plain number", Binding{Type: state.TypeNumber}, "21.5", 21.5, false},
		{"text number", Binding{Type: state.TypeNumber}, " 7 ", 7.0, false},
		{"on", Binding{Type: state.TypeBoolean}, "ON", true, false},
		{"json bool", Binding{Type: state.TypeBoolean}, "false", false, false},
		{"numeric bool", Binding{Type: state.TypeBoolean}, "1", true, false},
		{"field", Binding{Type: state.TypeNumber, Field: "a.b"}, `{"a":{"b":3}}`, 3.0, false},
		{"missing field", Binding{Type: state.TypeNumber, Field: "a.c"}, `{"a":{"b":3}}`, nil, true},
		{"field on text", Binding{Field: "a"}, "hello", nil, true},
		{"string from json", Binding{Type: state.TypeString}, `{"x":1}`, `{"x":1}`, false},
		{"any text", Binding{}, "hello", "hello", false},
		{"bad number", Binding{Type: state.TypeNumber}, "warm", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.binding.Value([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBindings_UpdateState(t *testing.T) {
	_, host, client := setup(t)

	assert.Equal(t, []string{"stage/climate/+", "stage/door", "stage/title"}, client.filters())

	client.deliver(t, "stage/door", "on")
	client.deliver(t, "stage/climate/hall", `{"readings":{"celsius":19.5}}`)
	client.deliver(t, "stage/title", "Act II")
	client.deliver(t, "stage/climate/hall", `not json`)

	v, _ := host.GetState("door_open")
	assert.Equal(t, true, v)
	v, _ = host.GetState("temperature")
	assert.Equal(t, 19.5, v)
	v, _ = host.GetState("title")
	assert.Equal(t, "Act II", v)
	assert.Empty(t, host.Raised(), "no profile maps mqtt.message")
}

// ─── Message trigger ────────────────────────────────────────────────────────

func TestOnProfilesChanged_FollowsActiveProfiles(t *testing.T) {
	p, host, client := setup(t)

	p.OnProfilesChanged([]profile.Profile{messageProfile("show", "cues/#", "stage/door")}, nil)
	require.Eventually(t, hasFilter(client, "cues/#"), waitFor, tick)

	client.deliver(t, "cues/go", "42")
	client.deliver(t, "stage/door", "off")

	raised := host.Raised()
	require.Len(t, raised, 2)
	assert.Equal(t, map[string]any{"topic": "cues/go", "payload": "42"}, raised[0].Values)
	assert.Equal(t, "stage/door", raised[1].Values["topic"])

	p.OnProfilesChanged(nil, []profile.Profile{messageProfile("show", "cues/#")})
	require.Eventually(t, func() bool { return !hasFilter(client, "cues/#")() }, waitFor, tick)
	assert.Contains(t, client.filters(), "stage/door", "bindings stay subscribed")
	assert.Equal(t, []string{"stage/climate/+", "stage/door", "stage/title"}, p.Subscriptions())
}

func TestSync_RetriesFailedSubscriptions(t *testing.T) {
	p, _, client := setup(t)
	client.mu.Lock()
	client.failSub["cues/#"] = true
	client.mu.Unlock()

	p.OnProfilesChanged([]profile.Profile{messageProfile("show", "cues/#")}, nil)
	// A second change is needed to retry, so the first attempt must settle.
	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, p.Subscriptions(), "cues/#")

	client.mu.Lock()
	client.failSub["cues/#"] = false
	client.mu.Unlock()

	p.OnProfilesChanged([]profile.Profile{messageProfile("show", "cues/#")}, nil)
	require.Eventually(t, func() bool {
		for _, f := range p.Subscriptions() {
			if f == "cues/#" {
				return true
			}
		}
		return false
	}, waitFor, tick)
}

func TestOnProfilesChanged_DoesNotWaitForBroker(t *testing.T) {
	p, _, client := setup(t)
	hold := make(chan struct{})
	client.mu.Lock()
	client.hold = hold
	client.mu.Unlock()

	returned := make(chan struct{})
	go func() {
		p.OnProfilesChanged([]profile.Profile{messageProfile("show", "cues/#")}, nil)
		p.OnProfilesChanged([]profile.Profile{messageProfile("show", "cues/#", "house/#")}, nil)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(waitFor):
		t.Fatal("OnProfilesChanged blocked on a slow broker")
	}

	close(hold)
	require.Eventually(t, hasFilter(client, "cues/#"), waitFor, tick)
	require.Eventually(t, hasFilter(client, "house/#"), waitFor, tick)
}

func TestMatchMessage(t *testing.T) {
	ac := automation.NewContext(map[string]any{"topic": "cues/act1/go", "payload": ""}, nil)

	ok, err := matchMessage(context.Background(), map[string]any{"topic": "cues/+/go"}, ac, plugin.Mapping{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = matchMessage(context.Background(), map[string]any{"topic": "cues/act2/#"}, ac, plugin.Mapping{})
	require.NoError(t, err)
	assert.False(t, ok)
}

// ─── Publish ────────────────────────────────────────────────────────────────

func TestPublish(t *testing.T) {
	p, _, client := setup(t)
	ac := automation.NewContext(map[string]any{"cue": 12}, nil)

	require.NoError(t, p.publish(context.Background(), map[string]any{
		"topic":   "lights/{{ cue }}",
		"payload": "go {{ cue + 1 }}",
	}, ac))
	require.NoError(t, p.publish(context.Background(), map[string]any{
		"topic":   "lights/state",
		"payload": map[string]any{"cue": "{{ cue }}"},
		"qos":     2,
		"retain":  true,
	}, ac))

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.published, 2)
	assert.Equal(t, publishedMsg{"lights/12", "go 13", 1, false}, client.published[0])
	assert.Equal(t, publishedMsg{"lights/state", `{"cue":"12"}`, 2, true}, client.published[1])
}

func TestPublish_RejectsQoSOutOfRange(t *testing.T) {
	p, _, client := setup(t)
	ac := automation.NewContext(nil, nil)

	for _, qos := range []int{-1, 3, 256} {
		err := p.publish(context.Background(), map[string]any{"topic": "a", "payload": "b", "qos": qos}, ac)
		assert.ErrorIs(t, err, mqtt.ErrInvalidQoS, "qos %d", qos)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Empty(t, client.published)
}

func TestPublish_WithoutClient(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	err = p.publish(context.Background(), map[string]any{"topic": "a", "payload": "b"}, automation.NewContext(nil, nil))
	assert.True(t, errors.Is(err, ErrNotInitialised))
}

func TestManifest_Registers(t *testing.T) {
	p, err := New(Config{Bindings: append(testBindings, Binding{Topic: "other/door", Key: "door_open", Type: state.TypeBoolean})})
	require.NoError(t, err)

	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(p))
	m, _ := reg.Manifest(Name)
	assert.Len(t, m.State, 3, "duplicate keys define one cell")

	assert.Error(t, reg.ValidateTriggerConfig(Name, TriggerMessage, map[string]any{}))
	assert.NoError(t, reg.ValidateActionData(Name, "publish", map[string]any{"topic": "a", "payload": 1}))
}
