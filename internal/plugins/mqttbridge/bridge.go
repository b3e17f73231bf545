package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/infrastructure/mqtt"
	"github.com/nerrad567/cuebox/internal/plugin"
	"github.com/nerrad567/cuebox/internal/profile"
	"github.com/nerrad567/cuebox/internal/state"
)

// Name is the plugin's namespace.
const Name = "mqtt"

// TriggerMessage is raised for messages on mapped topics.
const TriggerMessage = "message"

const (
	messageConfigSchema = `{
  "type": "object",
  "required": ["topic"],
  "properties": {"topic": {"type": "string", "minLength": 1}}
}`
	messageContextSchema = `{
  "type": "object",
  "required": ["topic", "payload"],
  "properties": {"topic": {"type": "string"}, "payload": {"type": "string"}}
}`
	publishSchema = `{
  "type": "object",
  "required": ["topic", "payload"],
  "properties": {
    "topic": {"type": "string", "minLength": 1},
    "qos": {"type": "integer", "minimum": 0, "maximum": 2},
    "retain": {"type": "boolean"}
  }
}`
)

// Client is the MQTT connection the bridge uses. *mqtt.Client implements it.
type Client interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Config configures the bridge.
type Config struct {
	Client   Client
	QoS      byte
	Bindings []Binding
}

// Plugin bridges MQTT topics to state, triggers and actions.
type Plugin struct {
	client   Client
	qos      byte
	bindings []Binding

	// kick wakes the reconcile goroutine. Profile changes arrive on the
	// recombination pass and must not wait on the broker.
	kick chan struct{}
	done chan struct{}

	mu       sync.Mutex
	host     plugin.Host
	ctx      context.Context
	cancel   context.CancelFunc
	messages map[string]bool // filters mapped by active profiles
	subs     map[string]bool // filters subscribed on the broker
}

// New creates the bridge. Invalid bindings are rejected.
func New(cfg Config) (*Plugin, error) {
	for i, b := range cfg.Bindings {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("binding[%d]: %w", i, err)
		}
	}
	return &Plugin{
		client:   cfg.Client,
		qos:      cfg.QoS,
		bindings: cfg.Bindings,
		kick:     make(chan struct{}, 1),
		messages: make(map[string]bool),
		subs:     make(map[string]bool),
	}, nil
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Manifest() plugin.Manifest {
	seen := make(map[string]bool, len(p.bindings))
	specs := make([]state.Spec, 0, len(p.bindings))
	for _, b := range p.bindings {
		if seen[b.Key] {
			continue
		}
		seen[b.Key] = true
		specs = append(specs, state.Spec{Key: b.Key, Type: b.Type})
	}

	return plugin.Manifest{
		Description: "MQTT broker bridge",
		State:       specs,
		Actions: []plugin.ActionDef{{
			ID:          "publish",
			Description: "Publish a message",
			DataSchema:  publishSchema,
			Handler:     automation.ActionFunc(p.publish),
		}},
		Triggers: []plugin.TriggerDef{{
			ID:            TriggerMessage,
			Description:   "Raised for each message on a mapped topic",
			ConfigSchema:  messageConfigSchema,
			ContextSchema: messageContextSchema,
			Handler:       plugin.TriggerFunc(matchMessage),
		}},
	}
}

// Init subscribes to every bound topic, then starts the goroutine that
// follows profile changes. A failed subscription is logged and retried on
// the next profile change.
func (p *Plugin) Init(ctx context.Context, host plugin.Host) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.mu.Lock()
	p.host = host
	p.ctx = ctx
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	p.sync()
	go p.reconcile(ctx, done)
	return nil
}

// reconcile re-syncs subscriptions each time it is kicked.
func (p *Plugin) reconcile(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			p.sync()
		}
	}
}

// OnProfilesChanged implements profile.ChangeHook: it subscribes to the
// topics the active profiles map mqtt.message to.
func (p *Plugin) OnProfilesChanged(active, _ []profile.Profile) {
	filters := make(map[string]bool)
	for _, prof := range active {
		for _, m := range prof.Triggers.Mappings(Name, TriggerMessage) {
			var cfg messageConfig
			if err := automation.DecodeData(m.Config, &cfg); err != nil || cfg.Topic == "" {
				continue
			}
			filters[cfg.Topic] = true
		}
	}

	p.mu.Lock()
	p.messages = filters
	p.mu.Unlock()

	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// wanted returns every filter that needs a broker subscription.
func (p *Plugin) wanted() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]bool, len(p.bindings)+len(p.messages))
	for _, b := range p.bindings {
		out[b.Topic] = true
	}
	for f := range p.messages {
		out[f] = true
	}
	return out
}

// sync brings the broker subscriptions in line with wanted.
func (p *Plugin) sync() {
	p.mu.Lock()
	host := p.host
	p.mu.Unlock()
	if host == nil || p.client == nil {
		return
	}
	log := host.Logger()
	want := p.wanted()

	for _, filter := range sortedKeys(want) {
		if p.subscribed(filter) {
			continue
		}
		if err := p.client.Subscribe(filter, p.qos, p.handle); err != nil {
			log.Warn("mqtt subscribe failed", "topic", filter, "error", err)
			continue
		}
		p.setSubscribed(filter, true)
		log.Debug("mqtt subscribed", "topic", filter)
	}

	p.mu.Lock()
	var stale []string
	for filter := range p.subs {
		if !want[filter] {
			stale = append(stale, filter)
		}
	}
	p.mu.Unlock()

	for _, filter := range stale {
		if err := p.client.Unsubscribe(filter); err != nil {
			log.Warn("mqtt unsubscribe failed", "topic", filter, "error", err)
		}
		p.setSubscribed(filter, false)
	}
}

func (p *Plugin) subscribed(filter string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs[filter]
}

func (p *Plugin) setSubscribed(filter string, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.subs[filter] = true
	} else {
		delete(p.subs, filter)
	}
}

// Subscriptions returns the filters currently subscribed, sorted.
func (p *Plugin) Subscriptions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedKeys(p.subs)
}

// handle routes one message to the bindings and the message trigger.
func (p *Plugin) handle(topic string, payload []byte) error {
	p.mu.Lock()
	host, ctx := p.host, p.ctx
	raise := false
	for f := range p.messages {
		if mqtt.Match(f, topic) {
			raise = true
			break
		}
	}
	p.mu.Unlock()
	if host == nil {
		return ErrNotInitialised
	}

	for _, b := range p.bindings {
		if !mqtt.Match(b.Topic, topic) {
			continue
		}
		v, err := b.Value(payload)
		if err != nil {
			host.Logger().Warn("mqtt binding rejected payload", "topic", topic, "key", b.Key, "error", err)
			continue
		}
		if err := host.SetState(b.Key, v); err != nil {
			host.Logger().Warn("mqtt binding state update failed", "topic", topic, "key", b.Key, "error", err)
		}
	}

	if raise {
		host.Trigger(ctx, TriggerMessage, map[string]any{"topic": topic, "payload": string(payload)})
	}
	return nil
}

// Close stops the reconcile goroutine and unsubscribes from every topic.
func (p *Plugin) Close() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.mu.Lock()
	filters := sortedKeys(p.subs)
	p.subs = make(map[string]bool)
	p.mu.Unlock()

	if p.client != nil {
		for _, f := range filters {
			_ = p.client.Unsubscribe(f)
		}
	}
	return nil
}

// ─── Trigger & Action ───────────────────────────────────────────────────────

type messageConfig struct {
	Topic string `json:"topic"`
}

func matchMessage(_ context.Context, config any, ac *automation.Context, _ plugin.Mapping, _ ...any) (bool, error) {
	var cfg messageConfig
	if err := automation.DecodeData(config, &cfg); err != nil {
		return false, err
	}
	topic, _ := ac.Value("topic")
	s, _ := topic.(string)
	return mqtt.Match(cfg.Topic, s), nil
}

type publishData struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
	QoS     *int   `json:"qos"`
	Retain  bool   `json:"retain"`
}

func (p *Plugin) publish(_ context.Context, data any, ac *automation.Context) error {
	if p.client == nil {
		return ErrNotInitialised
	}
	var d publishData
	if err := automation.DecodeData(data, &d); err != nil {
		return err
	}
	topic, err := ac.String(d.Topic)
	if err != nil {
		return err
	}

	var payload []byte
	switch v := d.Payload.(type) {
	case string:
		s, err := ac.String(v)
		if err != nil {
			return err
		}
		payload = []byte(s)
	default:
		rendered, err := ac.Render(v)
		if err != nil {
			return err
		}
		if payload, err = json.Marshal(rendered); err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}
	}

	qos := p.qos
	if d.QoS != nil {
		if *d.QoS < 0 || *d.QoS > 2 {
			return fmt.Errorf("%w: %d", mqtt.ErrInvalidQoS, *d.QoS)
		}
		qos = byte(*d.QoS)
	}
	return p.client.Publish(topic, payload, qos, d.Retain)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
