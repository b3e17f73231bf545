// Package clock implements the "clock" plugin: wall-clock state cells and a
// trigger raised once per minute.
//
// State:
//
//	clock.hour     number   0-23
//	clock.minute   number   0-59
//	clock.weekday  string   "monday" … "sunday"
//
// Trigger clock.minute carries {hour, minute, weekday}. A mapping config
// {hour?, minute?} restricts it to matching times; an empty config matches
// every minute.
package clock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/plugin"
	"github.com/nerrad567/cuebox/internal/state"
)

// Name is the plugin's namespace.
const Name = "clock"

// TriggerMinute is raised when the wall-clock minute changes.
const TriggerMinute = "minute"

// DefaultInterval is how often the clock is sampled.
const DefaultInterval = 15 * time.Second

const minuteConfigSchema = `{
  "type": "object",
  "properties": {
    "hour": {"type": "integer", "minimum": 0, "maximum": 23},
    "minute": {"type": "integer", "minimum": 0, "maximum": 59}
  }
}`

const minuteContextSchema = `{
  "type": "object",
  "required": ["hour", "minute", "weekday"]
}`

// Config configures the clock plugin.
type Config struct {
	// Interval is the sampling period. Defaults to DefaultInterval.
	Interval time.Duration

	// Location is the time zone. Defaults to time.Local.
	Location *time.Location

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Plugin samples the clock.
type Plugin struct {
	cfg Config

	mu     sync.Mutex
	host   plugin.Host
	last   time.Time // minute of the last raised trigger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the clock plugin.
func New(cfg Config) *Plugin {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Plugin{cfg: cfg}
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Description: "Wall-clock time",
		State: []state.Spec{
			{Key: "hour", Type: state.TypeNumber},
			{Key: "minute", Type: state.TypeNumber},
			{Key: "weekday", Type: state.TypeString},
		},
		Triggers: []plugin.TriggerDef{{
			ID:            TriggerMinute,
			Description:   "Raised once per minute",
			ConfigSchema:  minuteConfigSchema,
			ContextSchema: minuteContextSchema,
			Handler:       plugin.TriggerFunc(matchMinute),
		}},
	}
}

// Init publishes the current time and starts sampling until ctx is
// cancelled or Close is called.
func (p *Plugin) Init(ctx context.Context, host plugin.Host) error {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.host = host
	p.cancel = cancel
	p.last = p.cfg.Now().In(p.cfg.Location).Truncate(time.Minute)
	p.mu.Unlock()

	if err := p.publish(p.cfg.Now()); err != nil {
		cancel()
		return err
	}

	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

func (p *Plugin) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx, p.cfg.Now())
		}
	}
}

// Tick updates the state cells from now and raises clock.minute when the
// minute has changed since the last raise.
func (p *Plugin) Tick(ctx context.Context, now time.Time) {
	if err := p.publish(now); err != nil {
		p.logger().Warn("updating clock state failed", "error", err)
	}

	now = now.In(p.cfg.Location)
	minute := now.Truncate(time.Minute)

	p.mu.Lock()
	host := p.host
	fire := host != nil && !minute.Equal(p.last)
	if fire {
		p.last = minute
	}
	p.mu.Unlock()

	if fire {
		host.Trigger(ctx, TriggerMinute, values(now))
	}
}

func (p *Plugin) publish(now time.Time) error {
	p.mu.Lock()
	host := p.host
	p.mu.Unlock()
	if host == nil {
		return nil
	}

	now = now.In(p.cfg.Location)
	for key, v := range values(now) {
		if err := host.SetState(key, v); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plugin) logger() plugin.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.host == nil {
		return nopLogger{}
	}
	return p.host.Logger()
}

// Close stops sampling.
func (p *Plugin) Close() error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}

func values(t time.Time) map[string]any {
	return map[string]any{
		"hour":    t.Hour(),
		"minute":  t.Minute(),
		"weekday": strings.ToLower(t.Weekday().String()),
	}
}

type minuteConfig struct {
	Hour   *int `json:"hour"`
	Minute *int `json:"minute"`
}

// matchMinute keeps mappings whose hour and minute filters match the
// raised time.
func matchMinute(_ context.Context, config any, ac *automation.Context, _ plugin.Mapping, _ ...any) (bool, error) {
	if config == nil {
		return true, nil
	}
	var cfg minuteConfig
	if err := automation.DecodeData(config, &cfg); err != nil {
		return false, err
	}
	return fieldMatches(ac, "hour", cfg.Hour) && fieldMatches(ac, "minute", cfg.Minute), nil
}

func fieldMatches(ac *automation.Context, key string, want *int) bool {
	if want == nil {
		return true
	}
	v, ok := ac.Value(key)
	if !ok {
		return false
	}
	f, ok := state.ToFloat(v)
	return ok && int(f) == *want
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
