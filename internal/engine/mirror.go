package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/infrastructure/mqtt"
	"github.com/nerrad567/cuebox/internal/profile"
	"github.com/nerrad567/cuebox/internal/state"
)

// mirrorBuffer is the number of pending MQTT messages before the Mirror
// starts dropping.
const mirrorBuffer = 256

// Publisher sends MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

type mirrorMessage struct {
	topic    string
	payload  []byte
	retained bool
}

// Mirror republishes engine events on MQTT:
//
//	<prefix>/state/<plugin>/<key>         retained JSON value
//	<prefix>/profiles/status              retained {"active":[...],"inactive":[...]}
//	<prefix>/automation/<name>/finished   run record
//
// Broadcast never blocks: messages are handed to a single publishing
// goroutine and dropped with a warning when it falls behind.
type Mirror struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
	logger Logger

	queue chan mirrorMessage
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewMirror creates a Mirror and starts its publishing goroutine.
func NewMirror(pub Publisher, topics mqtt.Topics, qos byte, logger Logger) *Mirror {
	if logger == nil {
		logger = noopLogger{}
	}
	m := &Mirror{
		pub:    pub,
		topics: topics,
		qos:    qos,
		logger: logger,
		queue:  make(chan mirrorMessage, mirrorBuffer),
		stop:   make(chan struct{}),
	}
	m.wg.Add(1)
	go m.loop()
	return m
}

// Broadcast implements Observer.
func (m *Mirror) Broadcast(channel string, payload any) {
	var msg mirrorMessage
	switch p := payload.(type) {
	case state.Change:
		msg = mirrorMessage{topic: m.topics.State(p.Plugin, p.Key), retained: true}
		payload = p.New
	case profile.Status:
		msg = mirrorMessage{topic: m.topics.ProfilesChanged(), retained: true}
	case automation.Run:
		msg = mirrorMessage{topic: m.topics.AutomationFinished(nameOrInline(p.Automation))}
	default:
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Warn("encoding mirrored event failed", "channel", channel, "error", err)
		return
	}
	msg.payload = data

	select {
	case <-m.stop:
	case m.queue <- msg:
	default:
		m.logger.Warn("mqtt mirror full, dropping event", "topic", msg.topic)
	}
}

func (m *Mirror) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case msg := <-m.queue:
			if err := m.pub.Publish(msg.topic, msg.payload, m.qos, msg.retained); err != nil {
				m.logger.Warn("mqtt mirror publish failed", "topic", msg.topic, "error", err)
			}
		}
	}
}

// Close stops the publishing goroutine. Pending messages are discarded.
func (m *Mirror) Close() {
	m.once.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}

func nameOrInline(name string) string {
	if name == "" {
		return "inline"
	}
	return name
}

// ─── Telemetry ──────────────────────────────────────────────────────────────

// TelemetryWriter records time-series points. *influxdb.Client implements it.
type TelemetryWriter interface {
	WriteStateChange(plugin, key string, value any) bool
	WriteAutomationRun(automation, status string, duration time.Duration, completed, failed, skipped int)
}

// Telemetry writes state changes and finished runs to a TelemetryWriter.
// Writes are batched by the writer, so Broadcast does not block.
type Telemetry struct {
	w TelemetryWriter
}

// NewTelemetry creates a Telemetry observer.
func NewTelemetry(w TelemetryWriter) *Telemetry {
	return &Telemetry{w: w}
}

// Broadcast implements Observer.
func (t *Telemetry) Broadcast(_ string, payload any) {
	switch p := payload.(type) {
	case state.Change:
		t.w.WriteStateChange(p.Plugin, p.Key, p.New)
	case automation.Run:
		var d time.Duration
		if p.DurationMS != nil {
			d = time.Duration(*p.DurationMS) * time.Millisecond
		}
		t.w.WriteAutomationRun(nameOrInline(p.Automation), string(p.Status), d,
			p.ActionsCompleted, p.ActionsFailed, p.ActionsSkipped)
	}
}
