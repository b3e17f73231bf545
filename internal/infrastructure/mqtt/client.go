package mqtt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/cuebox/internal/infrastructure/config"
)

// Logger is the logging the client needs. *logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MessageHandler receives one message. Paho calls handlers on its own
// goroutines, so they must not block for long. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is a broker connection shared by the mqtt plugin and the state
// mirror. It is safe for concurrent use. Subscriptions survive reconnects.
type Client struct {
	cfg    config.MQTTConfig
	topics Topics
	paho   pahomqtt.Client
	logger Logger

	mu           sync.Mutex
	connected    bool
	connects     int
	subs         map[string]subscription
	onReconnect  func()
	onDisconnect func(err error)
}

// Connect dials the broker and publishes the retained online status.
//
// The first connection is retried with doubling delays between
// cfg.Reconnect.InitialDelay and MaxDelay. MaxAttempts bounds the
// attempts; zero retries until ctx is done. Once connected, paho
// reconnects on its own.
//
// Parameters:
//   - ctx: Context bounding the initial connection
//   - cfg: The mqtt section of config.yaml
//   - logger: Receives retry and handler failures (nil discards them)
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed once the attempts run out or ctx is done
func Connect(ctx context.Context, cfg config.MQTTConfig, logger Logger) (*Client, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Client{
		cfg:    cfg,
		topics: NewTopics(cfg.TopicPrefix),
		logger: logger,
		subs:   make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })
	c.paho = pahomqtt.NewClient(opts)

	for attempt := 1; ; attempt++ {
		err := await(ctx, c.paho.Connect(), defaultConnectTimeout)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		}
		if limit := cfg.Reconnect.MaxAttempts; limit > 0 && attempt >= limit {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnectionFailed, attempt, err)
		}

		delay := retryDelay(cfg.Reconnect, attempt)
		logger.Warn("MQTT connect failed, retrying",
			"broker", brokerURL(cfg.Broker),
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		case <-time.After(delay):
		}
	}

	// The connect handler runs asynchronously; mark the state now so the
	// caller can subscribe straight away.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return c, nil
}

// handleConnect runs on every successful connection, the first included.
func (c *Client) handleConnect() {
	c.mu.Lock()
	c.connected = true
	c.connects++
	reconnect := c.connects > 1
	subs := make(map[string]subscription, len(c.subs))
	for filter, s := range c.subs {
		subs[filter] = s
	}
	callback := c.onReconnect
	c.mu.Unlock()

	// Sessions are clean, so the broker forgot our subscriptions.
	for filter, s := range subs {
		c.paho.Subscribe(filter, s.qos, c.wrapHandler(s.handler))
	}
	c.paho.Publish(c.topics.SystemStatus(), c.QoS(), true,
		statusPayload(c.cfg.Broker.ClientID, statusOnline, ""))

	if reconnect && callback != nil {
		callback()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// Close publishes the graceful offline status and disconnects. Closing a
// client that never connected is a no-op.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.paho.Publish(c.topics.SystemStatus(), c.QoS(), true,
			statusPayload(c.cfg.Broker.ClientID, statusOffline, reasonShutdown))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.paho != nil && c.paho.IsConnected()
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

// Subscriptions returns the tracked filters, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for filter := range c.subs {
		out = append(out, filter)
	}
	sort.Strings(out)
	return out
}

// SetOnReconnect sets a callback run after each automatic reconnect.
func (c *Client) SetOnReconnect(callback func()) {
	c.mu.Lock()
	c.onReconnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// wrapHandler adapts handler to paho, logging its errors and recovering
// its panics so one bad message cannot take the client down.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}

// await waits for token, the timeout or ctx, whichever comes first.
func await(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
