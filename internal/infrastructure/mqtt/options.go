package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/cuebox/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	defaultRetryDelay        = time.Second

	maxQoS         = 2
	maxPayloadSize = 1 << 20
	tlsMinVersion  = tls.VersionTLS12
)

// Values of the retained <prefix>/system/status message.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// buildClientOptions maps the mqtt config section onto paho options.
// Connect retries the first connection itself, so paho's connect retry
// stays off; after that paho reconnects with backoff up to MaxDelay.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// configureLWT has the broker publish a retained offline status when
// cuebox drops without closing.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetBinaryWill(topics.SystemStatus(), statusPayload(clientID, statusOffline, reasonUnexpected), 1, true)
}

// retryDelay is the wait after the given failed attempt (1-based): the
// initial delay doubled per attempt, capped at the max delay.
func retryDelay(rc config.MQTTReconnectConfig, attempt int) time.Duration {
	delay := time.Duration(rc.InitialDelay) * time.Second
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	ceiling := time.Duration(rc.MaxDelay) * time.Second
	if ceiling < delay {
		ceiling = delay
	}
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	return min(delay, ceiling)
}

type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	b, _ := json.Marshal(statusMessage{ //nolint:errcheck // plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}
