package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/cuebox/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client writes cuebox telemetry to one InfluxDB v2 bucket. Writes are
// batched and never block; batch failures reach the SetOnError callback.
// A zero Client is closed and drops every write.
type Client struct {
	influx influxdb2.Client
	writes api.WriteAPI

	mu      sync.RWMutex
	open    bool
	onError func(err error)
}

// Connect creates the client and pings the server.
//
// Parameters:
//   - ctx: Bounds the initial ping together with an internal timeout
//   - cfg: The influxdb section of config.yaml
//   - site: Added as a "site" tag to every point (skipped when empty)
//
// Returns:
//   - *Client: Ready for writes
//   - error: ErrDisabled, or ErrConnectionFailed if the ping fails
func Connect(ctx context.Context, cfg config.InfluxDBConfig, site string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg, site))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		influx: influx,
		writes: influx.WriteAPI(cfg.Org, cfg.Bucket),
		open:   true,
	}
	go c.forwardErrors(c.writes.Errors())
	return c, nil
}

// clientOptions applies the batch settings, falling back to the defaults
// for values that are not positive.
func clientOptions(cfg config.InfluxDBConfig, site string) *influxdb2.Options {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).                   // #nosec G115 -- positive
		SetFlushInterval(uint(flush.Milliseconds())) // #nosec G115 -- positive
	if site != "" {
		opts.AddDefaultTag("site", site)
	}
	return opts
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	ok, err := influx.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("server not ready")
	}
	return nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets the callback for failed batch writes.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// IsConnected reports whether the client accepts writes.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// Flush sends the buffered points now. It is a no-op once closed.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writes.Flush()
	}
}

// Close flushes the buffered points and releases the client. Later writes
// are dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	if wasOpen {
		c.writes.Flush()
		c.influx.Close()
	}
	return nil
}
