package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/domotic-core/internal/infrastructure/config"
)

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps the ping failure of Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize       = 100
	defaultFlushIntervalMS = 10_000
)

// pointWriter is the subset of api.WriteAPI the client uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Option configures Connect.
type Option func(*influxdb2.Options)

// WithSiteTag adds site=<id> to every point, so several homes can share a
// bucket.
func WithSiteTag(id string) Option {
	return func(o *influxdb2.Options) {
		if id != "" {
			o.AddDefaultTag("site", id)
		}
	}
}

// Client records outlet history: temperature readings, device state changes
// and notable events. Writes never block; they are batched by the library
// and failures arrive asynchronously.
type Client struct {
	client influxdb2.Client
	writer pointWriter

	closed atomic.Bool
	failed atomic.Uint64

	mu      sync.RWMutex
	onError func(err error)
}

// Connect pings the server and prepares the batched write API for
// cfg.Org/cfg.Bucket. It returns ErrDisabled when history is turned off.
//
// Parameters:
//   - ctx: Bounds the initial ping
//   - cfg: InfluxDB configuration from config.yaml
//   - opts: Optional write-client overrides such as WithSiteTag
//
// Returns:
//   - *Client: Client with a running batched writer; call Close when done
//   - error: ErrDisabled, or the ping failure
func Connect(ctx context.Context, cfg config.InfluxDBConfig, opts ...Option) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := uint(defaultFlushIntervalMS)
	if cfg.FlushInterval > 0 {
		flush = uint(cfg.FlushInterval) * uint(time.Second/time.Millisecond)
	}

	options := influxdb2.DefaultOptions().SetBatchSize(batch).SetFlushInterval(flush)
	for _, opt := range opts {
		opt(options)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	api := client.WriteAPI(cfg.Org, cfg.Bucket)
	c := &Client{client: client, writer: api}
	go c.drainErrors(api.Errors())
	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ok, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("server not healthy")
	}
	return nil
}

// drainErrors counts failed batches and forwards them to the callback.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError sets the callback for failed batches.
func (c *Client) SetOnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// FailedWrites returns how many batches the server rejected or never got.
func (c *Client) FailedWrites() uint64 {
	return c.failed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() || c.client == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush sends pending points now. It does nothing after Close.
func (c *Client) Flush() {
	if c.closed.Load() {
		return
	}
	c.writer.Flush()
}

// Close flushes pending points and releases the client. Later writes are
// discarded. It is safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writer.Flush()
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

func (c *Client) writePoint(p *write.Point) {
	if c.closed.Load() {
		return
	}
	c.writer.WritePoint(p)
}
