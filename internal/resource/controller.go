package resource

import (
	"context"
	"io"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds transfer limits. Zero values mean unlimited.
type Config struct {
	// MaxInFlight bounds concurrent uploads.
	MaxInFlight int64

	// IOLimitBytesPerSec caps upload throughput.
	IOLimitBytesPerSec int64

	// OpsPerSec caps metadata operations such as garbage collector deletes.
	OpsPerSec float64
}

// Controller throttles remote transfers.
type Controller struct {
	cfg Config

	inflight  *semaphore.Weighted // nil if unlimited
	ioLimiter *rate.Limiter
	opLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.MaxInFlight > 0 {
		c.inflight = semaphore.NewWeighted(cfg.MaxInFlight)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	if cfg.OpsPerSec > 0 {
		burst := int(cfg.OpsPerSec)
		if burst < 1 {
			burst = 1
		}
		c.opLimiter = rate.NewLimiter(rate.Limit(cfg.OpsPerSec), burst)
	}

	return c
}

// Config returns the limits the controller was built with.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// Acquire reserves an upload slot, blocking while all slots are busy.
func (c *Controller) Acquire(ctx context.Context) error {
	if c == nil || c.inflight == nil {
		return nil
	}
	return c.inflight.Acquire(ctx, 1)
}

// TryAcquire reserves an upload slot without blocking.
func (c *Controller) TryAcquire() bool {
	if c == nil || c.inflight == nil {
		return true
	}
	return c.inflight.TryAcquire(1)
}

// Release returns an upload slot.
func (c *Controller) Release() {
	if c == nil || c.inflight == nil {
		return
	}
	c.inflight.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// AcquireOp waits for one metadata operation token.
func (c *Controller) AcquireOp(ctx context.Context) error {
	if c == nil || c.opLimiter == nil {
		return nil
	}
	return c.opLimiter.Wait(ctx)
}

// Reader wraps r so that every read is charged against the IO limit.
func (c *Controller) Reader(ctx context.Context, r io.Reader) io.Reader {
	if c == nil || c.ioLimiter == nil {
		return r
	}
	return &rateLimitedReader{ctx: ctx, r: r, c: c}
}

type rateLimitedReader struct {
	ctx context.Context
	r   io.Reader
	c   *Controller
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := rl.r.Read(p)
	if n > 0 {
		if werr := rl.c.AcquireIO(rl.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
