package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig describes how often and how patiently a call is retried.
type RetryConfig struct {
	MaxAttempts    int           // total attempts, first one included
	InitialBackoff time.Duration // wait before the second attempt
	MaxBackoff     time.Duration // upper bound for any single wait

	// JitterFraction spreads each wait over [d*(1-f), d*(1+f)].
	JitterFraction float64

	// ShouldRetry decides whether err is worth another attempt.
	// Nil means IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry runs before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig is three attempts, 500ms doubling to at most 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.25,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts < 1 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(def.MaxBackoff, c.InitialBackoff)
	}
	c.JitterFraction = min(max(c.JitterFraction, 0), 1)
	if c.ShouldRetry == nil {
		c.ShouldRetry = IsTransient
	}
	return c
}

// wait returns the delay before attempt n+1 (n counts from 1).
func (c RetryConfig) wait(n int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < n && d < c.MaxBackoff; i++ {
		d *= 2
	}
	d = min(d, c.MaxBackoff)
	if c.JitterFraction == 0 {
		return d
	}
	spread := float64(d) * c.JitterFraction
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

// DoVal calls fn until it succeeds, fails with an error ShouldRetry rejects,
// runs out of attempts or ctx ends. The last error from fn is returned as is.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()

	var (
		val T
		err error
	)
	for n := 1; ; n++ {
		val, err = fn(ctx)
		if err == nil || n >= cfg.MaxAttempts || ctx.Err() != nil || !cfg.ShouldRetry(err) {
			return val, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(n, err)
		}
		if !sleep(ctx, cfg.wait(n)) {
			return val, err
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryLogger returns an OnRetry hook that logs a warning naming the
// remote service and the call being retried.
func RetryLogger(service, operation string) func(int, error) {
	log := zap.L().With(zap.String("service", service), zap.String("operation", operation))
	return func(attempt int, err error) {
		log.Warn("retrying after transient failure", zap.Int("attempt", attempt), zap.Error(err))
	}
}
