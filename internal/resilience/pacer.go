package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Pacer spaces out requests to a courteous rate: at most one request per
// interval, plus a random delay of up to jitter. It is safe for concurrent use,
// so one Pacer shared by a worker pool bounds the rate of the whole pool.
type Pacer struct {
	limiter *rate.Limiter
	jitter  time.Duration
}

// NewPacer creates a Pacer. A zero interval disables the rate limit and a
// zero jitter disables the random delay.
func NewPacer(interval, jitter time.Duration) *Pacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1), jitter: jitter}
}

// Wait blocks until the next request may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "pacer: wait")
	}
	if p.jitter <= 0 {
		return nil
	}

	t := time.NewTimer(time.Duration(rand.Int64N(int64(p.jitter) + 1)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "pacer: wait")
	case <-t.C:
		return nil
	}
}
