package fetcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Throttle paces requests to one host. An adaptive throttle also reacts to
// the host's answers: each 429 halves its rate (never below a quarter of
// the starting rate) and each success raises it by a fifth (never above
// double).
type Throttle struct {
	host     string
	limiter  *rate.Limiter
	adaptive bool
	floor    rate.Limit
	ceiling  rate.Limit

	mu sync.Mutex
}

// NewThrottle returns a fixed-rate throttle of perSecond requests with the
// given burst.
func NewThrottle(perSecond float64, burst int) *Throttle {
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))}
}

// NewAdaptiveThrottle returns a throttle that starts at perSecond and
// adjusts to the host's throttling.
func NewAdaptiveThrottle(perSecond float64, burst int) *Throttle {
	t := NewThrottle(perSecond, burst)
	t.adaptive = true
	t.floor = rate.Limit(perSecond / 4)
	t.ceiling = rate.Limit(perSecond * 2)
	return t
}

// Wait blocks until a request may be sent or ctx ends.
func (t *Throttle) Wait(ctx context.Context) error { return t.limiter.Wait(ctx) }

// Rate is the current requests-per-second limit.
func (t *Throttle) Rate() float64 { return float64(t.limiter.Limit()) }

// observe adjusts an adaptive throttle to a response status.
func (t *Throttle) observe(status int) {
	if !t.adaptive {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.limiter.Limit()
	next := cur
	switch {
	case status == 429:
		next = max(cur/2, t.floor)
	case status >= 200 && status < 300:
		next = min(cur*1.2, t.ceiling)
	}
	if next == cur {
		return
	}
	t.limiter.SetLimit(next)
	if next < cur {
		zap.L().Warn("fetcher: host is throttling, slowing down",
			zap.String("host", t.host),
			zap.Float64("rate", float64(next)),
		)
	}
}

// Hosts of the Boletín Oficial and the procurement portal with the rates
// they tolerate. The PDF archive answers bursts with 429s, so it adapts.
func defaultThrottles() map[string]*Throttle {
	return map[string]*Throttle{
		"api-restboletinoficial.buenosaires.gob.ar":   NewThrottle(2, 2),
		"documentosboletinoficial.buenosaires.gob.ar": NewAdaptiveThrottle(5, 5),
		"www.buenosairescompras.gob.ar":               NewThrottle(2, 1),
	}
}

// fallbackRate applies to hosts without a configured throttle.
const fallbackRate = 20
