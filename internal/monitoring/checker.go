package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/config"
)

// Checker evaluates the run ledger on a fixed interval while the scheduler
// is up. An alert is sent when its condition first appears; once delivered
// it is not sent again until a check finds the condition cleared.
// Undelivered alerts are retried on the next check.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int

	mu     sync.Mutex
	active map[string]bool
}

// NewChecker wires a Collector and an Alerter. The interval defaults to one
// hour, matching the scheduler's retry cadence.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		active:    make(map[string]bool),
	}
}

// Run checks once immediately and then every interval until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	zap.L().Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)
	t := time.NewTicker(c.interval)
	defer t.Stop()

	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			zap.L().Info("monitoring: checker stopped")
			return
		case <-t.C:
		}
	}
}

// Check takes one snapshot, delivers the alerts not already active and
// returns the ones delivered.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		zap.L().Error("monitoring: collect failed", zap.Error(err))
		return nil
	}
	alerts := c.alerter.Evaluate(snap)

	c.mu.Lock()
	defer c.mu.Unlock()

	holding := make(map[string]bool, len(alerts))
	var raised []Alert
	failed := 0
	for _, a := range alerts {
		key := a.Key()
		holding[key] = true
		if c.active[key] {
			continue
		}
		if err := c.alerter.Send(ctx, a); err != nil {
			failed++
			continue
		}
		c.active[key] = true
		raised = append(raised, a)
	}
	for key := range c.active {
		if !holding[key] {
			delete(c.active, key)
		}
	}

	if len(raised) > 0 || failed > 0 {
		zap.L().Info("monitoring: alerts raised",
			zap.Int("delivered", len(raised)),
			zap.Int("failed", failed),
			zap.Int("runs_finished", snap.Finished()),
		)
	}
	return raised
}
