// Package scheduler re-invokes the daily run on a cron schedule, with an
// optional hourly retry while a date is still incomplete.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Job runs the pipeline once.
type Job func(ctx context.Context) error

// PendingFunc reports whether the latest date still has outstanding work.
type PendingFunc func() bool

// Options configures a Scheduler.
type Options struct {
	// At is the daily run time, HH:MM.
	At string
	// Timezone names the location At is interpreted in.
	Timezone string
	// RetryHourly adds an hourly run that fires only while Pending reports
	// outstanding work.
	RetryHourly bool
	Pending     PendingFunc
	// RunAtStart triggers one run as soon as Run starts.
	RunAtStart bool
}

// Scheduler runs a Job on a cron schedule. Runs never overlap: a trigger
// that fires while a run is in progress is skipped.
type Scheduler struct {
	cron     *cron.Cron
	job      Job
	opts     Options
	location *time.Location

	mu      sync.Mutex
	running bool
	runs    int
	ctx     context.Context
}

// New creates a Scheduler for job.
func New(job Job, opts Options) (*Scheduler, error) {
	tz := opts.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: load timezone %q", tz)
	}

	hour, minute, err := ParseClock(opts.At)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{})),
		job:      job,
		opts:     opts,
		location: loc,
		ctx:      context.Background(),
	}

	daily := fmt.Sprintf("%d %d * * *", minute, hour)
	if _, err := s.cron.AddFunc(daily, func() { s.trigger("daily") }); err != nil {
		return nil, eris.Wrap(err, "scheduler: add daily entry")
	}

	if opts.RetryHourly && opts.Pending != nil {
		hourly := fmt.Sprintf("%d * * * *", minute)
		if _, err := s.cron.AddFunc(hourly, func() {
			if s.opts.Pending() {
				s.trigger("hourly-retry")
			}
		}); err != nil {
			return nil, eris.Wrap(err, "scheduler: add hourly entry")
		}
	}

	zap.L().Info("scheduler: configured",
		zap.String("daily", daily),
		zap.String("timezone", loc.String()),
		zap.Bool("retry_hourly", opts.RetryHourly),
	)
	return s, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for an
// in-flight run to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	if s.opts.RunAtStart {
		go s.trigger("startup")
	}
	for _, e := range s.cron.Entries() {
		zap.L().Info("scheduler: next run", zap.Time("at", e.Next))
	}

	<-ctx.Done()
	zap.L().Info("scheduler: stopping")
	<-s.cron.Stop().Done()
	return nil
}

// RunNow triggers a run immediately, subject to the no-overlap rule. It
// reports whether the run happened. Before Run the job gets a background
// context.
func (s *Scheduler) RunNow() bool {
	return s.trigger("manual")
}

// Runs returns how many runs have started.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Next returns the next scheduled trigger time, or the zero time before Run.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if next.IsZero() || (!e.Next.IsZero() && e.Next.Before(next)) {
			next = e.Next
		}
	}
	return next
}

func (s *Scheduler) trigger(reason string) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		zap.L().Info("scheduler: run already in progress, skipping", zap.String("trigger", reason))
		return false
	}
	s.running = true
	s.runs++
	ctx := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	zap.L().Info("scheduler: run starting", zap.String("trigger", reason))
	if err := s.job(ctx); err != nil {
		zap.L().Error("scheduler: run failed",
			zap.String("trigger", reason),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return true
	}
	zap.L().Info("scheduler: run finished",
		zap.String("trigger", reason),
		zap.Duration("elapsed", time.Since(start)),
	)
	return true
}

// ParseClock parses an HH:MM time of day.
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return 0, 0, eris.Errorf("scheduler: invalid time %q, want HH:MM", s)
	}
	hour, herr := strconv.Atoi(h)
	minute, merr := strconv.Atoi(m)
	if herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, eris.Errorf("scheduler: invalid time %q, want HH:MM", s)
	}
	return hour, minute, nil
}

// cronLogger routes cron's internal logs to zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	zap.L().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	zap.L().Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
