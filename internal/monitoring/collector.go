// Package monitoring watches the run ledger and the dataset directory and
// raises webhook alerts when runs keep failing or a date never completes.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/boletin-cli/internal/ledger"
	"github.com/sells-group/boletin-cli/internal/model"
)

// listLimit bounds how many ledger rows one collection reads.
const listLimit = 1000

// Snapshot holds a point-in-time view of pipeline health.
type Snapshot struct {
	// Runs within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsPartial  int     `json:"runs_partial"`
	RunsSkipped  int     `json:"runs_skipped"`
	RunsFailed   int     `json:"runs_failed"`
	FailRate     float64 `json:"fail_rate"`

	// Dates that still have a pending sidecar, oldest first.
	PendingDates []string `json:"pending_dates"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished is the number of runs that did work, skipped runs excluded.
func (s *Snapshot) Finished() int {
	return s.RunsComplete + s.RunsPartial + s.RunsFailed
}

// RunLister is the ledger query the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter ledger.Filter) ([]model.Run, error)
}

// PendingSource reports which stored dates are incomplete.
type PendingSource interface {
	ListDates() ([]string, error)
	HasPending(date string) (bool, error)
}

// Collector gathers a Snapshot from the ledger and the dataset store.
type Collector struct {
	runs     RunLister
	datasets PendingSource
	now      func() time.Time
}

// NewCollector creates a collector. Either source may be nil.
func NewCollector(runs RunLister, datasets PendingSource) *Collector {
	return &Collector{runs: runs, datasets: datasets, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		PendingDates:  []string{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	if c.runs != nil {
		runs, err := c.runs.ListRuns(ctx, ledger.Filter{Limit: listLimit})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list runs")
		}
		for _, r := range runs {
			if r.CreatedAt.Before(cutoff) {
				continue
			}
			snap.RunsTotal++
			switch r.Status {
			case model.RunStatusComplete:
				snap.RunsComplete++
			case model.RunStatusPartial:
				snap.RunsPartial++
			case model.RunStatusSkipped:
				snap.RunsSkipped++
			case model.RunStatusFailed:
				snap.RunsFailed++
			}
		}
		if finished := snap.Finished(); finished > 0 {
			snap.FailRate = float64(snap.RunsFailed) / float64(finished)
		}
	}

	if c.datasets != nil {
		dates, err := c.datasets.ListDates()
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list dates")
		}
		for _, date := range dates {
			pending, err := c.datasets.HasPending(date)
			if err != nil {
				return nil, eris.Wrapf(err, "monitoring: pending %s", date)
			}
			if pending {
				snap.PendingDates = append(snap.PendingDates, date)
			}
		}
		sort.Strings(snap.PendingDates)
	}

	return snap, nil
}
