// Package ledger keeps a history of pipeline runs and their stage reports.
// It is observability only: resumption never reads it.
package ledger

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/boletin-cli/internal/config"
	"github.com/sells-group/boletin-cli/internal/model"
)

// Filter selects runs to list.
type Filter struct {
	Date   string
	Status model.RunStatus
	Limit  int
}

// Ledger records and lists runs.
type Ledger interface {
	CreateRun(ctx context.Context, date string) (*model.Run, error)
	RecordStage(ctx context.Context, runID string, rep model.StageReport) error
	FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter Filter) ([]model.Run, error)
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the ledger selected by cfg.Driver, migrated and ready.
func Open(ctx context.Context, cfg config.LedgerConfig) (Ledger, error) {
	var (
		l   Ledger
		err error
	)
	switch cfg.Driver {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.DatabaseURL); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "ledger: create %s", dir)
			}
		}
		l, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		l, err = NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("ledger: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// Nop discards every record.
type Nop struct{}

func (Nop) CreateRun(_ context.Context, date string) (*model.Run, error) {
	return &model.Run{Date: date, Status: model.RunStatusRunning}, nil
}

func (Nop) RecordStage(context.Context, string, model.StageReport) error { return nil }

func (Nop) FinishRun(context.Context, string, model.RunStatus, string) error { return nil }

func (Nop) GetRun(_ context.Context, runID string) (*model.Run, error) {
	return nil, eris.Errorf("run not found: %s", runID)
}

func (Nop) ListRuns(context.Context, Filter) ([]model.Run, error) { return nil, nil }

func (Nop) Migrate(context.Context) error { return nil }

func (Nop) Close() error { return nil }

func limitOrDefault(n int) int {
	if n <= 0 {
		return 20
	}
	return n
}
