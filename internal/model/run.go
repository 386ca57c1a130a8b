package model

import "time"

// Stage names the independently resumable units of a daily run.
type Stage string

const (
	StageNorms     Stage = "norms"
	StageTenders   Stage = "tenders"
	StageSummaries Stage = "summaries"
)

// RunStatus represents the state of one pipeline invocation.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusPartial  RunStatus = "partial"
	RunStatusSkipped  RunStatus = "skipped"
	RunStatusFailed   RunStatus = "failed"
)

// StageReport aggregates the per-item results of one stage execution.
type StageReport struct {
	Stage     Stage         `json:"stage"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Remaining int           `json:"remaining"`
	Complete  bool          `json:"complete"`
	Duration  time.Duration `json:"duration_ns"`
}

// Run is one recorded invocation of the pipeline for a date.
type Run struct {
	ID        string        `json:"id"`
	Date      string        `json:"date"`
	Status    RunStatus     `json:"status"`
	Stages    []StageReport `json:"stages,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
