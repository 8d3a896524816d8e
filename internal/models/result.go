package models

import "time"

// Status is the terminal status of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusAborted Status = "aborted"
)

// ChangesSummary counts the resources a plan or apply touched.
type ChangesSummary struct {
	Add     int `json:"add"`
	Change  int `json:"change"`
	Destroy int `json:"destroy"`
}

// ResourceOutcome records what happened to one resource during apply or
// destroy. Error is set for resources that failed mid-phase.
type ResourceOutcome struct {
	Address string `json:"address"`
	Action  string `json:"action"`
	Error   string `json:"error,omitempty"`
}

// DeploymentResult is produced exactly once per run and handed to the
// caller and log sink. It is never retried automatically.
type DeploymentResult struct {
	RunID       string            `json:"run_id"`
	Action      Action            `json:"action"`
	Status      Status            `json:"status"`
	Changes     *ChangesSummary   `json:"changes_summary,omitempty"`
	Resources   []ResourceOutcome `json:"resources,omitempty"`
	Duration    time.Duration     `json:"duration"`
	Error       string            `json:"error,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}
