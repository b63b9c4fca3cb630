package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunKind distinguishes the two pipeline phases.
type RunKind string

const (
	RunKindAssess RunKind = "assess"
	RunKindApply  RunKind = "apply"
)

// Run represents one execution of the assessment or application phase.
type Run struct {
	ID        string         `json:"id"`
	Kind      RunKind        `json:"kind"`
	Profile   string         `json:"profile"`
	Input     string         `json:"input"`
	Status    RunStatus      `json:"status"`
	Summary   map[string]any `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
