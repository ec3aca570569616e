// Package run executes workflows asynchronously: runs are persisted in a
// Store, their ids travel through a Queue, and a Processor executes them with
// the workflow engine.
package run

import (
	"gisengine/internal/engine"
	xerrors "gisengine/internal/errors"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusSucceeded, StatusFailed}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further attempt will be made.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Run is one submitted workflow execution. A pending run with attempts > 0
// is waiting for a retry.
type Run struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Definition engine.Definition `json:"definition"`
	Status     Status            `json:"status"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"last_error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Result     *engine.Result    `json:"result,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

// Failure describes why an attempt did not succeed.
type Failure struct {
	Code    xerrors.Code
	Message string
	// Terminal failures move the run to failed; others return it to pending.
	Terminal bool
	// Result is the engine's report when the engine itself failed the run.
	Result *engine.Result
}

const (
	CodeRunNotFound   xerrors.Code = "RUN_NOT_FOUND"
	CodeRunConflict   xerrors.Code = "RUN_CONFLICT"
	CodeRunCompleted  xerrors.Code = "RUN_COMPLETED"
	CodeRunExhausted  xerrors.Code = "RUN_RETRIES_EXHAUSTED"
	CodeRunValidation xerrors.Code = "RUN_VALIDATION_FAILED"
	CodeRunPublish    xerrors.Code = "RUN_PUBLISH_FAILED"
	CodeRunProcessing xerrors.Code = "RUN_PROCESSING_FAILED"
)

var (
	ErrNotFound  = xerrors.New(CodeRunNotFound, "run not found")
	ErrConflict  = xerrors.New(CodeRunConflict, "run conflict")
	ErrCompleted = xerrors.New(CodeRunCompleted, "run already completed")
	ErrExhausted = xerrors.New(CodeRunExhausted, "run retries exhausted")
)

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{Message: "run not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeRunConflict, xerrors.Attributes{Message: "run conflict", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeRunCompleted, xerrors.Attributes{Message: "run already completed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeRunExhausted, xerrors.Attributes{Message: "run retries exhausted", Severity: xerrors.SeverityCritical, Alert: true})
	xerrors.Register(CodeRunValidation, xerrors.Attributes{Message: "run validation failed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeRunPublish, xerrors.Attributes{Message: "failed to publish run", Severity: xerrors.SeverityCritical, Retryable: true, Alert: true})
	xerrors.Register(CodeRunProcessing, xerrors.Attributes{Message: "run processing failed", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true})
}

func cloneRun(r *Run) *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Definition.Nodes = append([]engine.NodeSpec(nil), r.Definition.Nodes...)
	c.Definition.Connections = append([]engine.Connection(nil), r.Definition.Connections...)
	if r.Result != nil {
		res := *r.Result
		c.Result = &res
	}
	return &c
}
