package model

import "time"

// ExecutionStatus represents the state of a script execution watched by the client.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusError     ExecutionStatus = "error"
	ExecutionStatusStopped   ExecutionStatus = "stopped"
	// ExecutionStatusTimedOut is client-side: we stopped watching, the execution may still be running.
	ExecutionStatusTimedOut ExecutionStatus = "timed_out"
)

// IsTerminal returns true for absorbing states.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusError,
		ExecutionStatusStopped, ExecutionStatusTimedOut:
		return true
	}
	return false
}

// ParseExecutionStatus maps a remote status string. Unknown values are treated as running.
func ParseExecutionStatus(s string) ExecutionStatus {
	switch st := ExecutionStatus(s); st {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusError, ExecutionStatusStopped:
		return st
	}
	return ExecutionStatusRunning
}

// ExecutionHandle tracks one run of a script while it is being polled.
type ExecutionHandle struct {
	RunID        string
	ResourceID   string
	Status       ExecutionStatus
	AttemptsMade int
	StartedAt    time.Time
}

// ExecutionReport is the remote view of an execution.
type ExecutionReport struct {
	RunID      string
	ResourceID string
	Status     ExecutionStatus
	Output     string
	Error      string
	ReturnCode *int
}

// ExecutionResult is the one-shot event delivered when the client stops watching an execution.
type ExecutionResult struct {
	RunID      string
	ResourceID string
	Status     ExecutionStatus
	Output     string
	Error      string
	ReturnCode *int
	StartedAt  time.Time
	FinishedAt time.Time
}
