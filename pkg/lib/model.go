package lib

import (
	"github.com/slok/rctl/internal/model"
)

// ResourceKind identifies a resource collection.
type ResourceKind = model.ResourceKind

const (
	KindAutomations = model.KindAutomations
	KindScripts     = model.KindScripts
	KindContainers  = model.KindContainers
)

// ResourceStatus is the state the client believes a resource is in.
type ResourceStatus = model.ResourceStatus

const (
	ResourceStatusIdle      = model.ResourceStatusIdle
	ResourceStatusStarting  = model.ResourceStatusStarting
	ResourceStatusRunning   = model.ResourceStatusRunning
	ResourceStatusStopping  = model.ResourceStatusStopping
	ResourceStatusCompleted = model.ResourceStatusCompleted
	ResourceStatusFailed    = model.ResourceStatusFailed
	ResourceStatusError     = model.ResourceStatusError
	ResourceStatusUnknown   = model.ResourceStatusUnknown
)

// ActionKind is a mutating action on a single resource.
type ActionKind = model.ActionKind

const (
	ActionStart   = model.ActionStart
	ActionStop    = model.ActionStop
	ActionRestart = model.ActionRestart
	ActionDelete  = model.ActionDelete
)

// Resource is a copy of a tracked resource. Fields holds the kind specific
// attributes (name, image, config...).
type Resource = model.TrackedResource

// ExecutionStatus is the status of a script run.
type ExecutionStatus = model.ExecutionStatus

const (
	ExecutionStatusPending   = model.ExecutionStatusPending
	ExecutionStatusRunning   = model.ExecutionStatusRunning
	ExecutionStatusCompleted = model.ExecutionStatusCompleted
	ExecutionStatusFailed    = model.ExecutionStatusFailed
	ExecutionStatusError     = model.ExecutionStatusError
	ExecutionStatusStopped   = model.ExecutionStatusStopped
	ExecutionStatusTimedOut  = model.ExecutionStatusTimedOut
)

// ExecutionHandle is the client side view of a script run that is being polled.
type ExecutionHandle = model.ExecutionHandle

// ExecutionResult is the outcome of a finished script run.
type ExecutionResult = model.ExecutionResult

// AutomationType is an automation template the server can instantiate.
type AutomationType = model.AutomationType

// Execution is returned by [Client.RunScript]. Result is nil unless the run was waited.
type Execution struct {
	Handle ExecutionHandle
	Result *ExecutionResult
}

// RunScriptOpts configures a script run.
type RunScriptOpts struct {
	// Wait blocks until the run finishes or the context is done.
	Wait bool
}

// HistoryOpts filters the local history of finished runs.
type HistoryOpts struct {
	// Script only returns the runs of a script.
	Script string
	// Limit is the max number of runs, zero uses the default and negative returns all.
	Limit int
	// Status only returns the runs that finished with this status.
	Status *ExecutionStatus
}

// PushType selects the realtime notification channel.
type PushType string

const (
	PushTypeNone      PushType = "none"
	PushTypeMQTT      PushType = "mqtt"
	PushTypeWebsocket PushType = "websocket"
)

// PushConfig configures the realtime channel that triggers refreshes.
type PushConfig struct {
	Type PushType
	// URL is the broker (tcp://host:1883) or websocket (ws://host/ws) address.
	URL      string
	Username string
	Password string
}

// Error sentinel values, use [errors.Is] to check them.
var (
	ErrNotFound        = model.ErrNotFound
	ErrNotValid        = model.ErrNotValid
	ErrAlreadyInFlight = model.ErrAlreadyInFlight
	ErrTransport       = model.ErrTransport
	ErrRemoteRejected  = model.ErrRemoteRejected
)
