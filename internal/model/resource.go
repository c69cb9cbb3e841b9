package model

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// ResourceStatus represents the state the client believes a resource is in.
type ResourceStatus string

const (
	ResourceStatusIdle      ResourceStatus = "idle"
	ResourceStatusStarting  ResourceStatus = "starting"
	ResourceStatusRunning   ResourceStatus = "running"
	ResourceStatusStopping  ResourceStatus = "stopping"
	ResourceStatusCompleted ResourceStatus = "completed"
	ResourceStatusFailed    ResourceStatus = "failed"
	ResourceStatusError     ResourceStatus = "error"
	ResourceStatusUnknown   ResourceStatus = "unknown"
)

// ActionKind is a mutating action performed on a single resource.
type ActionKind string

const (
	ActionStart   ActionKind = "start"
	ActionStop    ActionKind = "stop"
	ActionDelete  ActionKind = "delete"
	ActionRestart ActionKind = "restart"
)

// ParseActionKind parses an action name.
func ParseActionKind(s string) (ActionKind, error) {
	switch a := ActionKind(s); a {
	case ActionStart, ActionStop, ActionDelete, ActionRestart:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q: %w", s, ErrNotValid)
}

// OptimisticStatus returns the status shown while the action is outstanding.
// The second value is false when the action has no optimistic status.
func (a ActionKind) OptimisticStatus() (ResourceStatus, bool) {
	switch a {
	case ActionStart, ActionRestart:
		return ResourceStatusStarting, true
	case ActionStop:
		return ResourceStatusStopping, true
	}
	return "", false
}

// PendingAction is an action that has been sent to the remote and not yet confirmed.
type PendingAction struct {
	Action ActionKind
	// Token identifies the gate call that owns the pending slot.
	Token string
}

// TrackedResource is the local view of one remote automation, script or container.
type TrackedResource struct {
	ID   string
	Kind ResourceKind
	// Fields are display values (name, image...), opaque to the engine.
	Fields       map[string]string
	Status       ResourceStatus
	Running      bool
	LastSyncedAt time.Time
	// PendingAction is set only while a gate call for this resource is outstanding.
	PendingAction *PendingAction
}

// Clone returns a deep copy of the resource.
func (r TrackedResource) Clone() TrackedResource {
	c := r
	c.Fields = maps.Clone(r.Fields)
	if r.PendingAction != nil {
		pa := *r.PendingAction
		c.PendingAction = &pa
	}
	return c
}

// Name returns the best display name of the resource.
func (r TrackedResource) Name() string {
	if n := r.Fields["name"]; n != "" {
		return n
	}
	return r.ID
}

// FindResource looks a resource up by ID first and then by name.
func FindResource(items []TrackedResource, nameOrID string) (TrackedResource, error) {
	for _, r := range items {
		if r.ID == nameOrID {
			return r, nil
		}
	}
	for _, r := range items {
		if r.Name() == nameOrID {
			return r, nil
		}
	}
	return TrackedResource{}, fmt.Errorf("resource %q: %w", nameOrID, ErrNotFound)
}

// Snapshot is one point-in-time ordered fetch of a resource collection.
type Snapshot struct {
	Kind  ResourceKind
	Items []TrackedResource
}

// ResourcePatch holds the confirmed fields of a single resource after an action.
// Nil fields are left untouched.
type ResourcePatch struct {
	Status  *ResourceStatus
	Running *bool
	Fields  map[string]string
	// Removed marks the resource as deleted remotely.
	Removed bool
}

// StatusPatch is a helper to build a patch that sets the status and the running flag from it.
func StatusPatch(st ResourceStatus) ResourcePatch {
	running := st == ResourceStatusRunning
	return ResourcePatch{Status: &st, Running: &running}
}

// Apply applies the patch to a resource.
func (p ResourcePatch) Apply(r *TrackedResource) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Running != nil {
		r.Running = *p.Running
	}
	if len(p.Fields) > 0 {
		if r.Fields == nil {
			r.Fields = map[string]string{}
		}
		maps.Copy(r.Fields, p.Fields)
	}
}

// ContainerStateStatus maps a Docker container state to a resource status.
func ContainerStateStatus(state string) ResourceStatus {
	switch strings.ToLower(state) {
	case "running":
		return ResourceStatusRunning
	case "exited", "created", "paused":
		return ResourceStatusIdle
	case "restarting":
		return ResourceStatusStarting
	case "removing":
		return ResourceStatusStopping
	case "dead":
		return ResourceStatusError
	}
	return ResourceStatusUnknown
}
