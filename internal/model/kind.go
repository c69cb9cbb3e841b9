package model

import "fmt"

// ResourceKind identifies one of the remote resource collections.
type ResourceKind string

const (
	// KindAutomations are long-running automation instances.
	KindAutomations ResourceKind = "automations"
	// KindScripts are ad-hoc script files that can be run.
	KindScripts ResourceKind = "scripts"
	// KindContainers are containers managed by the remote Docker daemon.
	KindContainers ResourceKind = "containers"
)

// AllKinds returns every resource kind in a stable order.
func AllKinds() []ResourceKind {
	return []ResourceKind{KindAutomations, KindScripts, KindContainers}
}

// ParseResourceKind parses a kind, accepting singular forms too.
func ParseResourceKind(s string) (ResourceKind, error) {
	switch s {
	case "automations", "automation":
		return KindAutomations, nil
	case "scripts", "script":
		return KindScripts, nil
	case "containers", "container":
		return KindContainers, nil
	}
	return "", fmt.Errorf("unknown resource kind %q: %w", s, ErrNotValid)
}
