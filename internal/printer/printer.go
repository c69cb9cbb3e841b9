package printer

import "github.com/slok/rctl/internal/model"

// Printer knows how to print rctl information in different formats.
type Printer interface {
	PrintResources(kind model.ResourceKind, resources []model.TrackedResource) error
	PrintResource(resource model.TrackedResource) error
	PrintExecution(handle model.ExecutionHandle, result *model.ExecutionResult) error
	PrintExecutions(executions []model.ExecutionResult) error
	PrintAutomationTypes(types []model.AutomationType) error
	PrintMessage(msg string) error
}
