package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/rctl/internal/model"
)

// JSONPrinter prints rctl information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

var _ Printer = &JSONPrinter{}

type resourceOutput struct {
	ID            string            `json:"id"`
	Kind          string            `json:"kind"`
	Name          string            `json:"name"`
	Status        string            `json:"status"`
	Running       bool              `json:"running"`
	PendingAction string            `json:"pending_action,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	LastSyncedAt  *time.Time        `json:"last_synced_at,omitempty"`
}

type executionOutput struct {
	RunID        string     `json:"run_id"`
	ResourceID   string     `json:"resource_id"`
	Status       string     `json:"status"`
	AttemptsMade int        `json:"attempts_made,omitempty"`
	Output       string     `json:"output,omitempty"`
	Error        string     `json:"error,omitempty"`
	ReturnCode   *int       `json:"return_code"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

type automationTypeOutput struct {
	Type        string              `json:"type"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Config      []configFieldOutput `json:"config_schema"`
}

type configFieldOutput struct {
	Key      string   `json:"key"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Default  string   `json:"default,omitempty"`
	Options  []string `json:"options,omitempty"`
}

type messageOutput struct {
	Message string `json:"message"`
}

func toResourceOutput(r model.TrackedResource) resourceOutput {
	out := resourceOutput{
		ID:      r.ID,
		Kind:    string(r.Kind),
		Name:    r.Name(),
		Status:  string(r.Status),
		Running: r.Running,
		Fields:  r.Fields,
	}
	if r.PendingAction != nil {
		out.PendingAction = string(r.PendingAction.Action)
	}
	if !r.LastSyncedAt.IsZero() {
		ts := r.LastSyncedAt.UTC()
		out.LastSyncedAt = &ts
	}
	return out
}

func toExecutionOutput(e model.ExecutionResult) executionOutput {
	out := executionOutput{
		RunID:      e.RunID,
		ResourceID: e.ResourceID,
		Status:     string(e.Status),
		Output:     e.Output,
		Error:      e.Error,
		ReturnCode: e.ReturnCode,
	}
	if !e.StartedAt.IsZero() {
		ts := e.StartedAt.UTC()
		out.StartedAt = &ts
	}
	if !e.FinishedAt.IsZero() {
		ts := e.FinishedAt.UTC()
		out.FinishedAt = &ts
	}
	return out
}

// PrintResources prints a collection in JSON format.
func (j *JSONPrinter) PrintResources(_ model.ResourceKind, resources []model.TrackedResource) error {
	items := make([]resourceOutput, len(resources))
	for i, r := range resources {
		items[i] = toResourceOutput(r)
	}
	return j.encode(items)
}

// PrintResource prints a resource in JSON format.
func (j *JSONPrinter) PrintResource(r model.TrackedResource) error {
	return j.encode(toResourceOutput(r))
}

// PrintExecution prints a script run in JSON format.
func (j *JSONPrinter) PrintExecution(h model.ExecutionHandle, result *model.ExecutionResult) error {
	if result != nil {
		return j.encode(toExecutionOutput(*result))
	}

	ts := h.StartedAt.UTC()
	return j.encode(executionOutput{
		RunID:        h.RunID,
		ResourceID:   h.ResourceID,
		Status:       string(h.Status),
		AttemptsMade: h.AttemptsMade,
		StartedAt:    &ts,
	})
}

// PrintExecutions prints the executions journal in JSON format.
func (j *JSONPrinter) PrintExecutions(executions []model.ExecutionResult) error {
	items := make([]executionOutput, len(executions))
	for i, e := range executions {
		items[i] = toExecutionOutput(e)
	}
	return j.encode(items)
}

// PrintAutomationTypes prints the automation types in JSON format.
func (j *JSONPrinter) PrintAutomationTypes(types []model.AutomationType) error {
	items := make([]automationTypeOutput, len(types))
	for i, at := range types {
		fields := make([]configFieldOutput, len(at.ConfigSchema))
		for k, f := range at.ConfigSchema {
			fields[k] = configFieldOutput{
				Key:      f.Key,
				Label:    f.Label,
				Type:     f.Type,
				Required: f.Required,
				Default:  f.Default,
				Options:  f.Options,
			}
		}
		items[i] = automationTypeOutput{Type: at.Type, Name: at.Name, Description: at.Description, Config: fields}
	}
	return j.encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
