package rest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/slok/rctl/internal/model"
)

// --- JSON wire types (private, for the server API) ---

type automationJSON struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Status       string         `json:"status"`
	Config       map[string]any `json:"config"`
	LastRun      *string        `json:"last_run"`
	ErrorMessage *string        `json:"error_message"`
}

func (a automationJSON) toModel() model.TrackedResource {
	st := automationStatus(a.Status)
	fields := map[string]string{
		"name":        a.Name,
		"description": a.Description,
		"state":       a.Status,
	}
	if a.LastRun != nil {
		fields["last_run"] = *a.LastRun
	}
	if a.ErrorMessage != nil {
		fields["error_message"] = *a.ErrorMessage
	}
	if len(a.Config) > 0 {
		fields["config"] = formatConfig(a.Config)
	}

	return model.TrackedResource{
		ID:      a.ID,
		Kind:    model.KindAutomations,
		Fields:  fields,
		Status:  st,
		Running: st == model.ResourceStatusRunning,
	}
}

func formatConfig(cfg map[string]any) string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]string, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, fmt.Sprintf("%s=%v", k, cfg[k]))
	}
	return strings.Join(kvs, ",")
}

func automationStatus(s string) model.ResourceStatus {
	switch strings.ToLower(s) {
	case "stopped":
		return model.ResourceStatusIdle
	case "running", "scheduled":
		return model.ResourceStatusRunning
	case "error":
		return model.ResourceStatusError
	}
	return model.ResourceStatusUnknown
}

type automationStatusJSON struct {
	Status string `json:"status"`
}

type startAutomationJSON struct {
	Config map[string]string `json:"config"`
}

type createAutomationJSON struct {
	Type string `json:"type"`
}

type automationTypeJSON struct {
	Type         string            `json:"type"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	ConfigSchema []configFieldJSON `json:"config_schema"`
}

func (t automationTypeJSON) toModel() model.AutomationType {
	fields := make([]model.ConfigField, 0, len(t.ConfigSchema))
	for _, f := range t.ConfigSchema {
		mf := model.ConfigField{
			Key:      f.Key,
			Label:    f.Label,
			Type:     f.Type,
			Required: f.Required,
			Options:  f.Options,
		}
		if f.Default != nil {
			mf.Default = fmt.Sprintf("%v", f.Default)
		}
		fields = append(fields, mf)
	}

	return model.AutomationType{
		Type:         t.Type,
		Name:         t.Name,
		Description:  t.Description,
		ConfigSchema: fields,
	}
}

type configFieldJSON struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Default  any      `json:"default"`
	Options  []string `json:"options"`
}

type scriptJSON struct {
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
	Modified  string `json:"modified"`
	IsRunning bool   `json:"is_running"`
}

func (s scriptJSON) toModel() model.TrackedResource {
	st := model.ResourceStatusIdle
	if s.IsRunning {
		st = model.ResourceStatusRunning
	}

	return model.TrackedResource{
		ID:   s.Filename,
		Kind: model.KindScripts,
		Fields: map[string]string{
			"name":      s.Filename,
			"extension": s.Extension,
			"size":      strconv.FormatInt(s.Size, 10),
			"modified":  s.Modified,
		},
		Status:  st,
		Running: s.IsRunning,
	}
}

type runJSON struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

type executionJSON struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	Output     string `json:"output"`
	Error      string `json:"error"`
	ReturnCode *int   `json:"return_code"`
}

func (e executionJSON) toModel(runID string) model.ExecutionReport {
	id := e.ID
	if id == "" {
		id = runID
	}
	return model.ExecutionReport{
		RunID:      id,
		ResourceID: e.Filename,
		Status:     model.ParseExecutionStatus(strings.ToLower(e.Status)),
		Output:     e.Output,
		Error:      e.Error,
		ReturnCode: e.ReturnCode,
	}
}

type containerJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	Status    string `json:"status"`
	State     string `json:"state"`
	Ports     string `json:"ports"`
	Created   string `json:"created"`
	IsRunning bool   `json:"is_running"`
}

func (c containerJSON) toModel() model.TrackedResource {
	st := model.ContainerStateStatus(c.State)
	return model.TrackedResource{
		ID:   c.ID,
		Kind: model.KindContainers,
		Fields: map[string]string{
			"name":    c.Name,
			"image":   c.Image,
			"state":   c.State,
			"status":  c.Status,
			"ports":   c.Ports,
			"created": c.Created,
		},
		Status:  st,
		Running: st == model.ResourceStatusRunning,
	}
}

type containerActionJSON struct {
	ContainerID string `json:"container_id"`
	Action      string `json:"action"`
	Message     string `json:"message"`
}

type containerLogsJSON struct {
	ContainerID string `json:"container_id"`
	Logs        string `json:"logs"`
	Success     bool   `json:"success"`
}

type dockerStatusJSON struct {
	Available bool `json:"available"`
}
