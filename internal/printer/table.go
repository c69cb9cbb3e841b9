package printer

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/slok/rctl/internal/model"
)

// TablePrinter prints rctl information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

var _ Printer = &TablePrinter{}

func (t *TablePrinter) newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(t.writer)
	tw.SetStyle(table.StyleDefault)
	tw.Style().Options = table.OptionsNoBordersAndSeparators
	return tw
}

// PrintResources prints a collection in a table format, columns depend on the kind.
func (t *TablePrinter) PrintResources(kind model.ResourceKind, resources []model.TrackedResource) error {
	if len(resources) == 0 {
		return nil
	}

	tw := t.newTable()
	switch kind {
	case model.KindAutomations:
		tw.AppendHeader(table.Row{"ID", "NAME", "STATUS", "LAST RUN", "CONFIG"})
		for _, r := range resources {
			tw.AppendRow(table.Row{r.ID, r.Name(), statusText(r), orDash(r.Fields["last_run"]), orDash(r.Fields["config"])})
		}
	case model.KindScripts:
		tw.AppendHeader(table.Row{"NAME", "STATUS", "SIZE", "MODIFIED"})
		for _, r := range resources {
			tw.AppendRow(table.Row{r.Name(), statusText(r), sizeText(r.Fields["size"]), timeText(r.Fields["modified"])})
		}
	default:
		tw.AppendHeader(table.Row{"ID", "NAME", "IMAGE", "STATUS", "PORTS", "CREATED"})
		for _, r := range resources {
			tw.AppendRow(table.Row{shortID(r.ID), r.Name(), r.Fields["image"], statusText(r), orDash(r.Fields["ports"]), timeText(r.Fields["created"])})
		}
	}
	tw.Render()

	return nil
}

// PrintResource prints detailed resource information.
func (t *TablePrinter) PrintResource(r model.TrackedResource) error {
	fmt.Fprintf(t.writer, "Name:       %s\n", r.Name())
	fmt.Fprintf(t.writer, "ID:         %s\n", r.ID)
	fmt.Fprintf(t.writer, "Kind:       %s\n", r.Kind)
	fmt.Fprintf(t.writer, "Status:     %s\n", statusText(r))

	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		if k != "name" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if r.Fields[k] == "" {
			continue
		}
		fmt.Fprintf(t.writer, "%-12s%s\n", fieldLabel(k)+":", r.Fields[k])
	}

	return nil
}

// PrintExecution prints a script run, with its output when finished.
func (t *TablePrinter) PrintExecution(h model.ExecutionHandle, result *model.ExecutionResult) error {
	fmt.Fprintf(t.writer, "Run:        %s\n", h.RunID)
	fmt.Fprintf(t.writer, "Script:     %s\n", h.ResourceID)
	fmt.Fprintf(t.writer, "Status:     %s\n", h.Status)
	if result == nil {
		return nil
	}

	if result.ReturnCode != nil {
		fmt.Fprintf(t.writer, "Exit code:  %d\n", *result.ReturnCode)
	}
	fmt.Fprintf(t.writer, "Duration:   %s\n", runDuration(result.StartedAt, result.FinishedAt))
	if result.Output != "" {
		fmt.Fprintf(t.writer, "\n%s\n", strings.TrimRight(result.Output, "\n"))
	}
	if result.Error != "" {
		fmt.Fprintf(t.writer, "\nError: %s\n", result.Error)
	}

	return nil
}

// PrintExecutions prints the executions journal in a table format.
func (t *TablePrinter) PrintExecutions(executions []model.ExecutionResult) error {
	if len(executions) == 0 {
		return nil
	}

	tw := t.newTable()
	tw.AppendHeader(table.Row{"RUN", "SCRIPT", "STATUS", "EXIT", "DURATION", "FINISHED"})
	for _, e := range executions {
		exit := "-"
		if e.ReturnCode != nil {
			exit = strconv.Itoa(*e.ReturnCode)
		}
		tw.AppendRow(table.Row{e.RunID, e.ResourceID, e.Status, exit, runDuration(e.StartedAt, e.FinishedAt), since(time.Now(), e.FinishedAt)})
	}
	tw.Render()

	return nil
}

// PrintAutomationTypes prints the automation types and their config fields.
func (t *TablePrinter) PrintAutomationTypes(types []model.AutomationType) error {
	if len(types) == 0 {
		return nil
	}

	tw := t.newTable()
	tw.AppendHeader(table.Row{"TYPE", "NAME", "CONFIG", "DESCRIPTION"})
	for _, at := range types {
		fields := make([]string, 0, len(at.ConfigSchema))
		for _, f := range at.ConfigSchema {
			s := f.Key
			if f.Required {
				s += "*"
			}
			fields = append(fields, s)
		}
		tw.AppendRow(table.Row{at.Type, at.Name, orDash(strings.Join(fields, ", ")), at.Description})
	}
	tw.Render()

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func statusText(r model.TrackedResource) string {
	if r.PendingAction != nil {
		return fmt.Sprintf("%s (%s pending)", r.Status, r.PendingAction.Action)
	}
	return string(r.Status)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func sizeText(s string) string {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return orDash(s)
	}
	return bytesText(n)
}

func timeText(s string) string {
	ts, ok := parseServerTime(s)
	if !ok {
		return orDash(s)
	}
	return since(time.Now(), ts)
}

func fieldLabel(k string) string {
	k = strings.ReplaceAll(k, "_", " ")
	if k == "" {
		return k
	}
	return strings.ToUpper(k[:1]) + k[1:]
}
