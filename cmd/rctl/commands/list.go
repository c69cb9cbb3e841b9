package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/rctl/internal/app/list"
	"github.com/slok/rctl/internal/model"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	kind         string
	statusFilter string
	runningOnly  bool
	format       string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List automations, scripts or containers.").Alias("ls")
	c.Cmd.Arg("kind", "Resource kind (automations, scripts, containers).").Required().StringVar(&c.kind)
	c.Cmd.Flag("status", "Filter by status (idle, running, completed, failed, error...).").StringVar(&c.statusFilter)
	c.Cmd.Flag("running", "Only show running resources.").BoolVar(&c.runningOnly)
	formatFlag(c.Cmd, &c.format)

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	kind, err := model.ParseResourceKind(c.kind)
	if err != nil {
		return err
	}

	var statusFilter *model.ResourceStatus
	if c.statusFilter != "" {
		st := model.ResourceStatus(strings.ToLower(c.statusFilter))
		statusFilter = &st
	}

	eng, err := c.rootCmd.newEngine(ctx, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := list.NewService(list.ServiceConfig{
		Syncer: eng.Coordinator,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	items, err := svc.Run(ctx, list.Request{
		Kind:         kind,
		StatusFilter: statusFilter,
		RunningOnly:  c.runningOnly,
	})
	if err != nil {
		return fmt.Errorf("could not list %s: %w", kind, err)
	}

	if err := c.rootCmd.printer(c.format).PrintResources(kind, items); err != nil {
		return fmt.Errorf("could not print list: %w", err)
	}

	return nil
}
