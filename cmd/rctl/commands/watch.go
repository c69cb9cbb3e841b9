package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/rctl/internal/app/watch"
	"github.com/slok/rctl/internal/model"
)

type WatchCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	kinds  []string
	format string
}

// NewWatchCommand returns the watch command.
func NewWatchCommand(rootCmd *RootCommand, app *kingpin.Application) *WatchCommand {
	c := &WatchCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("watch", "Keep resources in sync and print every change.")
	c.Cmd.Arg("kinds", "Resource kinds to watch, all by default.").StringsVar(&c.kinds)
	formatFlag(c.Cmd, &c.format)

	return c
}

func (c WatchCommand) Name() string { return c.Cmd.FullCommand() }

func (c WatchCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	kinds := make([]model.ResourceKind, 0, len(c.kinds))
	for _, k := range c.kinds {
		kind, err := model.ParseResourceKind(k)
		if err != nil {
			return err
		}
		kinds = append(kinds, kind)
	}

	eng, err := c.rootCmd.newEngine(ctx, engineOptions{push: true, history: true})
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := watch.NewService(watch.ServiceConfig{
		Watcher: eng.Coordinator,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	p := c.rootCmd.printer(c.format)
	return svc.Run(ctx, watch.Request{
		Kinds: kinds,
		OnEvent: func(ev watch.Event) {
			var err error
			switch {
			case ev.Err != nil:
				logger.Warningf("%s %s failed: %s", ev.Kind, ev.Err.Op, ev.Err.Err)
			case ev.Execution != nil:
				err = p.PrintExecution(model.ExecutionHandle{
					RunID:      ev.Execution.RunID,
					ResourceID: ev.Execution.ResourceID,
					Status:     ev.Execution.Status,
					StartedAt:  ev.Execution.StartedAt,
				}, ev.Execution)
			default:
				if c.format == formatTable {
					_ = p.PrintMessage(fmt.Sprintf("== %s (%d)", ev.Kind, len(ev.Resources)))
				}
				err = p.PrintResources(ev.Kind, ev.Resources)
			}
			if err != nil {
				logger.Errorf("could not print event: %s", err)
			}
		},
	})
}
