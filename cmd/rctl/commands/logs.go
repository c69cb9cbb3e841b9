package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/rctl/internal/app/logs"
)

type LogsCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	nameOrID string
	tail     int
}

// NewLogsCommand returns the logs command.
func NewLogsCommand(rootCmd *RootCommand, app *kingpin.Application) *LogsCommand {
	c := &LogsCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("logs", "Show the last lines of a container logs.")
	c.Cmd.Arg("name-or-id", "Container name or ID.").Required().StringVar(&c.nameOrID)
	c.Cmd.Flag("tail", "Number of lines.").Short('n').Default("100").IntVar(&c.tail)

	return c
}

func (c LogsCommand) Name() string { return c.Cmd.FullCommand() }

func (c LogsCommand) Run(ctx context.Context) error {
	eng, err := c.rootCmd.newEngine(ctx, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := logs.NewService(logs.ServiceConfig{
		Reader: eng.Coordinator,
		Logger: c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	out, err := svc.Run(ctx, logs.Request{NameOrID: c.nameOrID, Tail: c.tail})
	if err != nil {
		return fmt.Errorf("could not get logs: %w", err)
	}

	fmt.Fprint(c.rootCmd.Stdout, out)
	return nil
}
