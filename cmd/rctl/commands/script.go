package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/rctl/internal/app/run"
	"github.com/slok/rctl/internal/app/runstop"
)

// NewScriptCommand returns the script parent command.
func NewScriptCommand(app *kingpin.Application) *kingpin.CmdClause {
	return app.Command("script", "Run and stop scripts.")
}

type ScriptRunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	nameOrID string
	detach   bool
	format   string
}

// NewScriptRunCommand returns the script run command.
func NewScriptRunCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *ScriptRunCommand {
	c := &ScriptRunCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("run", "Run a script and wait for its result.")
	c.Cmd.Arg("name-or-id", "Script filename.").Required().StringVar(&c.nameOrID)
	c.Cmd.Flag("detach", "Don't wait for the script to finish.").Short('d').BoolVar(&c.detach)
	formatFlag(c.Cmd, &c.format)

	return c
}

func (c ScriptRunCommand) Name() string { return c.Cmd.FullCommand() }

func (c ScriptRunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	eng, err := c.rootCmd.newEngine(ctx, engineOptions{history: true})
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := run.NewService(run.ServiceConfig{
		Runner: eng.Coordinator,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, run.Request{
		NameOrID: c.nameOrID,
		Wait:     !c.detach,
	})
	if err != nil {
		if resp != nil {
			_ = c.rootCmd.printer(c.format).PrintExecution(resp.Handle, nil)
		}
		return fmt.Errorf("could not run %s: %w", c.nameOrID, err)
	}

	if err := c.rootCmd.printer(c.format).PrintExecution(resp.Handle, resp.Result); err != nil {
		return fmt.Errorf("could not print execution: %w", err)
	}

	return nil
}

type ScriptStopCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	runID  string
	format string
}

// NewScriptStopCommand returns the script stop command.
func NewScriptStopCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *ScriptStopCommand {
	c := &ScriptStopCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("stop", "Stop a script run.")
	c.Cmd.Arg("run-id", "Run ID returned when the script was run.").Required().StringVar(&c.runID)
	formatFlag(c.Cmd, &c.format)

	return c
}

func (c ScriptStopCommand) Name() string { return c.Cmd.FullCommand() }

func (c ScriptStopCommand) Run(ctx context.Context) error {
	eng, err := c.rootCmd.newEngine(ctx, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := runstop.NewService(runstop.ServiceConfig{
		Stopper: eng.Coordinator,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	report, err := svc.Run(ctx, runstop.Request{RunID: c.runID})
	if err != nil {
		return fmt.Errorf("could not stop run %s: %w", c.runID, err)
	}

	return c.rootCmd.printer(c.format).PrintMessage(fmt.Sprintf("Run %s: %s", c.runID, report.Status))
}
