package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/rctl/internal/app/create"
)

// NewAutomationCommand returns the automation parent command.
func NewAutomationCommand(app *kingpin.Application) *kingpin.CmdClause {
	return app.Command("automation", "Manage automation types.")
}

type AutomationTypesCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewAutomationTypesCommand returns the automation types command.
func NewAutomationTypesCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *AutomationTypesCommand {
	c := &AutomationTypesCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("types", "List the automation types that can be created.")
	formatFlag(c.Cmd, &c.format)

	return c
}

func (c AutomationTypesCommand) Name() string { return c.Cmd.FullCommand() }

func (c AutomationTypesCommand) Run(ctx context.Context) error {
	eng, err := c.rootCmd.newEngine(ctx, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := create.NewService(create.ServiceConfig{
		Creator: eng.Coordinator,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	types, err := svc.Types(ctx)
	if err != nil {
		return err
	}

	return c.rootCmd.printer(c.format).PrintAutomationTypes(types)
}

type AutomationCreateCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	automationType string
	format         string
}

// NewAutomationCreateCommand returns the automation create command.
func NewAutomationCreateCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *AutomationCreateCommand {
	c := &AutomationCreateCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("create", "Create an automation of a type.")
	c.Cmd.Arg("type", "Automation type.").Required().StringVar(&c.automationType)
	formatFlag(c.Cmd, &c.format)

	return c
}

func (c AutomationCreateCommand) Name() string { return c.Cmd.FullCommand() }

func (c AutomationCreateCommand) Run(ctx context.Context) error {
	eng, err := c.rootCmd.newEngine(ctx, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := create.NewService(create.ServiceConfig{
		Creator: eng.Coordinator,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, create.Request{Type: c.automationType})
	if err != nil {
		return fmt.Errorf("could not create automation: %w", err)
	}

	p := c.rootCmd.printer(c.format)
	if c.format == formatJSON {
		return p.PrintResource(*res)
	}
	return p.PrintMessage(fmt.Sprintf("Created %s automation: %s", c.automationType, res.ID))
}
