package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/rctl/internal/app/action"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/utils/params"
)

type ActionCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	action   model.ActionKind
	kind     string
	nameOrID string
	params   []string
	format   string
}

// NewActionCommand returns a command that runs an action on a resource (start, stop, delete, restart).
func NewActionCommand(rootCmd *RootCommand, app *kingpin.Application, a model.ActionKind, help string) *ActionCommand {
	c := &ActionCommand{rootCmd: rootCmd, action: a}

	c.Cmd = app.Command(string(a), help)
	c.Cmd.Arg("kind", "Resource kind (automations, containers).").Required().StringVar(&c.kind)
	c.Cmd.Arg("name-or-id", "Resource name or ID.").Required().StringVar(&c.nameOrID)
	if a == model.ActionStart {
		c.Cmd.Flag("param", "Automation config param as KEY=VALUE, a bare KEY is read from the environment (repeatable).").Short('p').StringsVar(&c.params)
	}
	formatFlag(c.Cmd, &c.format)

	return c
}

func (c ActionCommand) Name() string { return c.Cmd.FullCommand() }

func (c ActionCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	kind, err := model.ParseResourceKind(c.kind)
	if err != nil {
		return err
	}

	ps, err := params.Parse(c.params)
	if err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	if len(ps) == 0 {
		ps = nil
	}

	eng, err := c.rootCmd.newEngine(ctx, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := action.NewService(action.ServiceConfig{
		Performer: eng.Coordinator,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, action.Request{
		Kind:     kind,
		NameOrID: c.nameOrID,
		Action:   c.action,
		Params:   ps,
	})
	if err != nil {
		if errors.Is(err, model.ErrAlreadyInFlight) {
			return c.rootCmd.printer(c.format).PrintMessage(fmt.Sprintf("Another action on %s is in progress", c.nameOrID))
		}
		return fmt.Errorf("could not %s %s: %w", c.action, c.nameOrID, err)
	}

	p := c.rootCmd.printer(c.format)
	if res == nil {
		return p.PrintMessage(fmt.Sprintf("Deleted %s %s", kind, c.nameOrID))
	}
	if c.format == formatJSON {
		return p.PrintResource(*res)
	}
	return p.PrintMessage(fmt.Sprintf("%s %s: %s", kind, res.Name(), res.Status))
}
