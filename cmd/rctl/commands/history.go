package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/rctl/internal/app/history"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/storage/sqlite"
)

type HistoryCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	script       string
	runID        string
	limit        int
	statusFilter string
	format       string
}

// NewHistoryCommand returns the history command.
func NewHistoryCommand(rootCmd *RootCommand, app *kingpin.Application) *HistoryCommand {
	c := &HistoryCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("history", "List the finished script runs watched by this client.")
	c.Cmd.Arg("script", "Only show the runs of this script.").StringVar(&c.script)
	c.Cmd.Flag("run", "Show a single run.").StringVar(&c.runID)
	c.Cmd.Flag("limit", "Max runs to show, negative shows all.").Default("20").IntVar(&c.limit)
	c.Cmd.Flag("status", "Filter by status (completed, failed, error, stopped, timed_out).").StringVar(&c.statusFilter)
	formatFlag(c.Cmd, &c.format)

	return c
}

func (c HistoryCommand) Name() string { return c.Cmd.FullCommand() }

func (c HistoryCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cfg, err := c.rootCmd.Config()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: cfg.History.DBPath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}
	defer repo.Close()

	svc, err := history.NewService(history.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	var statusFilter *model.ExecutionStatus
	if c.statusFilter != "" {
		st := model.ExecutionStatus(strings.ToLower(c.statusFilter))
		statusFilter = &st
	}

	execs, err := svc.Run(ctx, history.Request{
		RunID:        c.runID,
		ResourceID:   c.script,
		Limit:        c.limit,
		StatusFilter: statusFilter,
	})
	if err != nil {
		return fmt.Errorf("could not list history: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintExecutions(execs); err != nil {
		return fmt.Errorf("could not print history: %w", err)
	}

	return nil
}
