package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/rctl/cmd/rctl/commands"
	"github.com/slok/rctl/internal/log"
	loglogrus "github.com/slok/rctl/internal/log/logrus"
	"github.com/slok/rctl/internal/model"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	app := kingpin.New("rctl", "Remote control client for automations, scripts and containers.")
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	// Setup commands (registers flags).
	listCmd := commands.NewListCommand(rootCmd, app)
	startCmd := commands.NewActionCommand(rootCmd, app, model.ActionStart, "Start an automation or a container.")
	stopCmd := commands.NewActionCommand(rootCmd, app, model.ActionStop, "Stop an automation or a container.")
	restartCmd := commands.NewActionCommand(rootCmd, app, model.ActionRestart, "Restart a container.")
	deleteCmd := commands.NewActionCommand(rootCmd, app, model.ActionDelete, "Delete an automation.")
	logsCmd := commands.NewLogsCommand(rootCmd, app)
	watchCmd := commands.NewWatchCommand(rootCmd, app)
	historyCmd := commands.NewHistoryCommand(rootCmd, app)

	// Script subcommands share a parent command.
	scriptCmd := commands.NewScriptCommand(app)
	scriptRunCmd := commands.NewScriptRunCommand(rootCmd, scriptCmd)
	scriptStopCmd := commands.NewScriptStopCommand(rootCmd, scriptCmd)

	// Automation subcommands share a parent command.
	automationCmd := commands.NewAutomationCommand(app)
	automationTypesCmd := commands.NewAutomationTypesCommand(rootCmd, automationCmd)
	automationCreateCmd := commands.NewAutomationCreateCommand(rootCmd, automationCmd)

	cmds := map[string]commands.Command{
		listCmd.Name():             listCmd,
		startCmd.Name():            startCmd,
		stopCmd.Name():             stopCmd,
		restartCmd.Name():          restartCmd,
		deleteCmd.Name():           deleteCmd,
		logsCmd.Name():             logsCmd,
		watchCmd.Name():            watchCmd,
		historyCmd.Name():          historyCmd,
		scriptRunCmd.Name():        scriptRunCmd,
		scriptStopCmd.Name():       scriptStopCmd,
		automationTypesCmd.Name():  automationTypesCmd,
		automationCreateCmd.Name(): automationCreateCmd,
	}

	// Parse command.
	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	// Set standard input/output.
	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	// Commands that print tables or JSON don't log unless --debug is set.
	printerCommands := map[string]bool{
		"list":             true,
		"history":          true,
		"logs":             true,
		"automation types": true,
	}
	if printerCommands[cmdName] && !rootCmd.Debug {
		rootCmd.NoLog = true
	}

	// Set logger.
	rootCmd.Logger = getLogger(*rootCmd)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debugf("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// getLogger returns the application logger.
func getLogger(config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	logrusLog := logrus.New()
	logrusLog.Out = config.Stderr // Stdout is for the printers.
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if config.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	switch config.LoggerType {
	case commands.LoggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	case commands.LoggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
	})

	logger.Debugf("Debug level is enabled")

	return logger
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
