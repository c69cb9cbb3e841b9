package commands

import (
	"context"
	"io"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/rctl/internal/config"
	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/printer"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	formatTable = "table"
	formatJSON  = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	ConfigPath string
	ServerURL  string
	APIKey     string
	NoHistory  bool

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)
	app.Flag("config", "Path to the config file (YAML or TOML).").Default(config.DefaultPath()).StringVar(&c.ConfigPath)
	app.Flag("server-url", "Server base URL, overrides the config.").StringVar(&c.ServerURL)
	app.Flag("api-key", "Server API key, overrides the config.").StringVar(&c.APIKey)
	app.Flag("no-history", "Don't save finished executions on the local history.").BoolVar(&c.NoHistory)

	return c
}

// Config loads the config file and applies the flag overrides.
func (r *RootCommand) Config() (config.Config, error) {
	cfg, err := config.Load(r.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}

	if r.ServerURL != "" {
		cfg.Server.URL = r.ServerURL
	}
	if r.APIKey != "" {
		cfg.Server.APIKey = r.APIKey
	}
	if r.NoHistory {
		cfg.History.Disabled = true
	}

	return cfg, nil
}

func (r *RootCommand) printer(format string) printer.Printer {
	if format == formatJSON {
		return printer.NewJSONPrinter(r.Stdout)
	}
	return printer.NewTablePrinter(r.Stdout)
}

func formatFlag(cmd *kingpin.CmdClause, format *string) {
	cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(format, formatTable, formatJSON)
}
