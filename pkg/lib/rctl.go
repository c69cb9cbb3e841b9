package lib

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"k8s.io/client-go/util/homedir"

	"github.com/slok/rctl/internal/app/action"
	"github.com/slok/rctl/internal/app/create"
	"github.com/slok/rctl/internal/app/history"
	"github.com/slok/rctl/internal/app/list"
	"github.com/slok/rctl/internal/app/logs"
	"github.com/slok/rctl/internal/app/run"
	"github.com/slok/rctl/internal/app/runstop"
	"github.com/slok/rctl/internal/conventions"
	"github.com/slok/rctl/internal/coordinator"
	"github.com/slok/rctl/internal/events"
	"github.com/slok/rctl/internal/events/mqtt"
	"github.com/slok/rctl/internal/events/websocket"
	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/storage"
	"github.com/slok/rctl/internal/storage/memory"
	"github.com/slok/rctl/internal/storage/sqlite"
	"github.com/slok/rctl/internal/transport/rest"
)

// Config configures the SDK client.
//
// ServerURL is required, everything else has defaults.
type Config struct {
	// ServerURL is the server base URL, e.g. http://localhost:5000.
	ServerURL string
	// APIKey is sent on every request when set.
	APIKey string
	// Timeout is the timeout of every request.
	// Default: 15s.
	Timeout time.Duration
	// HTTPClient replaces the default HTTP client.
	HTTPClient *http.Client

	// Push enables a realtime channel used by [Client.Run].
	// Default: none, only periodic refreshes.
	Push PushConfig

	// PollInterval is the time between two status checks of a script run.
	// Default: 1s.
	PollInterval time.Duration
	// PollMaxAttempts is the number of checks before a run is given up as timed out.
	// Default: 60.
	PollMaxAttempts int
	// RefreshInterval enables periodic refreshes while [Client.Run] is running.
	RefreshInterval time.Duration

	// HistoryDBPath is the SQLite database where finished runs are saved.
	// Default: ~/.rctl/history.db.
	HistoryDBPath string
	// DisableHistory disables the local history of finished runs.
	DisableHistory bool
	// InMemoryHistory keeps the history only for the client lifetime, HistoryDBPath is ignored.
	InMemoryHistory bool

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). The log sub-package has ready adapters.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server url is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	if c.Push.Type == "" {
		c.Push.Type = PushTypeNone
	}
	if c.Push.Type != PushTypeNone && c.Push.URL == "" {
		return fmt.Errorf("push url is required for %s push", c.Push.Type)
	}
	if !c.DisableHistory && !c.InMemoryHistory && c.HistoryDBPath == "" {
		c.HistoryDBPath = conventions.HistoryDBPath(homedir.HomeDir())
	}

	return nil
}

// Client is the SDK entry point.
//
// Create a Client with [New] and release its resources with [Client.Close].
type Client struct {
	coord   *coordinator.Coordinator
	history storage.ExecutionRepository
	logger  log.Logger
	closeFn func() error
}

// New creates a new SDK client. No request is sent until a method needs one.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w: %w", err, ErrNotValid)
	}

	tr, err := rest.NewClient(rest.ClientConfig{
		ServerURL:  cfg.ServerURL,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create server client: %w", err)
	}

	channel, err := newChannel(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{logger: cfg.Logger, closeFn: func() error { return nil }}
	switch {
	case cfg.DisableHistory:
	case cfg.InMemoryHistory:
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create history repository: %w", err)
		}
		c.history = repo
	default:
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath: cfg.HistoryDBPath,
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create history repository: %w", err)
		}
		c.history = repo
		c.closeFn = repo.Close
	}

	coordCfg := coordinator.Config{
		Transport:       tr,
		History:         c.history,
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.PollMaxAttempts,
		RefreshInterval: cfg.RefreshInterval,
		Logger:          cfg.Logger,
	}
	if channel != nil {
		coordCfg.Channel = channel
	}
	coord, err := coordinator.New(coordCfg)
	if err != nil {
		_ = c.closeFn()
		return nil, fmt.Errorf("could not create coordinator: %w", err)
	}
	c.coord = coord

	return c, nil
}

func newChannel(cfg Config) (*events.Channel, error) {
	var dialer events.Dialer
	switch cfg.Push.Type {
	case PushTypeNone:
		return nil, nil
	case PushTypeMQTT:
		d, err := mqtt.NewDialer(mqtt.DialerConfig{
			BrokerURL: cfg.Push.URL,
			Username:  cfg.Push.Username,
			Password:  cfg.Push.Password,
			Logger:    cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create mqtt dialer: %w", err)
		}
		dialer = d
	case PushTypeWebsocket:
		d, err := websocket.NewDialer(websocket.DialerConfig{
			URL:    cfg.Push.URL,
			APIKey: cfg.APIKey,
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create websocket dialer: %w", err)
		}
		dialer = d
	default:
		return nil, fmt.Errorf("unknown push type %q: %w", cfg.Push.Type, ErrNotValid)
	}

	ch, err := events.NewChannel(events.ChannelConfig{Dialer: dialer, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create event channel: %w", err)
	}
	return ch, nil
}

// Close stops watching every run and releases the history database.
// After Close returns, the client must not be used.
func (c *Client) Close() error {
	c.coord.Close()
	return c.closeFn()
}

// Run keeps the local store in sync until ctx is done, refreshing on push
// signals and periodically when configured.
func (c *Client) Run(ctx context.Context) error {
	return c.coord.Run(ctx)
}

// Refresh fetches a kind collection from the server. Concurrent refreshes of
// the same kind share requests.
func (c *Client) Refresh(ctx context.Context, kind ResourceKind) error {
	return c.coord.Refresh(ctx, kind)
}

// List refreshes a kind collection and returns it.
func (c *Client) List(ctx context.Context, kind ResourceKind) ([]Resource, error) {
	svc, err := list.NewService(list.ServiceConfig{Syncer: c.coord, Logger: c.logger})
	if err != nil {
		return nil, err
	}
	return svc.Run(ctx, list.Request{Kind: kind})
}

// Cached returns the local copy of a kind collection without contacting the server.
func (c *Client) Cached(kind ResourceKind) []Resource {
	return c.coord.List(kind)
}

// Do performs an action on the resource with the name or ID. It returns the
// resource after the action, or nil when the action removed it.
func (c *Client) Do(ctx context.Context, kind ResourceKind, nameOrID string, a ActionKind, params map[string]string) (*Resource, error) {
	svc, err := action.NewService(action.ServiceConfig{Performer: c.coord, Logger: c.logger})
	if err != nil {
		return nil, err
	}
	return svc.Run(ctx, action.Request{
		Kind:     kind,
		NameOrID: nameOrID,
		Action:   a,
		Params:   params,
	})
}

// RunScript starts a script run. The run is polled in the background until it
// finishes, opts.Wait blocks until then.
func (c *Client) RunScript(ctx context.Context, nameOrID string, opts *RunScriptOpts) (*Execution, error) {
	if opts == nil {
		opts = &RunScriptOpts{}
	}

	svc, err := run.NewService(run.ServiceConfig{Runner: c.coord, Logger: c.logger})
	if err != nil {
		return nil, err
	}
	resp, err := svc.Run(ctx, run.Request{NameOrID: nameOrID, Wait: opts.Wait})
	if err != nil {
		return nil, err
	}
	return &Execution{Handle: resp.Handle, Result: resp.Result}, nil
}

// StopScript stops a script run.
func (c *Client) StopScript(ctx context.Context, runID string) (ExecutionStatus, error) {
	svc, err := runstop.NewService(runstop.ServiceConfig{Stopper: c.coord, Logger: c.logger})
	if err != nil {
		return "", err
	}
	report, err := svc.Run(ctx, runstop.Request{RunID: runID})
	if err != nil {
		return "", err
	}
	return report.Status, nil
}

// Executions returns the script runs being polled.
func (c *Client) Executions() []ExecutionHandle {
	return c.coord.Executions()
}

// AutomationTypes returns the automation types the server can create.
func (c *Client) AutomationTypes(ctx context.Context) ([]AutomationType, error) {
	svc, err := create.NewService(create.ServiceConfig{Creator: c.coord, Logger: c.logger})
	if err != nil {
		return nil, err
	}
	return svc.Types(ctx)
}

// CreateAutomation creates an automation of a type.
func (c *Client) CreateAutomation(ctx context.Context, automationType string) (*Resource, error) {
	svc, err := create.NewService(create.ServiceConfig{Creator: c.coord, Logger: c.logger})
	if err != nil {
		return nil, err
	}
	return svc.Run(ctx, create.Request{Type: automationType})
}

// ContainerLogs returns the last tail lines of a container logs.
func (c *Client) ContainerLogs(ctx context.Context, nameOrID string, tail int) (string, error) {
	svc, err := logs.NewService(logs.ServiceConfig{Reader: c.coord, Logger: c.logger})
	if err != nil {
		return "", err
	}
	return svc.Run(ctx, logs.Request{NameOrID: nameOrID, Tail: tail})
}

// History returns the finished runs saved locally, newest first.
func (c *Client) History(ctx context.Context, opts *HistoryOpts) ([]ExecutionResult, error) {
	if c.history == nil {
		return nil, fmt.Errorf("history is disabled: %w", ErrNotValid)
	}
	if opts == nil {
		opts = &HistoryOpts{}
	}

	svc, err := history.NewService(history.ServiceConfig{Repository: c.history, Logger: c.logger})
	if err != nil {
		return nil, err
	}
	return svc.Run(ctx, history.Request{
		ResourceID:   opts.Script,
		Limit:        opts.Limit,
		StatusFilter: opts.Status,
	})
}

// OnChange calls fn with a copy of the kind collection every time it changes.
func (c *Client) OnChange(kind ResourceKind, fn func([]Resource)) (unsubscribe func()) {
	return c.coord.OnStoreChanged(kind, fn)
}

// OnExecutionFinished calls fn with the result of every finished script run.
func (c *Client) OnExecutionFinished(fn func(ExecutionResult)) (unsubscribe func()) {
	return c.coord.OnAnyExecutionFinished(fn)
}
