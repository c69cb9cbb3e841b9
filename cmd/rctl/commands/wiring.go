package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/slok/rctl/internal/config"
	"github.com/slok/rctl/internal/coordinator"
	"github.com/slok/rctl/internal/events"
	"github.com/slok/rctl/internal/events/mqtt"
	"github.com/slok/rctl/internal/events/websocket"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/storage"
	"github.com/slok/rctl/internal/storage/sqlite"
	"github.com/slok/rctl/internal/transport"
	"github.com/slok/rctl/internal/transport/docker"
	"github.com/slok/rctl/internal/transport/rest"
)

// engine is everything a command needs to talk to the server.
type engine struct {
	Coordinator *coordinator.Coordinator
	History     storage.ExecutionRepository

	closers []func() error
}

func (e *engine) Close() {
	if e.Coordinator != nil {
		e.Coordinator.Close()
	}
	for _, c := range e.closers {
		_ = c()
	}
}

type engineOptions struct {
	// push connects the realtime channel when configured.
	push bool
	// history opens the local executions journal.
	history bool
}

func (r *RootCommand) newEngine(ctx context.Context, opts engineOptions) (*engine, error) {
	logger := r.Logger

	cfg, err := r.Config()
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	tr, kinds, err := newTransport(cfg, r)
	if err != nil {
		return nil, err
	}

	e := &engine{}

	if opts.history && !cfg.History.Disabled {
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath: cfg.History.DBPath,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create history repository: %w", err)
		}
		e.History = repo
		e.closers = append(e.closers, repo.Close)
	}

	var channel coordinator.SignalSource
	if opts.push {
		ch, err := newChannel(cfg, r)
		if err != nil {
			e.Close()
			return nil, err
		}
		if ch != nil {
			channel = ch
		}
	}

	coord, err := coordinator.New(coordinator.Config{
		Transport:       tr,
		Channel:         channel,
		History:         e.History,
		Kinds:           kinds,
		PollInterval:    cfg.Poll.Interval.Std(),
		PollMaxAttempts: cfg.Poll.MaxAttempts,
		RefreshInterval: cfg.Refresh.Interval.Std(),
		Logger:          logger,
	})
	if err != nil {
		for _, c := range e.closers {
			_ = c()
		}
		return nil, fmt.Errorf("could not create coordinator: %w", err)
	}
	e.Coordinator = coord

	return e, nil
}

func newTransport(cfg config.Config, r *RootCommand) (transport.Transport, []model.ResourceKind, error) {
	var def transport.Transport
	byKind := map[model.ResourceKind]transport.Transport{}
	kinds := model.AllKinds()

	if cfg.Server.URL != "" {
		client, err := rest.NewClient(rest.ClientConfig{
			ServerURL: cfg.Server.URL,
			APIKey:    cfg.Server.APIKey,
			Timeout:   cfg.Server.Timeout.Std(),
			Logger:    r.Logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create server client: %w", err)
		}
		def = client
	}

	if cfg.Docker.Enabled {
		dt, err := docker.NewTransport(docker.TransportConfig{
			Host:   cfg.Docker.Host,
			Logger: r.Logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create docker transport: %w", err)
		}
		byKind[model.KindContainers] = dt
		if def == nil {
			def = dt
			kinds = []model.ResourceKind{model.KindContainers}
		}
	}

	if def == nil {
		return nil, nil, fmt.Errorf("server url is required (--server-url or server.url on %s): %w", r.ConfigPath, model.ErrNotValid)
	}

	router, err := transport.NewRouter(transport.RouterConfig{Default: def, ByKind: byKind})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create transport router: %w", err)
	}

	return router, kinds, nil
}

func newChannel(cfg config.Config, r *RootCommand) (*events.Channel, error) {
	topics := map[string]model.ResourceKind{}
	for prefix, k := range cfg.Push.Topics {
		kind, err := model.ParseResourceKind(k)
		if err != nil {
			return nil, fmt.Errorf("invalid push topic %q: %w", prefix, err)
		}
		topics[prefix] = kind
	}

	var dialer events.Dialer
	switch cfg.Push.Type {
	case config.PushTypeMQTT:
		var subs []string
		for prefix := range topics {
			subs = append(subs, prefix, strings.TrimSuffix(prefix, "/")+"/#")
		}
		d, err := mqtt.NewDialer(mqtt.DialerConfig{
			BrokerURL:     cfg.Push.URL,
			Subscriptions: subs,
			Username:      cfg.Push.Username,
			Password:      cfg.Push.Password,
			Logger:        r.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create mqtt dialer: %w", err)
		}
		dialer = d
	case config.PushTypeWebsocket:
		d, err := websocket.NewDialer(websocket.DialerConfig{
			URL:    cfg.Push.URL,
			APIKey: cfg.Server.APIKey,
			Logger: r.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create websocket dialer: %w", err)
		}
		dialer = d
	default:
		return nil, nil
	}

	ch, err := events.NewChannel(events.ChannelConfig{
		Dialer: dialer,
		Topics: topics,
		Logger: r.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create event channel: %w", err)
	}

	ch.OnStateChange(func(sc events.StateChange) {
		l := r.Logger
		if sc.Err != nil {
			l.Warningf("Push channel %s (attempt %d): %s", sc.State, sc.Attempts, sc.Err)
			return
		}
		l.Debugf("Push channel %s", sc.State)
	})

	return ch, nil
}
