package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slok/rctl/internal/events"
	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
)

// Frame is the JSON message sent by the server on every event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DialerConfig is the configuration for the websocket dialer.
type DialerConfig struct {
	// URL is the websocket endpoint, e.g. ws://localhost:5000/ws.
	URL    string
	APIKey string
	// HandshakeTimeout is the max time for the websocket handshake.
	HandshakeTimeout time.Duration
	// PingInterval is the interval between keepalive pings, the connection is
	// considered lost if no pong is received in two intervals.
	PingInterval time.Duration
	Logger       log.Logger
}

func (c *DialerConfig) defaults() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "events.WebsocketDialer"})
	return nil
}

// Dialer connects to the server event stream over a websocket.
type Dialer struct {
	cfg    DialerConfig
	dialer *websocket.Dialer
	logger log.Logger
}

// NewDialer returns a new websocket dialer.
func NewDialer(cfg DialerConfig) (*Dialer, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Dialer{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger: cfg.Logger,
	}, nil
}

var _ events.Dialer = &Dialer{}

type conn struct {
	ws        *websocket.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *conn) Closed() <-chan struct{} { return c.closed }

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// Dial opens the websocket and starts reading frames in the background.
func (d *Dialer) Dial(ctx context.Context, handler func(events.Notification)) (events.Conn, error) {
	header := http.Header{}
	if d.cfg.APIKey != "" {
		header.Set("X-API-Key", d.cfg.APIKey)
	}

	ws, resp, err := d.dialer.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("could not connect to %s (http %d): %w: %w", d.cfg.URL, resp.StatusCode, model.ErrTransport, err)
		}
		return nil, fmt.Errorf("could not connect to %s: %w: %w", d.cfg.URL, model.ErrTransport, err)
	}

	c := &conn{ws: ws, closed: make(chan struct{})}

	deadline := 2 * d.cfg.PingInterval
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})

	go d.readLoop(c, handler, deadline)
	go d.pingLoop(c)

	return c, nil
}

func (d *Dialer) readLoop(c *conn, handler func(events.Notification), deadline time.Duration) {
	defer func() { _ = c.Close() }()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				d.logger.Warningf("Websocket read failed: %s", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			d.logger.Debugf("Ignoring unparsable websocket frame")
			continue
		}
		handler(events.Notification{Topic: f.Event, Payload: f.Data})
	}
}

func (d *Dialer) pingLoop(c *conn) {
	t := time.NewTicker(d.cfg.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-t.C:
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(d.cfg.PingInterval))
			if err != nil {
				d.logger.Debugf("Websocket ping failed: %s", err)
				_ = c.Close()
				return
			}
		}
	}
}
