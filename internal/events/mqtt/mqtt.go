package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/slok/rctl/internal/events"
	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
)

// DefaultSubscriptions are the topic filters subscribed by default.
var DefaultSubscriptions = []string{
	"rctl/automations/#",
	"rctl/scripts/#",
	"rctl/containers/#",
	"status_update",
}

// DialerConfig is the configuration for the MQTT dialer.
type DialerConfig struct {
	// BrokerURL is the broker address, e.g. tcp://localhost:1883.
	BrokerURL     string
	Subscriptions []string
	Username      string
	Password      string
	QoS           byte
	// ConnectTimeout is the max time waiting for connect and subscribe.
	ConnectTimeout time.Duration
	Logger         log.Logger
}

func (c *DialerConfig) defaults() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("broker url is required")
	}
	if len(c.Subscriptions) == 0 {
		c.Subscriptions = DefaultSubscriptions
	}
	if c.QoS > 2 {
		return fmt.Errorf("invalid QoS %d", c.QoS)
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "events.MQTTDialer"})
	return nil
}

// Dialer connects to an MQTT broker and subscribes to the resource topics.
// Reconnection is handled by the event channel, not by the MQTT client.
type Dialer struct {
	cfg    DialerConfig
	logger log.Logger
}

// NewDialer returns a new MQTT dialer.
func NewDialer(cfg DialerConfig) (*Dialer, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Dialer{cfg: cfg, logger: cfg.Logger}, nil
}

var _ events.Dialer = &Dialer{}

type conn struct {
	client    pahomqtt.Client
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *conn) Closed() <-chan struct{} { return c.closed }

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.client.IsConnected() {
			c.client.Disconnect(250)
		}
	})
	return nil
}

func (c *conn) lost() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Dial connects to the broker and subscribes to the configured topics.
func (d *Dialer) Dial(ctx context.Context, handler func(events.Notification)) (events.Conn, error) {
	c := &conn{closed: make(chan struct{})}

	opts := pahomqtt.NewClientOptions().AddBroker(d.cfg.BrokerURL)
	opts.SetClientID("rctl-" + uuid.New().String())
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(d.cfg.ConnectTimeout)
	if d.cfg.Username != "" {
		opts.SetUsername(d.cfg.Username)
		opts.SetPassword(d.cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		d.logger.Warningf("MQTT connection lost: %s", err)
		c.lost()
	})

	c.client = pahomqtt.NewClient(opts)
	if err := waitToken(ctx, c.client.Connect(), d.cfg.ConnectTimeout); err != nil {
		// Abort a connect still in progress, it waits for the attempt to end.
		go c.client.Disconnect(0)
		return nil, fmt.Errorf("could not connect to MQTT broker %s: %w: %w", d.cfg.BrokerURL, model.ErrTransport, err)
	}

	filters := make(map[string]byte, len(d.cfg.Subscriptions))
	for _, s := range d.cfg.Subscriptions {
		filters[s] = d.cfg.QoS
	}
	onMessage := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(events.Notification{Topic: msg.Topic(), Payload: msg.Payload()})
	}
	if err := waitToken(ctx, c.client.SubscribeMultiple(filters, onMessage), d.cfg.ConnectTimeout); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("could not subscribe to MQTT topics: %w: %w", model.ErrTransport, err)
	}

	d.logger.Debugf("Subscribed to %d MQTT topics", len(filters))
	return c, nil
}

func waitToken(ctx context.Context, t pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	case <-t.Done():
		return t.Error()
	}
}
