package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/transport"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "rctl"
	apiKeyHeader     = "X-API-Key"
)

// ClientConfig is the configuration for the REST transport.
type ClientConfig struct {
	// ServerURL is the server base URL, e.g. http://localhost:5000.
	ServerURL string
	APIKey    string
	// Timeout is the timeout of every request.
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
	Logger     log.Logger
}

func (c *ClientConfig) defaults() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server url is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server url scheme %q", u.Scheme)
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "transport.REST"})
	return nil
}

// Client talks to the remote control server REST API.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	logger     log.Logger
}

// NewClient returns a new REST transport.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		baseURL:    cfg.ServerURL,
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

var (
	_ transport.Transport            = &Client{}
	_ transport.ExecutionStopper     = &Client{}
	_ transport.AutomationCreator    = &Client{}
	_ transport.AutomationTypeLister = &Client{}
	_ transport.ContainerLogReader   = &Client{}
	_ transport.DockerChecker        = &Client{}
)

// FetchCollection lists all the resources of a kind.
func (c *Client) FetchCollection(ctx context.Context, kind model.ResourceKind) (model.Snapshot, error) {
	snap := model.Snapshot{Kind: kind}

	switch kind {
	case model.KindAutomations:
		var data []automationJSON
		if err := c.do(ctx, http.MethodGet, "/api/automations", nil, &data); err != nil {
			return snap, err
		}
		for _, a := range data {
			snap.Items = append(snap.Items, a.toModel())
		}
	case model.KindScripts:
		var data []scriptJSON
		if err := c.do(ctx, http.MethodGet, "/api/scripts", nil, &data); err != nil {
			return snap, err
		}
		for _, s := range data {
			snap.Items = append(snap.Items, s.toModel())
		}
	case model.KindContainers:
		var data []containerJSON
		if err := c.do(ctx, http.MethodGet, "/api/docker/containers?all=true", nil, &data); err != nil {
			return snap, err
		}
		for _, ct := range data {
			snap.Items = append(snap.Items, ct.toModel())
		}
	default:
		return snap, fmt.Errorf("unknown resource kind %q: %w", kind, model.ErrNotValid)
	}

	return snap, nil
}

// InvokeAction runs a mutating action on a single resource.
func (c *Client) InvokeAction(ctx context.Context, kind model.ResourceKind, id string, action model.ActionKind, params map[string]string) (model.ResourcePatch, error) {
	eid := url.PathEscape(id)

	switch kind {
	case model.KindAutomations:
		var (
			method = http.MethodPost
			path   string
			body   any
		)
		switch action {
		case model.ActionStart:
			path = "/api/automations/" + eid + "/start"
			cfg := params
			if cfg == nil {
				cfg = map[string]string{}
			}
			body = startAutomationJSON{Config: cfg}
		case model.ActionStop:
			path = "/api/automations/" + eid + "/stop"
		case model.ActionDelete:
			method = http.MethodDelete
			path = "/api/automations/" + eid
		default:
			return model.ResourcePatch{}, fmt.Errorf("%s on automations: %w", action, model.ErrNotValid)
		}

		var data *automationStatusJSON
		if err := c.do(ctx, method, path, body, &data); err != nil {
			return model.ResourcePatch{}, err
		}
		if action == model.ActionDelete {
			return model.ResourcePatch{Removed: true}, nil
		}
		if data == nil || data.Status == "" {
			return model.ResourcePatch{}, nil
		}
		return model.StatusPatch(automationStatus(data.Status)), nil

	case model.KindContainers:
		var st model.ResourceStatus
		switch action {
		case model.ActionStart, model.ActionRestart:
			st = model.ResourceStatusRunning
		case model.ActionStop:
			st = model.ResourceStatusIdle
		default:
			return model.ResourcePatch{}, fmt.Errorf("%s on containers: %w", action, model.ErrNotValid)
		}

		var data containerActionJSON
		if err := c.do(ctx, http.MethodPost, "/api/docker/containers/"+eid+"/"+string(action), nil, &data); err != nil {
			return model.ResourcePatch{}, err
		}
		return model.StatusPatch(st), nil

	case model.KindScripts:
		return model.ResourcePatch{}, fmt.Errorf("scripts are run, not %s: %w", action, model.ErrNotValid)
	}

	return model.ResourcePatch{}, fmt.Errorf("unknown resource kind %q: %w", kind, model.ErrNotValid)
}

// RunExecution starts a script run.
func (c *Client) RunExecution(ctx context.Context, resourceID string) (string, error) {
	var data runJSON
	if err := c.do(ctx, http.MethodPost, "/api/scripts/"+url.PathEscape(resourceID)+"/run", nil, &data); err != nil {
		return "", err
	}
	if data.ID == "" {
		return "", fmt.Errorf("missing run id on response: %w", model.ErrTransport)
	}
	return data.ID, nil
}

// FetchExecutionStatus returns the status of a script run.
func (c *Client) FetchExecutionStatus(ctx context.Context, runID string) (model.ExecutionReport, error) {
	var data executionJSON
	if err := c.do(ctx, http.MethodGet, "/api/scripts/status/"+url.PathEscape(runID), nil, &data); err != nil {
		return model.ExecutionReport{}, err
	}
	return data.toModel(runID), nil
}

// StopExecution stops a script run.
func (c *Client) StopExecution(ctx context.Context, runID string) (model.ExecutionReport, error) {
	var data executionJSON
	if err := c.do(ctx, http.MethodPost, "/api/scripts/stop/"+url.PathEscape(runID), nil, &data); err != nil {
		return model.ExecutionReport{}, err
	}
	return data.toModel(runID), nil
}

// CreateAutomation creates a new automation instance of a type.
func (c *Client) CreateAutomation(ctx context.Context, automationType string) (model.TrackedResource, error) {
	var data automationJSON
	if err := c.do(ctx, http.MethodPost, "/api/automations", createAutomationJSON{Type: automationType}, &data); err != nil {
		return model.TrackedResource{}, err
	}
	return data.toModel(), nil
}

// ListAutomationTypes lists the automation types the server can create.
func (c *Client) ListAutomationTypes(ctx context.Context) ([]model.AutomationType, error) {
	var data []automationTypeJSON
	if err := c.do(ctx, http.MethodGet, "/api/automations/types", nil, &data); err != nil {
		return nil, err
	}

	types := make([]model.AutomationType, 0, len(data))
	for _, t := range data {
		types = append(types, t.toModel())
	}
	return types, nil
}

// ContainerLogs returns the last lines of a container logs.
func (c *Client) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	if tail <= 0 {
		tail = 100
	}
	var data containerLogsJSON
	path := "/api/docker/containers/" + url.PathEscape(id) + "/logs?tail=" + strconv.Itoa(tail)
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return "", err
	}
	return data.Logs, nil
}

// DockerAvailable returns true if the server can talk to its Docker daemon.
func (c *Client) DockerAvailable(ctx context.Context) (bool, error) {
	var data dockerStatusJSON
	if err := c.do(ctx, http.MethodGet, "/api/docker/status", nil, &data); err != nil {
		return false, err
	}
	return data.Available, nil
}

type envelopeJSON struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// do sends the request and decodes the envelope data into out.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	logger := c.logger.WithValues(log.Kv{"method": method, "path": path})
	logger.Debugf("Sending request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%s %s: %w: %w", method, path, model.ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w: %w", model.ErrTransport, err)
	}

	var env envelopeJSON
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode >= 500:
		msg := env.Error
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: server error (http %d): %s: %w", method, path, resp.StatusCode, msg, model.ErrTransport)
	case resp.StatusCode >= 400:
		msg := env.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &model.RemoteRejectedError{StatusCode: resp.StatusCode, Message: msg}
	}

	if decodeErr != nil {
		return fmt.Errorf("%s %s: invalid response: %w: %w", method, path, model.ErrTransport, decodeErr)
	}
	if !env.Success {
		return &model.RemoteRejectedError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: invalid response data: %w: %w", method, path, model.ErrTransport, err)
	}

	return nil
}
