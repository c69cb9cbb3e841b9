package rest_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/transport/rest"
)

type recordedReq struct {
	Method string
	Path   string
	Query  string
	APIKey string
	Body   string
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *recordedReq) {
	rec := &recordedReq{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*rec = recordedReq{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			APIKey: r.Header.Get("X-API-Key"),
			Body:   string(b),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newClient(t *testing.T, url string) *rest.Client {
	c, err := rest.NewClient(rest.ClientConfig{ServerURL: url + "/", APIKey: "k1"})
	require.NoError(t, err)
	return c
}

func TestClientFetchCollection(t *testing.T) {
	tests := map[string]struct {
		kind     model.ResourceKind
		body     string
		expPath  string
		expItems []model.TrackedResource
	}{
		"Automations should be mapped.": {
			kind:    model.KindAutomations,
			expPath: "/api/automations",
			body: `{"success":true,"data":[
				{"id":"a1","name":"Lights","description":"d","status":"stopped","config":null,"last_run":null,"error_message":null},
				{"id":"a2","name":"Backup","description":"","status":"scheduled","config":{"hour":3},"last_run":"2024-01-01T00:00:00","error_message":null}
			]}`,
			expItems: []model.TrackedResource{
				{ID: "a1", Kind: model.KindAutomations, Status: model.ResourceStatusIdle, Fields: map[string]string{"name": "Lights", "description": "d", "state": "stopped"}},
				{ID: "a2", Kind: model.KindAutomations, Status: model.ResourceStatusRunning, Running: true, Fields: map[string]string{"name": "Backup", "description": "", "state": "scheduled", "config": "hour=3", "last_run": "2024-01-01T00:00:00"}},
			},
		},
		"Scripts should be keyed by filename.": {
			kind:    model.KindScripts,
			expPath: "/api/scripts",
			body:    `{"success":true,"data":[{"filename":"backup.sh","path":"/s/backup.sh","extension":".sh","size":10,"modified":"m","is_running":true}]}`,
			expItems: []model.TrackedResource{
				{ID: "backup.sh", Kind: model.KindScripts, Status: model.ResourceStatusRunning, Running: true, Fields: map[string]string{"name": "backup.sh", "extension": ".sh", "size": "10", "modified": "m"}},
			},
		},
		"Containers should map their state.": {
			kind:    model.KindContainers,
			expPath: "/api/docker/containers",
			body:    `{"success":true,"data":[{"id":"c1","name":"web","image":"nginx","status":"Exited (0)","state":"exited","ports":"","created":"c","is_running":false}]}`,
			expItems: []model.TrackedResource{
				{ID: "c1", Kind: model.KindContainers, Status: model.ResourceStatusIdle, Fields: map[string]string{"name": "web", "image": "nginx", "state": "exited", "status": "Exited (0)", "ports": "", "created": "c"}},
			},
		},
		"An empty collection should be empty.": {
			kind:    model.KindScripts,
			expPath: "/api/scripts",
			body:    `{"success":true,"data":[]}`,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			srv, rec := newServer(t, http.StatusOK, test.body)
			c := newClient(t, srv.URL)

			snap, err := c.FetchCollection(context.TODO(), test.kind)
			require.NoError(err)
			require.Equal(test.kind, snap.Kind)
			require.Equal(test.expItems, snap.Items)
			require.Equal(test.expPath, rec.Path)
			require.Equal(http.MethodGet, rec.Method)
			require.Equal("k1", rec.APIKey)
		})
	}
}

func TestClientErrors(t *testing.T) {
	tests := map[string]struct {
		status    int
		body      string
		expErr    error
		expNotErr error
		expMsg    string
	}{
		"A 4xx should be a remote rejection with the verbatim message.": {
			status:    http.StatusNotFound,
			body:      `{"success":false,"error":"Automation not found: a1"}`,
			expErr:    model.ErrRemoteRejected,
			expNotErr: model.ErrTransport,
			expMsg:    "Automation not found: a1",
		},
		"A 401 should be a remote rejection.": {
			status: http.StatusUnauthorized,
			body:   `{"success":false,"error":"Invalid or missing API key"}`,
			expErr: model.ErrRemoteRejected,
			expMsg: "Invalid or missing API key",
		},
		"A 5xx should be a transport error.": {
			status:    http.StatusInternalServerError,
			body:      `{"success":false,"error":"Internal server error"}`,
			expErr:    model.ErrTransport,
			expNotErr: model.ErrRemoteRejected,
		},
		"A not successful envelope should be a remote rejection.": {
			status: http.StatusOK,
			body:   `{"success":false,"error":"nope"}`,
			expErr: model.ErrRemoteRejected,
			expMsg: "nope",
		},
		"An invalid body should be a transport error.": {
			status: http.StatusOK,
			body:   `<html>`,
			expErr: model.ErrTransport,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			srv, _ := newServer(t, test.status, test.body)
			c := newClient(t, srv.URL)

			_, err := c.InvokeAction(context.TODO(), model.KindAutomations, "a1", model.ActionStop, nil)
			assert.ErrorIs(err, test.expErr)
			if test.expNotErr != nil {
				assert.NotErrorIs(err, test.expNotErr)
			}
			if test.expMsg != "" {
				var rerr *model.RemoteRejectedError
				if assert.ErrorAs(err, &rerr) {
					assert.Equal(test.expMsg, rerr.Message)
				}
			}
		})
	}
}

func TestClientUnreachableServerShouldBeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newClient(t, url)
	_, err := c.FetchCollection(context.TODO(), model.KindContainers)
	assert.ErrorIs(t, err, model.ErrTransport)
}

func TestClientInvokeAction(t *testing.T) {
	tests := map[string]struct {
		kind      model.ResourceKind
		id        string
		action    model.ActionKind
		params    map[string]string
		body      string
		expMethod string
		expPath   string
		expBody   map[string]any
		expPatch  model.ResourcePatch
		expErr    error
	}{
		"Starting an automation should send the config.": {
			kind:      model.KindAutomations,
			id:        "a1",
			action:    model.ActionStart,
			params:    map[string]string{"hour": "3"},
			body:      `{"success":true,"data":{"id":"a1","status":"running"}}`,
			expMethod: http.MethodPost,
			expPath:   "/api/automations/a1/start",
			expBody:   map[string]any{"config": map[string]any{"hour": "3"}},
			expPatch:  model.StatusPatch(model.ResourceStatusRunning),
		},
		"Stopping an automation should confirm the status.": {
			kind:      model.KindAutomations,
			id:        "a1",
			action:    model.ActionStop,
			body:      `{"success":true,"data":{"id":"a1","status":"stopped"}}`,
			expMethod: http.MethodPost,
			expPath:   "/api/automations/a1/stop",
			expPatch:  model.StatusPatch(model.ResourceStatusIdle),
		},
		"Deleting an automation should mark it removed.": {
			kind:      model.KindAutomations,
			id:        "a1",
			action:    model.ActionDelete,
			body:      `{"success":true}`,
			expMethod: http.MethodDelete,
			expPath:   "/api/automations/a1",
			expPatch:  model.ResourcePatch{Removed: true},
		},
		"Restarting a container should confirm running.": {
			kind:      model.KindContainers,
			id:        "c1",
			action:    model.ActionRestart,
			body:      `{"success":true,"data":{"container_id":"c1","action":"restarted"}}`,
			expMethod: http.MethodPost,
			expPath:   "/api/docker/containers/c1/restart",
			expPatch:  model.StatusPatch(model.ResourceStatusRunning),
		},
		"Deleting a container should not be valid.": {
			kind:   model.KindContainers,
			id:     "c1",
			action: model.ActionDelete,
			expErr: model.ErrNotValid,
		},
		"Actions on scripts should not be valid.": {
			kind:   model.KindScripts,
			id:     "backup.sh",
			action: model.ActionStart,
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			srv, rec := newServer(t, http.StatusOK, test.body)
			c := newClient(t, srv.URL)

			patch, err := c.InvokeAction(context.TODO(), test.kind, test.id, test.action, test.params)
			if test.expErr != nil {
				require.ErrorIs(err, test.expErr)
				require.Empty(rec.Path)
				return
			}
			require.NoError(err)
			require.Equal(test.expPatch, patch)
			require.Equal(test.expMethod, rec.Method)
			require.Equal(test.expPath, rec.Path)
			if test.expBody != nil {
				var got map[string]any
				require.NoError(json.Unmarshal([]byte(rec.Body), &got))
				require.Equal(test.expBody, got)
			}
		})
	}
}

func TestClientExecutions(t *testing.T) {
	require := require.New(t)

	srv, rec := newServer(t, http.StatusOK, `{"success":true,"data":{"id":"r1","filename":"backup.sh","status":"running"}}`)
	c := newClient(t, srv.URL)
	runID, err := c.RunExecution(context.TODO(), "backup.sh")
	require.NoError(err)
	require.Equal("r1", runID)
	require.Equal("/api/scripts/backup.sh/run", rec.Path)

	srv, rec = newServer(t, http.StatusOK, `{"success":true,"data":{"id":"r1","filename":"backup.sh","status":"completed","output":"done","error":"","return_code":0}}`)
	c = newClient(t, srv.URL)
	report, err := c.FetchExecutionStatus(context.TODO(), "r1")
	require.NoError(err)
	zero := 0
	require.Equal(model.ExecutionReport{RunID: "r1", ResourceID: "backup.sh", Status: model.ExecutionStatusCompleted, Output: "done", ReturnCode: &zero}, report)
	require.Equal("/api/scripts/status/r1", rec.Path)

	srv, rec = newServer(t, http.StatusOK, `{"success":true,"data":{"id":"r1","filename":"backup.sh","status":"stopped","return_code":null}}`)
	c = newClient(t, srv.URL)
	report, err = c.StopExecution(context.TODO(), "r1")
	require.NoError(err)
	require.Equal(model.ExecutionStatusStopped, report.Status)
	require.Nil(report.ReturnCode)
	require.Equal("/api/scripts/stop/r1", rec.Path)
	require.Equal(http.MethodPost, rec.Method)
}

func TestClientAutomationTypesAndCreate(t *testing.T) {
	require := require.New(t)

	srv, _ := newServer(t, http.StatusOK, `{"success":true,"data":[{"type":"Backup","name":"Backup","description":"d","config_schema":[{"key":"hour","label":"Hour","type":"number","required":true,"default":3,"options":null}]}]}`)
	c := newClient(t, srv.URL)
	types, err := c.ListAutomationTypes(context.TODO())
	require.NoError(err)
	require.Equal([]model.AutomationType{{
		Type:        "Backup",
		Name:        "Backup",
		Description: "d",
		ConfigSchema: []model.ConfigField{
			{Key: "hour", Label: "Hour", Type: "number", Required: true, Default: "3"},
		},
	}}, types)

	srv, rec := newServer(t, http.StatusCreated, `{"success":true,"data":{"id":"a9","name":"Backup","description":"d","status":"stopped"}}`)
	c = newClient(t, srv.URL)
	res, err := c.CreateAutomation(context.TODO(), "Backup")
	require.NoError(err)
	require.Equal("a9", res.ID)
	require.Equal(model.ResourceStatusIdle, res.Status)
	require.JSONEq(`{"type":"Backup"}`, rec.Body)
}

func TestClientContainerLogs(t *testing.T) {
	require := require.New(t)

	srv, rec := newServer(t, http.StatusOK, `{"success":true,"data":{"container_id":"c1","logs":"line1\nline2\n","success":true}}`)
	c := newClient(t, srv.URL)

	logs, err := c.ContainerLogs(context.TODO(), "c1", 50)
	require.NoError(err)
	require.Equal("line1\nline2\n", logs)
	require.Equal("/api/docker/containers/c1/logs", rec.Path)
	require.Equal("tail=50", rec.Query)

	srv, _ = newServer(t, http.StatusOK, `{"success":true,"data":{"available":true}}`)
	c = newClient(t, srv.URL)
	ok, err := c.DockerAvailable(context.TODO())
	require.NoError(err)
	require.True(ok)
}
