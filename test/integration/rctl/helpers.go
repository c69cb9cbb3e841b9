package rctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/slok/rctl/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "rctl"
	}

	// go test changes the CWD to the package directory.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("RCTL_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("rctl binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "RCTL_INTEGRATION"
		envBinary     = "RCTL_INTEGRATION_BINARY"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{Binary: os.Getenv(envBinary)}
	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// RunCmd runs an rctl command against a server using home as the user home (history
// database location) and without config file.
func RunCmd(ctx context.Context, config Config, serverURL, home, cmdArgs string) (stdout, stderr []byte, err error) {
	cmd := testutils.Cmd{
		Binary: config.Binary,
		Env: []string{
			"RCTL_SERVER_URL=" + serverURL,
			"RCTL_CONFIG=" + filepath.Join(home, "missing.yaml"),
			"HOME=" + home,
		},
		Quiet: true,
	}
	return cmd.Run(ctx, cmdArgs)
}

// FakeServer is an in-memory remote control server.
type FakeServer struct {
	*httptest.Server

	mu          sync.Mutex
	automations map[string]string
	runChecks   map[string]int
	runs        int
}

// NewFakeServer starts a fake server with the "lights" automation, the "backup.sh"
// script and the "grafana" container.
func NewFakeServer(t *testing.T) *FakeServer {
	t.Helper()

	f := &FakeServer{
		automations: map[string]string{"a1": "stopped"},
		runChecks:   map[string]int{},
	}
	f.Server = httptest.NewServer(f.handler())
	t.Cleanup(f.Close)

	return f
}

func reply(w http.ResponseWriter, status int, data any, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": errMsg == "", "data": data, "error": errMsg})
}

func (f *FakeServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/automations", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		items := []map[string]any{}
		if st, ok := f.automations["a1"]; ok {
			items = append(items, map[string]any{"id": "a1", "name": "lights", "status": st, "config": map[string]any{}})
		}
		reply(w, http.StatusOK, items, "")
	})
	mux.HandleFunc("POST /api/automations/{id}/{action}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.automations[r.PathValue("id")]; !ok {
			reply(w, http.StatusNotFound, nil, "Automation not found")
			return
		}
		st := "stopped"
		if r.PathValue("action") == "start" {
			st = "running"
		}
		f.automations[r.PathValue("id")] = st
		reply(w, http.StatusOK, map[string]any{"status": st}, "")
	})
	mux.HandleFunc("DELETE /api/automations/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.automations, r.PathValue("id"))
		reply(w, http.StatusOK, nil, "")
	})
	mux.HandleFunc("GET /api/scripts", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []map[string]any{
			{"filename": "backup.sh", "extension": ".sh", "size": 120, "modified": "2024-05-01T10:00:00"},
		}, "")
	})
	mux.HandleFunc("POST /api/scripts/backup.sh/run", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.runs++
		id := fmt.Sprintf("run-%d", f.runs)
		reply(w, http.StatusOK, map[string]any{"id": id, "filename": "backup.sh", "status": "running"}, "")
	})
	mux.HandleFunc("GET /api/scripts/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		f.runChecks[id]++
		st := "running"
		if f.runChecks[id] >= 2 {
			st = "completed"
		}
		reply(w, http.StatusOK, map[string]any{"id": id, "filename": "backup.sh", "status": st, "output": "backup done", "return_code": 0}, "")
	})
	mux.HandleFunc("GET /api/docker/status", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"available": true}, "")
	})
	mux.HandleFunc("GET /api/docker/containers", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []map[string]any{
			{"id": "0123456789abcdef", "name": "grafana", "image": "grafana/grafana", "state": "running", "status": "Up 2 hours", "is_running": true},
		}, "")
	})
	mux.HandleFunc("GET /api/docker/containers/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"container_id": r.PathValue("id"), "logs": "grafana started\n", "success": true}, "")
	})

	return mux
}
