package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/rctl/internal/conventions"
	"github.com/slok/rctl/internal/poll"
)

// Push channel types.
const (
	PushTypeNone      = "none"
	PushTypeMQTT      = "mqtt"
	PushTypeWebsocket = "websocket"
)

const defaultRequestTimeout = 15 * time.Second

// Duration is a time.Duration that decodes from strings like "1500ms" or "1m".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the rctl client configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Push    PushConfig    `yaml:"push" toml:"push"`
	Poll    PollConfig    `yaml:"poll" toml:"poll"`
	Refresh RefreshConfig `yaml:"refresh" toml:"refresh"`
	Docker  DockerConfig  `yaml:"docker" toml:"docker"`
	History HistoryConfig `yaml:"history" toml:"history"`
}

type ServerConfig struct {
	URL     string   `yaml:"url" toml:"url"`
	APIKey  string   `yaml:"api_key" toml:"api_key"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

// PushConfig selects the realtime notification channel.
type PushConfig struct {
	Type     string `yaml:"type" toml:"type"`
	URL      string `yaml:"url" toml:"url"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	// Topics maps topic prefixes to resource kinds, empty uses the defaults.
	Topics map[string]string `yaml:"topics" toml:"topics"`
}

type PollConfig struct {
	Interval    Duration `yaml:"interval" toml:"interval"`
	MaxAttempts int      `yaml:"max_attempts" toml:"max_attempts"`
}

// RefreshConfig is the periodic full refresh, a zero interval disables it.
type RefreshConfig struct {
	Interval Duration `yaml:"interval" toml:"interval"`
}

// DockerConfig makes containers go directly to a docker daemon instead of the server.
type DockerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Host    string `yaml:"host" toml:"host"`
}

type HistoryConfig struct {
	Disabled bool   `yaml:"disabled" toml:"disabled"`
	DBPath   string `yaml:"db_path" toml:"db_path"`
}

// Default returns the configuration used when nothing has been configured.
func Default() Config {
	return Config{
		Server: ServerConfig{Timeout: Duration(defaultRequestTimeout)},
		Push:   PushConfig{Type: PushTypeNone},
		Poll: PollConfig{
			Interval:    Duration(poll.DefaultInterval),
			MaxAttempts: poll.DefaultMaxAttempts,
		},
		History: HistoryConfig{DBPath: conventions.HistoryDBPath(homedir.HomeDir())},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return conventions.ConfigPath(homedir.HomeDir())
}

// Load reads the config file at path. YAML or TOML is selected by the file extension.
// A missing file returns the defaults.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	path = ExpandPath(path)

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("could not read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("could not parse config %s: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) normalize() {
	def := Default()

	c.Server.URL = strings.TrimRight(strings.TrimSpace(c.Server.URL), "/")
	if c.Server.Timeout <= 0 {
		c.Server.Timeout = def.Server.Timeout
	}
	c.Push.Type = strings.ToLower(strings.TrimSpace(c.Push.Type))
	if c.Push.Type == "" {
		c.Push.Type = PushTypeNone
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = def.Poll.Interval
	}
	if c.Poll.MaxAttempts <= 0 {
		c.Poll.MaxAttempts = def.Poll.MaxAttempts
	}
	if c.History.DBPath == "" {
		c.History.DBPath = def.History.DBPath
	}
	c.History.DBPath = ExpandPath(c.History.DBPath)
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	switch c.Push.Type {
	case PushTypeNone:
	case PushTypeMQTT, PushTypeWebsocket:
		if c.Push.URL == "" {
			return fmt.Errorf("push url is required for %s push", c.Push.Type)
		}
	default:
		return fmt.Errorf("unknown push type %q", c.Push.Type)
	}

	if c.Refresh.Interval < 0 {
		return fmt.Errorf("refresh interval can't be negative")
	}

	return nil
}

// ExpandPath expands a leading `~` to the user home directory.
func ExpandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "~" {
		return homedir.HomeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homedir.HomeDir(), path[2:])
	}
	return path
}
