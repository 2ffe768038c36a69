package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Terminal  TerminalConfig
	Agent     AgentConfig
	Workspace WorkspaceConfig
	Store     StoreConfig
	Notify    NotifyConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// AuthConfig holds access-token configuration. An empty token disables auth.
type AuthConfig struct {
	Token string `envconfig:"AUTH_TOKEN" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig holds allowed browser origins.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// TerminalConfig holds terminal multiplexer configuration.
type TerminalConfig struct {
	Shell          string        `envconfig:"TERMINAL_SHELL" default:""`
	BufferSize     int           `envconfig:"TERMINAL_BUFFER_SIZE" default:"1048576"`
	IdleTimeout    time.Duration `envconfig:"TERMINAL_IDLE_TIMEOUT" default:"10m"`
	SweepInterval  time.Duration `envconfig:"TERMINAL_SWEEP_INTERVAL" default:"60s"`
	MaxConnsPerIP  int           `envconfig:"MAX_CONNS_PER_IP" default:"10"`
	MaxMessageSize int           `envconfig:"MAX_MESSAGE_BYTES" default:"65536"`
	RateWindow     time.Duration `envconfig:"MSG_RATE_WINDOW" default:"1s"`
	RateMax        int           `envconfig:"MSG_RATE_MAX" default:"100"`
}

// AgentConfig holds agent engine configuration.
type AgentConfig struct {
	MaxConcurrent   int           `envconfig:"MAX_CONCURRENT_AGENTS" default:"4"`
	DefaultMaxCost  float64       `envconfig:"DEFAULT_MAX_COST_USD" default:"5.0"`
	MaxPromptChars  int           `envconfig:"MAX_PROMPT_CHARS" default:"32768"`
	MaxMessages     int           `envconfig:"MAX_MESSAGES" default:"200"`
	CheckpointEvery int           `envconfig:"CHECKPOINT_EVERY" default:"5"`
	TTL             time.Duration `envconfig:"AGENT_TTL" default:"1h"`
	EvictInterval   time.Duration `envconfig:"AGENT_EVICT_INTERVAL" default:"5m"`
	ClaudeBin       string        `envconfig:"CLAUDE_BIN" default:"claude"`
	CodexBin        string        `envconfig:"CODEX_BIN" default:"codex"`
}

// WorkspaceConfig holds registered workspace roots.
type WorkspaceConfig struct {
	Roots []string `envconfig:"WORKSPACE_ROOTS" default:"."`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Driver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	Path   string `envconfig:"STORE_PATH" default:"deckd.db"`
}

// NotifyConfig holds outbound notification configuration.
type NotifyConfig struct {
	SlackToken   string `envconfig:"SLACK_TOKEN" default:""`
	SlackChannel string `envconfig:"SLACK_CHANNEL" default:""`
	WebhookURL   string `envconfig:"WEBHOOK_URL" default:""`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
		Terminal: TerminalConfig{
			BufferSize:     1 << 20,
			IdleTimeout:    10 * time.Minute,
			SweepInterval:  60 * time.Second,
			MaxConnsPerIP:  10,
			MaxMessageSize: 64 * 1024,
			RateWindow:     time.Second,
			RateMax:        100,
		},
		Agent: AgentConfig{
			MaxConcurrent:   4,
			DefaultMaxCost:  5.0,
			MaxPromptChars:  32768,
			MaxMessages:     200,
			CheckpointEvery: 5,
			TTL:             time.Hour,
			EvictInterval:   5 * time.Minute,
			ClaudeBin:       "claude",
			CodexBin:        "codex",
		},
		Workspace: WorkspaceConfig{
			Roots: []string{"."},
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "deckd.db",
		},
	}
}

// Validate checks invariants the rest of the daemon relies on.
func (c *Config) Validate() error {
	if c.Terminal.BufferSize <= 0 {
		return fmt.Errorf("terminal buffer size must be positive, got %d", c.Terminal.BufferSize)
	}
	if c.Terminal.MaxConnsPerIP <= 0 {
		return fmt.Errorf("max connections per IP must be positive, got %d", c.Terminal.MaxConnsPerIP)
	}
	if c.Agent.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent agents must be positive, got %d", c.Agent.MaxConcurrent)
	}
	if c.Agent.MaxMessages < 2 {
		// Compaction keeps the first message plus the most recent N-1.
		return fmt.Errorf("max messages must be at least 2, got %d", c.Agent.MaxMessages)
	}
	if c.Agent.CheckpointEvery <= 0 {
		return fmt.Errorf("checkpoint interval must be positive, got %d", c.Agent.CheckpointEvery)
	}
	if len(c.Workspace.Roots) == 0 {
		return fmt.Errorf("at least one workspace root is required")
	}
	switch c.Store.Driver {
	case "sqlite", "file":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// File holds settings loaded from an optional YAML config file. These cover
// structured values that are awkward to express as environment variables.
type File struct {
	Workspaces []FileWorkspace `yaml:"workspaces"`
	Ignore     []string        `yaml:"ignore"`
	Notify     FileNotify      `yaml:"notify"`
}

// FileWorkspace declares one workspace root with a stable identifier.
type FileWorkspace struct {
	ID   string `yaml:"id"`
	Path string `yaml:"path"`
}

// FileNotify declares notification targets.
type FileNotify struct {
	SlackToken   string `yaml:"slack_token"`
	SlackChannel string `yaml:"slack_channel"`
	WebhookURL   string `yaml:"webhook_url"`
}

// DefaultFileName is probed when CONFIG_FILE is unset.
const DefaultFileName = "deckd.yaml"

// LoadFile reads the YAML overlay. A missing file is an error only when the
// path was requested explicitly.
func LoadFile(path string, explicit bool) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return &File{}, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &f, nil
}

// Merge overlays file settings onto the environment-derived config. File
// values win for the fields they set.
func (c *Config) Merge(f *File) {
	if f == nil {
		return
	}
	if len(f.Workspaces) > 0 {
		roots := make([]string, 0, len(f.Workspaces))
		for _, w := range f.Workspaces {
			roots = append(roots, w.Path)
		}
		c.Workspace.Roots = roots
	}
	if f.Notify.SlackToken != "" {
		c.Notify.SlackToken = f.Notify.SlackToken
	}
	if f.Notify.SlackChannel != "" {
		c.Notify.SlackChannel = f.Notify.SlackChannel
	}
	if f.Notify.WebhookURL != "" {
		c.Notify.WebhookURL = f.Notify.WebhookURL
	}
}
