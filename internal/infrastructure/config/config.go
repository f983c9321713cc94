package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Prefix namespaces every environment variable, e.g. PILOT_SERVER_PORT.
const Prefix = "PILOT"

// Engines understood by Browser.Engine.
const (
	EngineSandbox = "sandbox"
	EngineChrome  = "chrome"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit" envconfig:"RATE_LIMIT"`
	Browser   BrowserConfig   `yaml:"browser" toml:"browser"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" yaml:"host" toml:"host"`
}

// Addr is host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds per-IP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// BrowserConfig holds the defaults applied to new sessions.
type BrowserConfig struct {
	Engine           string   `envconfig:"ENGINE" yaml:"engine" toml:"engine"`
	ChromeBin        string   `envconfig:"CHROME_BIN" yaml:"chrome_bin" toml:"chrome_bin"`
	ControlURL       string   `envconfig:"CONTROL_URL" yaml:"control_url" toml:"control_url"`
	Headful          bool     `envconfig:"HEADFUL" yaml:"headful" toml:"headful"`
	Args             []string `envconfig:"ENGINE_ARGS" yaml:"args" toml:"args"`
	SessionTTL       Duration `envconfig:"SESSION_TTL" yaml:"session_ttl" toml:"session_ttl"`
	AjaxTimeout      Duration `envconfig:"AJAX_TIMEOUT" yaml:"ajax_timeout" toml:"ajax_timeout"`
	ScreenshotFolder string   `envconfig:"SCREENSHOT_FOLDER" yaml:"screenshot_folder" toml:"screenshot_folder"`
	TraceResources   bool     `envconfig:"TRACE_RESOURCES" yaml:"trace_resources" toml:"trace_resources"`
	MaxSessions      int      `envconfig:"MAX_SESSIONS" yaml:"max_sessions" toml:"max_sessions"`
}

// Duration is a time.Duration written as "30s" in files and the environment.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load builds configuration from defaults, then the optional file at path
// (.yaml, .yml or .toml), then PILOT_* environment variables. Each nested
// variable also falls back to its short name, so PILOT_SERVER_PORT and
// PORT both set the port.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, cfg)
	case ".toml":
		err = toml.Unmarshal(raw, cfg)
	default:
		return fmt.Errorf("unsupported config file %s: want .yaml, .yml or .toml", path)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadOrDefault loads configuration from the environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load("")
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Browser.Engine {
	case EngineSandbox, EngineChrome:
	default:
		return fmt.Errorf("invalid config: unknown engine %q", c.Browser.Engine)
	}
	if c.Server.Port == "" {
		return fmt.Errorf("invalid config: empty server port")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid config: rate limit needs positive rps and burst")
	}
	if c.Browser.MaxSessions < 0 {
		return fmt.Errorf("invalid config: negative max sessions")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		Browser: BrowserConfig{
			Engine:      EngineSandbox,
			SessionTTL:  Duration(60 * time.Second),
			AjaxTimeout: Duration(60 * time.Second),
			MaxSessions: 32,
		},
	}
}
