// Package config loads the marketwire configuration tree from YAML with
// environment variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/marketwire/internal/logging"
)

// Duration is a time.Duration that unmarshals from strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// WebsocketConfig tunes both connections. PrivateURL is the authenticated
// endpoint; empty means the public endpoint serves the private session too.
type WebsocketConfig struct {
	URL          string   `yaml:"url"`
	PrivateURL   string   `yaml:"private_url"`
	DialTimeout  Duration `yaml:"dial_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	AuthTimeout  Duration `yaml:"auth_timeout"`
	PingInterval Duration `yaml:"ping_interval"`
	StaleAfter   Duration `yaml:"stale_after"`
	PendingLimit int      `yaml:"pending_limit"`
}

// ReconnectConfig tunes the reconnection supervisor.
type ReconnectConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	Growth      float64  `yaml:"growth"`
}

// AuthConfig tunes credentials and token renewal. Key and secret come from
// the environment, never from the config file.
type AuthConfig struct {
	Enabled      bool     `yaml:"enabled"`
	RESTBaseURL  string   `yaml:"rest_base_url"`
	TokenPath    string   `yaml:"token_path"`
	SafetyMargin Duration `yaml:"safety_margin"`
	RetryInitial Duration `yaml:"retry_initial"`
	RetryMax     Duration `yaml:"retry_max"`
}

// SubscriptionConfig tunes the subscription registry.
type SubscriptionConfig struct {
	MaxOps      int      `yaml:"max_ops"`
	Window      Duration `yaml:"window"`
	ReplayDelay Duration `yaml:"replay_delay"`
}

// OrderConfig tunes the order gateway.
type OrderConfig struct {
	Timeout    Duration `yaml:"timeout"`
	HistoryCap int      `yaml:"history_cap"`
}

// DispatchConfig tunes queues, callbacks, and sequence sweeping.
type DispatchConfig struct {
	QueueSize       int      `yaml:"queue_size"`
	WorkerQueue     int      `yaml:"worker_queue"`
	SweepInterval   Duration `yaml:"sweep_interval"`
	CallbackTimeout Duration `yaml:"callback_timeout"`
	BufferTTL       Duration `yaml:"buffer_ttl"`
	BufferCap       int      `yaml:"buffer_cap"`
}

// TelemetryConfig tunes metric export.
type TelemetryConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Endpoint string   `yaml:"endpoint"`
	Interval Duration `yaml:"interval"`
}

// Config is the full configuration tree.
type Config struct {
	Environment   string             `yaml:"environment"`
	Websocket     WebsocketConfig    `yaml:"websocket"`
	Reconnect     ReconnectConfig    `yaml:"reconnect"`
	Auth          AuthConfig         `yaml:"auth"`
	Subscriptions SubscriptionConfig `yaml:"subscriptions"`
	Orders        OrderConfig        `yaml:"orders"`
	Dispatch      DispatchConfig     `yaml:"dispatch"`
	Telemetry     TelemetryConfig    `yaml:"telemetry"`
	Logging       logging.Config     `yaml:"logging"`
}

// Default returns the configuration used when the file omits a value.
func Default() Config {
	return Config{
		Environment: "dev",
		Websocket: WebsocketConfig{
			URL:          "wss://ws.kraken.com/v2",
			PrivateURL:   "wss://ws-auth.kraken.com/v2",
			DialTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(5 * time.Second),
			AuthTimeout:  Duration(10 * time.Second),
			PingInterval: Duration(15 * time.Second),
			StaleAfter:   Duration(30 * time.Second),
			PendingLimit: 64,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 10,
			BaseDelay:   Duration(time.Second),
			MaxDelay:    Duration(30 * time.Second),
			Growth:      2,
		},
		Auth: AuthConfig{
			Enabled:      false,
			RESTBaseURL:  "https://api.kraken.com",
			TokenPath:    "/0/private/GetWebSocketsToken",
			SafetyMargin: Duration(2 * time.Minute),
			RetryInitial: Duration(time.Second),
			RetryMax:     Duration(30 * time.Second),
		},
		Subscriptions: SubscriptionConfig{
			MaxOps:      30,
			Window:      Duration(time.Minute),
			ReplayDelay: Duration(100 * time.Millisecond),
		},
		Orders: OrderConfig{
			Timeout:    Duration(10 * time.Second),
			HistoryCap: 256,
		},
		Dispatch: DispatchConfig{
			QueueSize:       1024,
			WorkerQueue:     256,
			SweepInterval:   Duration(time.Second),
			CallbackTimeout: Duration(5 * time.Second),
			BufferTTL:       Duration(5 * time.Second),
			BufferCap:       64,
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Endpoint: "localhost:4318",
			Interval: Duration(15 * time.Second),
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
			File: logging.FileConfig{
				Path:       "",
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 14,
				Compress:   true,
			},
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path loads defaults and overrides only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("MARKETWIRE_ENV")); v != "" {
		c.Environment = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("MARKETWIRE_WS_URL")); v != "" {
		c.Websocket.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKETWIRE_WS_PRIVATE_URL")); v != "" {
		c.Websocket.PrivateURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKETWIRE_AUTH_REST_URL")); v != "" {
		c.Auth.RESTBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKETWIRE_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKETWIRE_OTLP_ENDPOINT")); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Websocket.URL) == "" {
		return fmt.Errorf("websocket.url is required")
	}
	if c.Reconnect.Growth <= 1 {
		return fmt.Errorf("reconnect.growth must be greater than 1, got %v", c.Reconnect.Growth)
	}
	if c.Reconnect.BaseDelay.Std() > c.Reconnect.MaxDelay.Std() {
		return fmt.Errorf("reconnect.base_delay exceeds reconnect.max_delay")
	}
	if c.Subscriptions.MaxOps <= 0 {
		return fmt.Errorf("subscriptions.max_ops must be positive")
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.RESTBaseURL) == "" {
		return fmt.Errorf("auth.rest_base_url is required when auth is enabled")
	}
	return nil
}
