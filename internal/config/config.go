// Package config loads the appshost configuration from YAML or JSON-with-comments files and
// the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/sirupsen/logrus"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Config holds the appshost configuration.
type Config struct {
	Server   ServerConfig `yaml:"server" json:"server"`
	Store    StoreConfig  `yaml:"store" json:"store"`
	Log      LogConfig    `yaml:"log" json:"log"`
	Widget   WidgetConfig `yaml:"widget" json:"widget"`
	Protocol string       `yaml:"protocol" json:"protocol"`
}

// ServerConfig configures the HTTP endpoints of the demo host.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	// BaseURL is the externally visible address used in the SSE endpoint event.
	BaseURL                string  `yaml:"base_url" json:"base_url"`
	SSEPath                string  `yaml:"sse_path" json:"sse_path"`
	MessagePath            string  `yaml:"message_path" json:"message_path"`
	WebSocketPath          string  `yaml:"websocket_path" json:"websocket_path"`
	WidgetPath             string  `yaml:"widget_path" json:"widget_path"`
	RateLimit              float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst              int     `yaml:"rate_burst" json:"rate_burst"`
	ShutdownTimeoutSeconds int     `yaml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
	// SendTimeoutSeconds bounds posting a response to a guest.
	SendTimeoutSeconds int `yaml:"send_timeout_seconds" json:"send_timeout_seconds"`
}

// StoreConfig selects the tool state store. An empty RedisAddr means the in-memory store.
type StoreConfig struct {
	RedisAddr  string `yaml:"redis_addr" json:"redis_addr"`
	TTLSeconds int    `yaml:"ttl_seconds" json:"ttl_seconds"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// WidgetConfig describes the widget the demo host serves.
type WidgetConfig struct {
	ID          string `yaml:"id" json:"id"`
	HTMLPath    string `yaml:"html_path" json:"html_path"`
	Theme       string `yaml:"theme" json:"theme"`
	Locale      string `yaml:"locale" json:"locale"`
	DisplayMode string `yaml:"display_mode" json:"display_mode"`
}

const (
	envListenAddr = "APPSHOST_LISTEN_ADDR"
	envRedisAddr  = "APPSHOST_REDIS_ADDR"
	envLogLevel   = "APPSHOST_LOG_LEVEL"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:             ":8080",
			SSEPath:                "/sse",
			MessagePath:            "/message",
			WebSocketPath:          "/ws",
			WidgetPath:             "/widget",
			RateLimit:              20,
			RateBurst:              40,
			ShutdownTimeoutSeconds: 10,
			SendTimeoutSeconds:     30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Widget: WidgetConfig{
			ID:          "shop",
			Theme:       "light",
			Locale:      "en-US",
			DisplayMode: "inline",
		},
	}
}

// Load reads the file at path over the defaults, applies environment overrides and validates
// the result. An empty path skips the file. Files ending in .yaml or .yml are YAML with
// environment variables expanded; .json, .jsonc and .hujson files may contain comments and
// trailing commas.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := decode(path, content, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	if _, err := mcpapps.ParseProtocol(c.Protocol); err != nil {
		errs = append(errs, fmt.Errorf("protocol: %w", err))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit: must not be negative"))
	}
	if c.Widget.ID == "" {
		errs = append(errs, errors.New("widget.id: must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ProtocolOverride returns the parsed protocol override.
func (c Config) ProtocolOverride() mcpapps.Protocol {
	// Validate already rejected unknown values.
	p, _ := mcpapps.ParseProtocol(c.Protocol)
	return p
}

// NewLogger builds a logger from the log section.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// Expand env vars before unmarshalling
		return yaml.Unmarshal([]byte(os.ExpandEnv(string(content))), cfg)
	case ".json", ".jsonc", ".hujson":
		std, err := hujson.Standardize(content)
		if err != nil {
			return err
		}
		return json.Unmarshal(std, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv(envRedisAddr); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(mcpapps.ProtocolEnv); v != "" {
		cfg.Protocol = v
	}
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = def.Server.ListenAddr
	}
	if c.Server.SSEPath == "" {
		c.Server.SSEPath = def.Server.SSEPath
	}
	if c.Server.MessagePath == "" {
		c.Server.MessagePath = def.Server.MessagePath
	}
	if c.Server.WebSocketPath == "" {
		c.Server.WebSocketPath = def.Server.WebSocketPath
	}
	if c.Server.WidgetPath == "" {
		c.Server.WidgetPath = def.Server.WidgetPath
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = def.Server.RateBurst
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = def.Server.ShutdownTimeoutSeconds
	}
	if c.Server.SendTimeoutSeconds <= 0 {
		c.Server.SendTimeoutSeconds = def.Server.SendTimeoutSeconds
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}
