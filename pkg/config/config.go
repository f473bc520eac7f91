// Package config provides YAML-based configuration loading for the relay.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harshalgadre/file-share/pkg/protocol"
)

// Expiry policies for session deadlines.
const (
	ExpiryFixed   = "fixed"   // deadline set once at creation (reference behavior)
	ExpirySliding = "sliding" // deadline reset on join and chunk activity
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the process
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Server holds listener addresses and the public base URL for share links
	Server ServerConfig `mapstructure:"server"`

	// Session controls session lifetime and expiry policy
	Session SessionConfig `mapstructure:"session"`

	// Transfer controls client-side chunking and flow control
	Transfer TransferConfig `mapstructure:"transfer"`

	// Staging controls the transient file artifact store
	Staging StagingConfig `mapstructure:"staging"`
}

// ServerConfig defines the relay's listeners.
type ServerConfig struct {
	// HTTPListen is the address for the gin server (websocket upgrade,
	// health, metrics). Empty disables it.
	HTTPListen string `mapstructure:"http_listen"`
	// TCPListen is the address for the raw length-prefixed TCP listener.
	// Empty disables it.
	TCPListen string `mapstructure:"tcp_listen"`
	// PublicBaseURL is the page URL encoded into share links.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// SessionConfig defines session lifetime behavior.
type SessionConfig struct {
	// TTL is the session timeout. Reference value: 5 minutes.
	TTL time.Duration `mapstructure:"ttl"`
	// ExpiryPolicy: "fixed" or "sliding".
	ExpiryPolicy string `mapstructure:"expiry_policy"`
}

// TransferConfig defines client-side transfer tuning.
type TransferConfig struct {
	// ChunkSize in bytes for file fragments.
	ChunkSize int `mapstructure:"chunk_size"`
	// SendWindow is the number of unacknowledged chunks a sender keeps in
	// flight before blocking.
	SendWindow int `mapstructure:"send_window"`
	// SendRateBytesPerSec shapes chunk emission; 0 disables shaping.
	SendRateBytesPerSec int64 `mapstructure:"send_rate_bytes_per_sec"`
}

// StagingConfig defines the transient artifact store purged per session.
type StagingConfig struct {
	Enable   bool          `mapstructure:"enable"`
	TTL      time.Duration `mapstructure:"ttl"`
	MaxBytes uint64        `mapstructure:"max_bytes"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "fileshare-relay",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/fileshare.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Server: ServerConfig{
			HTTPListen:    ":8080",
			PublicBaseURL: "http://localhost:8080/",
		},
		Session: SessionConfig{
			TTL:          5 * time.Minute,
			ExpiryPolicy: ExpiryFixed,
		},
		Transfer: TransferConfig{
			ChunkSize:  protocol.ChunkSize,
			SendWindow: 32,
		},
		Staging: StagingConfig{
			Enable:   false,
			TTL:      10 * time.Minute,
			MaxBytes: 256 << 20,
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix FILESHARE and `.`/`-` are replaced
// with `_`. Example: FILESHARE_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FILESHARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("server.http_listen", cfg.Server.HTTPListen)
	v.SetDefault("server.tcp_listen", cfg.Server.TCPListen)
	v.SetDefault("server.public_base_url", cfg.Server.PublicBaseURL)
	v.SetDefault("session.ttl", cfg.Session.TTL)
	v.SetDefault("session.expiry_policy", cfg.Session.ExpiryPolicy)
	v.SetDefault("transfer.chunk_size", cfg.Transfer.ChunkSize)
	v.SetDefault("transfer.send_window", cfg.Transfer.SendWindow)
	v.SetDefault("transfer.send_rate_bytes_per_sec", cfg.Transfer.SendRateBytesPerSec)
	v.SetDefault("staging.enable", cfg.Staging.Enable)
	v.SetDefault("staging.ttl", cfg.Staging.TTL)
	v.SetDefault("staging.max_bytes", cfg.Staging.MaxBytes)

	// Choose config file
	if path == "" {
		if envPath := os.Getenv("FILESHARE_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fileshare")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".fileshare"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	switch strings.ToLower(strings.TrimSpace(c.Session.ExpiryPolicy)) {
	case "", ExpiryFixed:
		c.Session.ExpiryPolicy = ExpiryFixed
	case ExpirySliding:
		c.Session.ExpiryPolicy = ExpirySliding
	default:
		return fmt.Errorf("invalid session.expiry_policy: %q", c.Session.ExpiryPolicy)
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = 5 * time.Minute
	}

	if c.Transfer.ChunkSize <= 0 {
		c.Transfer.ChunkSize = protocol.ChunkSize
	}
	if c.Transfer.SendWindow <= 0 {
		c.Transfer.SendWindow = 32
	}
	if c.Transfer.SendRateBytesPerSec < 0 {
		return fmt.Errorf("invalid transfer.send_rate_bytes_per_sec: %d", c.Transfer.SendRateBytesPerSec)
	}

	if c.Server.HTTPListen == "" && c.Server.TCPListen == "" {
		return fmt.Errorf("no listeners configured: set server.http_listen or server.tcp_listen")
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
