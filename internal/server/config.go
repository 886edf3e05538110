// Package server provides configuration helpers that define runtime defaults,
// validation, and file and environment loading for the roomchat relay.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHost              = "0.0.0.0"
	defaultPort              = 8765
	defaultMaxMessageLength  = 10_000
	defaultMaxFrameSize      = 128 * 1024
	defaultMaxUsernameLength = 32
	defaultAuthTimeout       = 15 * time.Second
	defaultSendQueueSize     = 256
	defaultShutdownTimeout   = 10 * time.Second
)

// Config holds the relay configuration. It is fixed once the server starts.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Password is the shared room password. PasswordHash, when set, is a
	// bcrypt hash that takes precedence over Password.
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxMessageLength bounds chat text in runes; longer text is truncated.
	MaxMessageLength int `yaml:"max_message_length"`
	// MaxFrameSize bounds a single inbound WebSocket frame in bytes; larger
	// frames close the connection.
	MaxFrameSize      int64 `yaml:"max_frame_size"`
	MaxUsernameLength int   `yaml:"max_username_length"`

	AuthTimeout     time.Duration `yaml:"auth_timeout"`
	SendQueueSize   int           `yaml:"send_queue_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RefreshUsersAfterCommand broadcasts the user list to everyone after
	// every handled slash command, not only when membership changes.
	RefreshUsersAfterCommand bool `yaml:"refresh_users_after_command"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the built-in defaults. The password is left empty and
// must be supplied before the server will start.
func DefaultConfig() Config {
	return Config{
		Host: defaultHost,
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8765",
			"http://127.0.0.1:8765",
		},
		MaxMessageLength:  defaultMaxMessageLength,
		MaxFrameSize:      defaultMaxFrameSize,
		MaxUsernameLength: defaultMaxUsernameLength,
		AuthTimeout:       defaultAuthTimeout,
		SendQueueSize:     defaultSendQueueSize,
		ShutdownTimeout:   defaultShutdownTimeout,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := DefaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := NewConfig()
	cfg.ApplyEnv()
	return cfg
}

// LoadFile overlays the YAML document at path onto cfg. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from ROOMCHAT_* environment variables. Values
// that fail to parse are ignored.
func (c *Config) ApplyEnv() {
	if host := os.Getenv("ROOMCHAT_HOST"); host != "" {
		c.Host = host
	}

	if port := os.Getenv("ROOMCHAT_PORT"); port != "" {
		c.Port = parseIntValue(port, c.Port)
	}

	if password := os.Getenv("ROOMCHAT_PASSWORD"); password != "" {
		c.Password = password
	}

	if hash := os.Getenv("ROOMCHAT_PASSWORD_HASH"); hash != "" {
		c.PasswordHash = hash
	}

	if origins := os.Getenv("ROOMCHAT_ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = parseOrigins(origins)
	}

	if length := os.Getenv("ROOMCHAT_MAX_MESSAGE_LENGTH"); length != "" {
		c.MaxMessageLength = parseIntValue(length, c.MaxMessageLength)
	}

	if size := os.Getenv("ROOMCHAT_MAX_FRAME_SIZE"); size != "" {
		c.MaxFrameSize = parseInt64Value(size, c.MaxFrameSize)
	}

	if timeout := os.Getenv("ROOMCHAT_AUTH_TIMEOUT"); timeout != "" {
		c.AuthTimeout = parseDuration(timeout, c.AuthTimeout)
	}

	if queue := os.Getenv("ROOMCHAT_SEND_QUEUE_SIZE"); queue != "" {
		c.SendQueueSize = parseIntValue(queue, c.SendQueueSize)
	}

	if refresh := os.Getenv("ROOMCHAT_REFRESH_USERS_AFTER_COMMAND"); refresh != "" {
		if parsed, err := strconv.ParseBool(refresh); err == nil {
			c.RefreshUsersAfterCommand = parsed
		}
	}

	if level := os.Getenv("ROOMCHAT_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// Sanitize returns a copy of the configuration with defaults substituted for
// missing or non-positive values and origins normalized.
func (c Config) Sanitize() Config {
	defaults := DefaultConfig()
	out := c
	out.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)

	if strings.TrimSpace(out.Host) == "" {
		out.Host = defaults.Host
	}
	if out.Port <= 0 || out.Port > 65535 {
		out.Port = defaults.Port
	}
	if out.MaxMessageLength <= 0 {
		out.MaxMessageLength = defaults.MaxMessageLength
	}
	if out.MaxFrameSize <= 0 {
		out.MaxFrameSize = defaults.MaxFrameSize
	}
	if out.MaxUsernameLength <= 0 {
		out.MaxUsernameLength = defaults.MaxUsernameLength
	}
	if out.AuthTimeout <= 0 {
		out.AuthTimeout = defaults.AuthTimeout
	}
	if out.SendQueueSize <= 0 {
		out.SendQueueSize = defaults.SendQueueSize
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if out.LogLevel == "" {
		out.LogLevel = defaults.LogLevel
	}
	if out.LogFormat == "" {
		out.LogFormat = defaults.LogFormat
	}
	return out
}

// Validate reports configuration that cannot be defaulted.
func (c Config) Validate() error {
	if c.Password == "" && c.PasswordHash == "" {
		return errors.New("a room password or password hash is required")
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts either a Go duration ("15s") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
