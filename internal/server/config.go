// Package server provides configuration helpers that define runtime defaults,
// validation, and transport limits for the igloo chat service.
package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the TCP port used when none is configured.
const DefaultPort = 8000

// ErrInvalidPort is returned by ParsePort for non-numeric or out-of-range values.
var ErrInvalidPort = errors.New("invalid port number")

// Config holds the server configuration settings.
type Config struct {
	Host             string
	Port             int
	WebSocketAddr    string
	AllowedOrigins   []string
	MaxMessageSize   int64
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		Port: DefaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:   4096,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 30 * time.Second,
	}
}

// Addr returns the host:port the TCP listener binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port < 0 || cfg.Port > 65535 {
		cfg.Port = DefaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set or invalid.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if host := os.Getenv("CHAT_HOST"); host != "" {
		cfg.Host = host
	}

	if port := os.Getenv("CHAT_PORT"); port != "" {
		if parsed, err := ParsePort(port); err == nil {
			cfg.Port = parsed
		}
	}

	if addr := os.Getenv("CHAT_WS_ADDR"); addr != "" {
		cfg.WebSocketAddr = addr
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if timeout := os.Getenv("WRITE_TIMEOUT"); timeout != "" {
		cfg.WriteTimeout = parseSeconds(timeout, cfg.WriteTimeout)
	}

	if timeout := os.Getenv("HANDSHAKE_TIMEOUT"); timeout != "" {
		cfg.HandshakeTimeout = parseSeconds(timeout, cfg.HandshakeTimeout)
	}

	return &cfg
}

// ParsePort converts a command-line or environment port value into a port number.
func ParsePort(value string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, value)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidPort, port)
	}
	return port, nil
}

// NewLogger returns the console logger used by the server. Every line is
// prefixed with an HH:MM:SS timestamp.
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stdout
	}
	return log.New(w, "", log.Ltime)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
