package config

import "time"

// Config holds the demo client configuration.
type Config struct {
	// WSURL is the realtime websocket endpoint; empty selects the
	// in-process loopback transport.
	WSURL string `mapstructure:"ws_url" yaml:"ws_url"`
	// Room is the room name to join.
	Room string `mapstructure:"room" yaml:"room"`
	// User is the client id announced on the wire.
	User string `mapstructure:"user" yaml:"user"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// TypingTimeout is the typing indicator debounce window.
	TypingTimeout time.Duration `mapstructure:"typing_timeout" yaml:"typing_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Room:          "general",
		LogLevel:      "info",
		TypingTimeout: 5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.WSURL != "" {
		c.WSURL = other.WSURL
	}
	if other.Room != "" {
		c.Room = other.Room
	}
	if other.User != "" {
		c.User = other.User
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.TypingTimeout != 0 {
		c.TypingTimeout = other.TypingTimeout
	}
}
