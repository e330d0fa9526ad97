package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var defaultConfigPaths = []string{
	".",
	"/etc/deploypilot",
}

// Config holds everything the agent needs to run. Values come from the
// environment first, then an optional agent.yaml, then defaults.
type Config struct {
	ServerToken           string
	BackendURL            string
	PollInterval          time.Duration
	HeartbeatInterval     time.Duration
	LogLevel              string
	LogPath               string
	MaxConcurrentCommands int
	Port                  int
	BuildRoot             string
}

func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("BACKEND_URL", "http://localhost:4000")
	v.SetDefault("POLL_INTERVAL_MS", 10000)
	v.SetDefault("HEARTBEAT_INTERVAL_MS", 30000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PATH", "")
	v.SetDefault("MAX_CONCURRENT_COMMANDS", 3)
	v.SetDefault("PORT", 3000)
	v.SetDefault("BUILD_ROOT", "/tmp/deploypilot-builds")

	v.SetConfigName("agent")
	v.SetConfigType("yaml")
	for _, p := range defaultConfigPaths {
		v.AddConfigPath(p)
	}
	// A config file is optional; the environment alone is a valid setup.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		ServerToken:           v.GetString("SERVER_TOKEN"),
		BackendURL:            v.GetString("BACKEND_URL"),
		PollInterval:          time.Duration(v.GetInt("POLL_INTERVAL_MS")) * time.Millisecond,
		HeartbeatInterval:     time.Duration(v.GetInt("HEARTBEAT_INTERVAL_MS")) * time.Millisecond,
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogPath:               v.GetString("LOG_PATH"),
		MaxConcurrentCommands: v.GetInt("MAX_CONCURRENT_COMMANDS"),
		Port:                  v.GetInt("PORT"),
		BuildRoot:             v.GetString("BUILD_ROOT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerToken == "" {
		return fmt.Errorf("SERVER_TOKEN is required")
	}
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if c.MaxConcurrentCommands < 1 {
		return fmt.Errorf("MAX_CONCURRENT_COMMANDS must be at least 1")
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL_MS must be at least 1000")
	}
	return nil
}
