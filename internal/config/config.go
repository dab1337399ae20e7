package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	API           APIConfig
	Server        ServerConfig
	Storage       StorageConfig
	Log           LogConfig
	Cache         CacheConfig
	Notifications NotificationsConfig
}

// APIConfig points at the dynasty REST backend.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ServerConfig controls the local dashboard served by `dynasty serve`.
type ServerConfig struct {
	Port int
	// Token, when set, is required as a bearer token on every dashboard route
	// except /health.
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type CacheConfig struct {
	GCTime time.Duration
}

type NotificationsConfig struct {
	PollInterval      time.Duration
	InboxPollInterval time.Duration
}

func defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080/api/v2",
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Cache: CacheConfig{
			GCTime: 5 * time.Minute,
		},
		Notifications: NotificationsConfig{
			PollInterval:      30 * time.Second,
			InboxPollInterval: 15 * time.Second,
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/dynasty/config.json, then applies DYNASTY_* environment
// overrides. Secrets are only read from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api.base_url %q: must be an absolute http(s) URL", cfg.API.BaseURL)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", cfg.API.Timeout)
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "dynasty-data"
		}
	}
	return filepath.Join(dir, "dynasty")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "dynasty", "config.json")
}
