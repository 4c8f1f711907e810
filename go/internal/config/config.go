// Package config loads the daemon configuration from an optional YAML file
// with environment variable overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// NATSConfig holds the JetStream key-value settings.
type NATSConfig struct {
	URL          string        `yaml:"url"`
	Bucket       string        `yaml:"bucket"`
	EphemeralTTL time.Duration `yaml:"ephemeral_ttl"`
}

// Config holds the daemon settings.
type Config struct {
	StoreBackend string     `yaml:"store_backend"`
	NATS         NATSConfig `yaml:"nats"`

	GatewayAddr string `yaml:"gateway_addr"`

	UserID        string `yaml:"user_id"`
	Nickname      string `yaml:"nickname"`
	Admin         bool   `yaml:"admin"`
	Lang          string `yaml:"lang"`
	Notifications bool   `yaml:"notifications"`

	PrefsPath string `yaml:"prefs_path"`
	LogLevel  string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		StoreBackend: BackendMemory,
		NATS: NATSConfig{
			URL:          "nats://localhost:4222",
			Bucket:       "spawnsync",
			EphemeralTTL: 30 * time.Second,
		},
		GatewayAddr:   ":8082",
		Lang:          "ar",
		Notifications: true,
		PrefsPath:     defaultPrefsPath(),
		LogLevel:      "info",
	}
}

func defaultPrefsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "spawnsync.yaml"
	}
	return home + "/.spawnsync.yaml"
}

// Load reads path (if non-empty and present) over the defaults, then applies
// environment overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus env only.
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.StoreBackend = getEnv("STORE_BACKEND", c.StoreBackend)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Bucket = getEnv("NATS_BUCKET", c.NATS.Bucket)
	if v := os.Getenv("NATS_EPHEMERAL_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.NATS.EphemeralTTL = d
		}
	}
	c.GatewayAddr = getEnv("GATEWAY_ADDR", c.GatewayAddr)
	c.UserID = getEnv("USER_ID", c.UserID)
	c.Nickname = getEnv("NICKNAME", c.Nickname)
	c.Admin = getBool("ADMIN", c.Admin)
	c.Lang = getEnv("LANG_CODE", c.Lang)
	c.Notifications = getBool("NOTIFICATIONS", c.Notifications)
	c.PrefsPath = getEnv("PREFS_PATH", c.PrefsPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendNATS:
	default:
		return fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	if c.NATS.EphemeralTTL <= 0 {
		return fmt.Errorf("config: ephemeral TTL must be positive, got %s", c.NATS.EphemeralTTL)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
