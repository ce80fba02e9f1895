// Package config loads the monitor configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/technosupport/ts-vms-monitor/internal/logger"
)

const DefaultPath = "config/monitor.yaml"

type Config struct {
	API struct {
		BaseURL   string `yaml:"base_url"`
		TimeoutMS int    `yaml:"timeout_ms"`
		UserAgent string `yaml:"user_agent"`
	} `yaml:"api"`

	Realtime struct {
		URL                string `yaml:"url"`
		ColdStartDelayMS   int    `yaml:"cold_start_delay_ms"`
		RetryDelayMS       int    `yaml:"retry_delay_ms"`
		ReconnectDelayMS   int    `yaml:"reconnect_delay_ms"`
		MaxAttempts        int    `yaml:"max_attempts"`
		HandshakeTimeoutMS int    `yaml:"handshake_timeout_ms"`
		EventBuffer        int    `yaml:"event_buffer"`
	} `yaml:"realtime"`

	Cache struct {
		Backend              string `yaml:"backend"` // memory | redis
		RedisAddr            string `yaml:"redis_addr"`
		RedisPassword        string `yaml:"redis_password"`
		Namespace            string `yaml:"namespace"`
		ExpirySeconds        int    `yaml:"expiry_seconds"`
		RetentionSeconds     int    `yaml:"retention_seconds"`
		MaxEntries           int    `yaml:"max_entries"`
		CheckpointIntervalMS int    `yaml:"checkpoint_interval_ms"`
		StaleAfterMS         int    `yaml:"stale_after_ms"`
		RefreshIntervalMS    int    `yaml:"refresh_interval_ms"`
		RefreshBackoffMS     int    `yaml:"refresh_backoff_ms"`
	} `yaml:"cache"`

	Session struct {
		ID string `yaml:"id"`
	} `yaml:"session"`

	Auth struct {
		TokenFile string `yaml:"token_file"`
		Token     string `yaml:"-"`
	} `yaml:"auth"`

	Status struct {
		Listen         string   `yaml:"listen"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"status"`

	Relay struct {
		NATSURL    string `yaml:"nats_url"`
		Subject    string `yaml:"subject"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"relay"`

	Anomalies struct {
		Limit       int `yaml:"limit"`
		RecentLimit int `yaml:"recent_limit"`
	} `yaml:"anomalies"`

	Cameras struct {
		PublicSubdomain  string `yaml:"public_subdomain"`
		StreamDedupTTLMS int    `yaml:"stream_dedup_ttl_ms"`
	} `yaml:"cameras"`

	Log logger.Config `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var c Config
	c.API.BaseURL = "http://localhost:5000/api"
	c.API.TimeoutMS = 10000
	c.API.UserAgent = "ts-vms-monitor/1.0"

	c.Realtime.ColdStartDelayMS = 2000
	c.Realtime.RetryDelayMS = 2000
	c.Realtime.ReconnectDelayMS = 3000
	c.Realtime.MaxAttempts = 3
	c.Realtime.HandshakeTimeoutMS = 30000
	c.Realtime.EventBuffer = 256

	c.Cache.Backend = "memory"
	c.Cache.RedisAddr = "localhost:6379"
	c.Cache.Namespace = "vms_monitor"
	c.Cache.ExpirySeconds = 300
	c.Cache.MaxEntries = 256
	c.Cache.CheckpointIntervalMS = 60000
	c.Cache.StaleAfterMS = 60000
	c.Cache.RefreshIntervalMS = 30000
	c.Cache.RefreshBackoffMS = 60000

	c.Auth.TokenFile = "config/token"
	c.Status.Listen = "127.0.0.1:9470"

	c.Relay.Subject = "vms.monitor.anomalies"
	c.Relay.MaxRetries = 3

	c.Anomalies.Limit = 100
	c.Anomalies.RecentLimit = 10

	c.Cameras.StreamDedupTTLMS = 600000

	c.Log.Level = "info"
	c.Log.Output = "stdout"
	return c
}

// Load reads path over the defaults, applies MONITOR_* overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	cfg := Default()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.API.BaseURL = getEnv("MONITOR_API_URL", c.API.BaseURL)
	c.Realtime.URL = getEnv("MONITOR_REALTIME_URL", c.Realtime.URL)
	c.Auth.Token = getEnv("MONITOR_TOKEN", c.Auth.Token)
	c.Auth.TokenFile = getEnv("MONITOR_TOKEN_FILE", c.Auth.TokenFile)
	c.Cache.Backend = getEnv("MONITOR_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.RedisAddr = getEnv("MONITOR_REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getEnv("MONITOR_REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Session.ID = getEnv("MONITOR_SESSION_ID", c.Session.ID)
	c.Status.Listen = getEnv("MONITOR_STATUS_LISTEN", c.Status.Listen)
	c.Relay.NATSURL = getEnv("MONITOR_NATS_URL", c.Relay.NATSURL)
	c.Log.Level = getEnv("MONITOR_LOG_LEVEL", c.Log.Level)
	c.Realtime.MaxAttempts = getEnvInt("MONITOR_REALTIME_MAX_ATTEMPTS", c.Realtime.MaxAttempts)
}

func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("api.base_url %q is not an absolute url", c.API.BaseURL)
	}
	if c.Realtime.URL != "" {
		ru, err := url.Parse(c.Realtime.URL)
		if err != nil || (ru.Scheme != "ws" && ru.Scheme != "wss") {
			return fmt.Errorf("realtime.url %q must be a ws:// or wss:// url", c.Realtime.URL)
		}
	}
	if c.Realtime.MaxAttempts < 1 {
		return fmt.Errorf("realtime.max_attempts must be at least 1, got %d", c.Realtime.MaxAttempts)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend %q: want memory or redis", c.Cache.Backend)
	}
	if c.Cache.ExpirySeconds <= 0 {
		return fmt.Errorf("cache.expiry_seconds must be positive")
	}
	if c.Anomalies.Limit <= 0 || c.Anomalies.RecentLimit <= 0 {
		return fmt.Errorf("anomalies limits must be positive")
	}
	return nil
}

// RealtimeURL is the configured push endpoint, or one derived from the
// API base url (http -> ws, path /ws) when unset.
func (c Config) RealtimeURL() string {
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String()
}

func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
