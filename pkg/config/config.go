package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerAddr   string   `yaml:"server_addr"`
	TrustProxy   bool     `yaml:"trust_proxy"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"` // bytes for /v1/observe payloads
	Outputs      []string `yaml:"outputs"`        // enabled sinks: log, kafka, postgres

	Store      string `yaml:"store"` // memory, sqlite or redis
	SQLitePath string `yaml:"sqlite_path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`

	HMACSecret    string `yaml:"hmac_secret"`
	HMACPublicKey string `yaml:"hmac_public_key"`
	RequireHMAC   bool   `yaml:"require_hmac"`

	TrackersFile     string        `yaml:"trackers_file"` // merged over the built-in database
	RetentionDays    int           `yaml:"retention_days"`
	SessionIdle      time.Duration `yaml:"session_idle"`
	ClassifyCacheMB  int           `yaml:"classify_cache_mb"`
	ClassifyCacheTTL time.Duration `yaml:"classify_cache_ttl"`
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
func getInt(k string, def int) int {
	return int(getInt64(k, int64(def)))
}
func getDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getStringSlice(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Defaults is the configuration used when neither a file nor the
// environment says otherwise
func Defaults() Config {
	return Config{
		ServerAddr:       ":19890",
		MaxBodyBytes:     1 << 20, // 1 MiB
		Outputs:          []string{"log"},
		Store:            "memory",
		SQLitePath:       "phantomtrail.db",
		RedisAddr:        "127.0.0.1:6379",
		RedisPrefix:      "phantomtrail",
		RetentionDays:    7,
		SessionIdle:      30 * time.Minute,
		ClassifyCacheMB:  16,
		ClassifyCacheTTL: 10 * time.Minute,
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any), and finally the environment.
func Load() (Config, error) {
	c := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := c.overlayFile(path); err != nil {
			return c, err
		}
	}
	c.overlayEnv()
	return c, c.Validate()
}

func (c *Config) overlayFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.ServerAddr = getOr("SERVER_ADDR", c.ServerAddr)
	c.TrustProxy = getBool("TRUST_PROXY", c.TrustProxy)
	c.MaxBodyBytes = getInt64("MAX_BODY_BYTES", c.MaxBodyBytes)
	c.Outputs = getStringSlice("OUTPUTS", c.Outputs)

	c.Store = strings.ToLower(getOr("STORE", c.Store))
	c.SQLitePath = getOr("SQLITE_PATH", c.SQLitePath)
	c.RedisAddr = getOr("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getOr("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getInt("REDIS_DB", c.RedisDB)
	c.RedisPrefix = getOr("REDIS_PREFIX", c.RedisPrefix)

	c.HMACSecret = getOr("HMAC_SECRET", c.HMACSecret)
	c.HMACPublicKey = getOr("HMAC_PUBLIC_KEY", c.HMACPublicKey)
	c.RequireHMAC = getBool("REQUIRE_HMAC", c.RequireHMAC)

	c.TrackersFile = getOr("TRACKERS_FILE", c.TrackersFile)
	c.RetentionDays = getInt("RETENTION_DAYS", c.RetentionDays)
	c.SessionIdle = getDuration("SESSION_IDLE", c.SessionIdle)
	c.ClassifyCacheMB = getInt("CLASSIFY_CACHE_MB", c.ClassifyCacheMB)
	c.ClassifyCacheTTL = getDuration("CLASSIFY_CACHE_TTL", c.ClassifyCacheTTL)
}

// Validate rejects settings the server cannot start with
func (c Config) Validate() error {
	switch c.Store {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("config: unknown STORE %q (want memory, sqlite or redis)", c.Store)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("config: RETENTION_DAYS must not be negative, got %d", c.RetentionDays)
	}
	if c.RequireHMAC && c.HMACSecret == "" {
		return fmt.Errorf("config: REQUIRE_HMAC is set but HMAC_SECRET is empty")
	}
	return nil
}

// Retention is how long events are kept; zero disables pruning
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
