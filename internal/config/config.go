// Package config loads filedrop settings from an optional YAML file and the environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/aretw0/filedrop/internal/logging"
	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/session"
	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

// Config is the complete runtime configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Session SessionConfig `mapstructure:"session"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" env:"FILEDROP_HOST"`
	Port int    `mapstructure:"port" env:"FILEDROP_PORT"`
	// BaseURL prefixes links to uploaded files on the index page.
	BaseURL string `mapstructure:"base_url" env:"BASE_URL"`
}

type UploadConfig struct {
	Dir      string `mapstructure:"dir" env:"FILEDROP_UPLOAD_DIR"`
	MaxBytes int64  `mapstructure:"max_bytes" env:"FILEDROP_UPLOAD_MAX_BYTES"`
}

type SessionConfig struct {
	TTL          time.Duration `mapstructure:"ttl" env:"FILEDROP_SESSION_TTL"`
	TTLPolicy    string        `mapstructure:"ttl_policy" env:"FILEDROP_SESSION_TTL_POLICY"`
	CookieName   string        `mapstructure:"cookie_name" env:"FILEDROP_COOKIE_NAME"`
	CookieSecure bool          `mapstructure:"cookie_secure" env:"FILEDROP_COOKIE_SECURE"`
	// CookieSecret signs session cookies. Empty means a random secret per process.
	CookieSecret string `mapstructure:"cookie_secret" env:"FILEDROP_COOKIE_SECRET"`
}

type StoreConfig struct {
	Backend       string        `mapstructure:"backend" env:"FILEDROP_STORE_BACKEND"`
	Expiry        string        `mapstructure:"expiry" env:"FILEDROP_STORE_EXPIRY"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" env:"FILEDROP_STORE_SWEEP_INTERVAL"`
	Redis         RedisConfig   `mapstructure:"redis"`
	File          FileConfig    `mapstructure:"file"`

	// EncryptionKey is a hex-encoded 32-byte AES key. Empty disables encryption.
	EncryptionKey string `mapstructure:"encryption_key" env:"FILEDROP_ENCRYPTION_KEY"`
	// FallbackKeys are older hex keys still accepted for decryption.
	FallbackKeys []string `mapstructure:"fallback_keys" env:"FILEDROP_FALLBACK_KEYS"`
	// RedactPatterns mask matching state keys in session listings.
	RedactPatterns []string `mapstructure:"redact_patterns" env:"FILEDROP_REDACT_PATTERNS"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" env:"FILEDROP_REDIS_ADDR"`
	Password string `mapstructure:"password" env:"FILEDROP_REDIS_PASSWORD"`
	DB       int    `mapstructure:"db" env:"FILEDROP_REDIS_DB"`
	Prefix   string `mapstructure:"prefix" env:"FILEDROP_REDIS_PREFIX"`
}

type FileConfig struct {
	Dir string `mapstructure:"dir" env:"FILEDROP_FILE_DIR"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" env:"FILEDROP_LOG_LEVEL"`
	Format string `mapstructure:"format" env:"FILEDROP_LOG_FORMAT"`
}

// Default returns the built-in configuration. BaseURL is taken from BASE_URL.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8081,
			BaseURL: os.Getenv("BASE_URL"),
		},
		Upload: UploadConfig{
			Dir:      "./uploads",
			MaxBytes: 32 << 20,
		},
		Session: SessionConfig{
			TTL:        session.DefaultTTL,
			TTLPolicy:  session.OnStateChanges.String(),
			CookieName: "id",
		},
		Store: StoreConfig{
			Backend:       BackendMemory,
			Expiry:        domain.ExpiryNone.String(),
			SweepInterval: 30 * time.Second,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "filedrop:session:",
			},
			File: FileConfig{
				Dir: ".filedrop/sessions",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(logging.FormatText),
		},
	}
}

// Load builds a Config from Default, the YAML file at path (skipped when path is
// empty) and the environment, in increasing order of precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}

		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			Result:           &cfg,
		})
		if err != nil {
			return cfg, err
		}
		if err := decoder.Decode(raw); err != nil {
			return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid environment: %w", err)
	}

	return cfg, nil
}

// Addr returns the host:port the server listens on.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// EncryptionKeys decodes the active and fallback keys. A nil active key means encryption is off.
func (c Config) EncryptionKeys() (active []byte, fallbacks [][]byte, err error) {
	if c.Store.EncryptionKey == "" {
		return nil, nil, nil
	}
	active, err = decodeKey(c.Store.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption_key: %w", err)
	}
	for i, k := range c.Store.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback_keys[%d]: %w", i, err)
		}
		fallbacks = append(fallbacks, key)
	}
	return active, fallbacks, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Upload.Dir == "" {
		errs = append(errs, errors.New("upload.dir is required"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("upload.max_bytes must be positive"))
	}
	if c.Session.TTL < 0 {
		errs = append(errs, errors.New("session.ttl must not be negative"))
	}
	if _, err := session.ParseTTLPolicy(c.Session.TTLPolicy); err != nil {
		errs = append(errs, fmt.Errorf("session.ttl_policy: %w", err))
	}
	if c.Session.CookieName == "" {
		errs = append(errs, errors.New("session.cookie_name is required"))
	}

	switch c.Store.Backend {
	case BackendMemory, BackendFile:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	policy, err := domain.ParseExpiryPolicy(c.Store.Expiry)
	if err != nil {
		errs = append(errs, fmt.Errorf("store.expiry: %w", err))
	} else if policy != domain.ExpiryNone && c.Store.Backend != BackendMemory {
		errs = append(errs, fmt.Errorf("store.expiry %q is only supported by the memory backend", policy))
	}
	if policy == domain.ExpiryActive && c.Store.SweepInterval <= 0 {
		errs = append(errs, errors.New("store.sweep_interval must be positive for active expiry"))
	}

	if _, _, err := c.EncryptionKeys(); err != nil {
		errs = append(errs, fmt.Errorf("store.%w", err))
	}
	for _, p := range c.Store.RedactPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("store.redact_patterns: %w", err))
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}

	return errors.Join(errs...)
}
