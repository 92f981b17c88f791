// Package config loads the moviecache process configuration: a YAML file
// overlaid on Defaults, then environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	EnvRedisAddr = "MOVIECACHE_REDIS_ADDR"
	EnvLogLevel  = "MOVIECACHE_LOG_LEVEL"
)

var ErrConfigNotFound = errors.New("config: file not found")

type Config struct {
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Lock     LockConfig     `yaml:"lock"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Enabled  bool   `yaml:"enabled"`
}

type CacheConfig struct {
	// Provider selects the store: redis (shared), ristretto or bigcache (in-process).
	Provider  string        `yaml:"provider" validate:"oneof=redis ristretto bigcache"`
	Key       string        `yaml:"key" validate:"required"`
	Field     string        `yaml:"field" validate:"required"`
	TTL       time.Duration `yaml:"ttl" validate:"gt=0"`
	Codec     string        `yaml:"codec" validate:"oneof=json msgpack cbor"`
	MaxDecode int           `yaml:"max_decode" validate:"gte=0"`
	// GenTTL expires idle generation keys in Redis; 0 keeps them.
	GenTTL   time.Duration `yaml:"gen_ttl" validate:"gte=0"`
	Disabled bool          `yaml:"disabled"`
}

type LockConfig struct {
	Name          string        `yaml:"name" validate:"required"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	TTL           time.Duration `yaml:"ttl" validate:"gt=0"`
	RetryInterval time.Duration `yaml:"retry_interval" validate:"gt=0"`
}

type UpstreamConfig struct {
	BaseURL    string        `yaml:"base_url" validate:"required,url"`
	FilmsPath  string        `yaml:"films_path" validate:"required,startswith=/"`
	PeoplePath string        `yaml:"people_path" validate:"required,startswith=/"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
}

type LogConfig struct {
	Backend string `yaml:"backend" validate:"oneof=zap logrus"`
	Level   string `yaml:"level" validate:"oneof=debug info warn error"`
	Format  string `yaml:"format" validate:"oneof=console json"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// WarmSchedule is a cron spec for background Refresh; "" disables it.
	WarmSchedule string `yaml:"warm_schedule"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

func Defaults() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Enabled: true,
		},
		Cache: CacheConfig{
			Provider: "redis",
			Key:      "movies_with_people",
			Field:    "payload",
			TTL:      60 * time.Second,
			Codec:    "json",
		},
		Lock: LockConfig{
			Name:          "movies_with_people:lock",
			Timeout:       3 * time.Second,
			TTL:           30 * time.Second,
			RetryInterval: 50 * time.Millisecond,
		},
		Upstream: UpstreamConfig{
			BaseURL:    "https://ghibliapi.herokuapp.com",
			FilmsPath:  "/films",
			PeoplePath: "/people",
			Timeout:    10 * time.Second,
		},
		Log: LogConfig{
			Backend: "zap",
			Level:   "info",
			Format:  "console",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "moviecache",
		},
	}
}

// Load reads path over Defaults. An empty path means defaults plus
// environment only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("MOVIECACHE_REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MOVIECACHE_REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	return nil
}

// Validate checks field rules and the cross-field constraints the tags
// cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Cache.Provider == "redis" && !c.Redis.Enabled {
		return errors.New("config validation failed: cache.provider redis needs redis.enabled")
	}
	// a lock must outlive the worst-case recompute (films + people)
	if c.Lock.TTL < 2*c.Upstream.Timeout {
		return fmt.Errorf("config validation failed: lock.ttl %v shorter than 2 x upstream.timeout %v",
			c.Lock.TTL, c.Upstream.Timeout)
	}
	return nil
}
