package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr    = ":8084"
	DefaultLogFile       = "notifyd.log"
	DefaultBulkPoolSize  = 8
	DefaultSendTimeout   = 10 * time.Second
	DefaultSweepInterval = 1 * time.Minute
	DefaultRetention     = 1 * time.Hour
)

// RatePolicy is one named (window, max requests) pair. The limiter
// itself is policy-agnostic; callers pick the policy per route class.
type RatePolicy struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

// Template is one named message template pair.
type Template struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

// BackoffConfig holds the webhook retry backoff shape.
type BackoffConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      float64       `yaml:"jitter"`
}

type Config struct {
	ListenAddr    string        `yaml:"listen_addr"`
	LogFile       string        `yaml:"log_file"`
	BulkPoolSize  int           `yaml:"bulk_pool_size"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Retention     time.Duration `yaml:"retention"`

	RatePolicies map[string]RatePolicy `yaml:"rate_policies"`
	Backoff      BackoffConfig         `yaml:"backoff"`
	Templates    map[string]Template   `yaml:"templates"`

	// Optional external collaborators; empty means disabled.
	PostgresURL string `yaml:"postgres_url"`
	NATSURL     string `yaml:"nats_url"`
	RedisURL    string `yaml:"redis_url"`
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:    DefaultListenAddr,
		LogFile:       DefaultLogFile,
		BulkPoolSize:  DefaultBulkPoolSize,
		SendTimeout:   DefaultSendTimeout,
		SweepInterval: DefaultSweepInterval,
		Retention:     DefaultRetention,
		RatePolicies: map[string]RatePolicy{
			"default": {Window: time.Minute, MaxRequests: 60},
			"strict":  {Window: time.Minute, MaxRequests: 10},
			"api_key": {Window: time.Minute, MaxRequests: 600},
		},
		Backoff: BackoffConfig{
			MaxAttempts: 5,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Minute,
			Multiplier:  2.0,
			Jitter:      0.2,
		},
	}
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.BulkPoolSize <= 0 {
		return fmt.Errorf("bulk_pool_size must be positive")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("send_timeout must be positive")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive")
	}
	if c.Backoff.MaxAttempts <= 0 {
		return fmt.Errorf("backoff.max_attempts must be positive")
	}
	if c.Backoff.Multiplier < 1.0 {
		return fmt.Errorf("backoff.multiplier must be >= 1.0")
	}
	if _, ok := c.RatePolicies["default"]; !ok {
		return fmt.Errorf("rate_policies must define a default policy")
	}
	for name, p := range c.RatePolicies {
		if p.Window <= 0 || p.MaxRequests <= 0 {
			return fmt.Errorf("rate policy %s: window and max_requests must be positive", name)
		}
	}
	return nil
}

// Load reads the config file at path, falling back to defaults when
// the file does not exist, then applies NOTIFYD_* env overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if addr := os.Getenv("NOTIFYD_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if url := os.Getenv("NOTIFYD_POSTGRES_URL"); url != "" {
		cfg.PostgresURL = url
	}
	if url := os.Getenv("NOTIFYD_NATS_URL"); url != "" {
		cfg.NATSURL = url
	}
	if url := os.Getenv("NOTIFYD_REDIS_URL"); url != "" {
		cfg.RedisURL = url
	}
	if size := os.Getenv("NOTIFYD_BULK_POOL_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid NOTIFYD_BULK_POOL_SIZE: %w", err)
		}
		cfg.BulkPoolSize = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
