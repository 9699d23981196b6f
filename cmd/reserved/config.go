package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the daemon configuration, read from a YAML file or from the
// environment.
type Config struct {
	Addr   string       `yaml:"addr" env:"RESERVE_ADDR" env-default:":8080"`
	Lock   LockConfig   `yaml:"lock"`
	Store  StoreConfig  `yaml:"store"`
	Redis  RedisConfig  `yaml:"redis"`
	SQL    SQLConfig    `yaml:"sql"`
	Events EventsConfig `yaml:"events"`
	Log    LogConfig    `yaml:"log"`
	// TraceStdout exports orchestrator spans to stdout.
	TraceStdout bool `yaml:"trace_stdout" env:"RESERVE_TRACE_STDOUT" env-default:"false"`
}

type LockConfig struct {
	Backend      string        `yaml:"backend" env:"RESERVE_LOCK_BACKEND" env-default:"memory"`
	TTL          time.Duration `yaml:"ttl" env:"RESERVE_LOCK_TTL" env-default:"10s"`
	Wait         time.Duration `yaml:"wait" env:"RESERVE_LOCK_WAIT" env-default:"0s"`
	WaitInterval time.Duration `yaml:"wait_interval" env:"RESERVE_LOCK_WAIT_INTERVAL" env-default:"10ms"`
}

type StoreConfig struct {
	Backend string `yaml:"backend" env:"RESERVE_STORE_BACKEND" env-default:"memory"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type SQLConfig struct {
	Driver string `yaml:"driver" env:"RESERVE_SQL_DRIVER" env-default:"sqlite"`
	DSN    string `yaml:"dsn" env:"RESERVE_SQL_DSN" env-default:"file:reserve.db?_busy_timeout=5000"`
}

type EventsConfig struct {
	Backend      string   `yaml:"backend" env:"RESERVE_EVENTS_BACKEND" env-default:"memory"`
	NATSURL      string   `yaml:"nats_url" env:"NATS_URL" env-default:"nats://127.0.0.1:4222"`
	KafkaBrokers []string `yaml:"kafka_brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092" env-separator:","`
	KafkaTopic   string   `yaml:"kafka_topic" env:"KAFKA_TOPIC" env-default:"booking-events"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// loadConfig reads configPath when it exists and falls back to the
// environment otherwise. A .env file in the working directory is loaded
// first when present.
func loadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg := &Config{}
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := cleanenv.ReadConfig(configPath, cfg); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
			return cfg, cfg.validate()
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment variables: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if err := oneOf("lock backend", c.Lock.Backend, "memory", "redis", "sql"); err != nil {
		return err
	}
	if err := oneOf("store backend", c.Store.Backend, "memory", "redis", "sql"); err != nil {
		return err
	}
	if err := oneOf("events backend", c.Events.Backend, "memory", "nats", "kafka"); err != nil {
		return err
	}
	if err := oneOf("sql driver", c.SQL.Driver, "sqlite", "postgres"); err != nil {
		return err
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock ttl must be positive, got %s", c.Lock.TTL)
	}
	return nil
}

func oneOf(name, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("unknown %s %q, want one of %v", name, v, allowed)
}
