// Package config loads the engine configuration from yaml with environment
// overrides for secrets-bearing values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lifequest-app/progress-engine/internal/app/domain/level"
	levelsvc "github.com/lifequest-app/progress-engine/internal/app/services/levels"
	streaksvc "github.com/lifequest-app/progress-engine/internal/app/services/streaks"
	"github.com/lifequest-app/progress-engine/pkg/logger"
)

// Config is the root configuration document.
type Config struct {
	Server       ServerConfig         `yaml:"server"`
	Database     DatabaseConfig       `yaml:"database"`
	Redis        RedisConfig          `yaml:"redis"`
	Logging      logger.LoggingConfig `yaml:"logging"`
	Gamification GamificationConfig   `yaml:"gamification"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// DatabaseConfig controls the postgres connection. An empty DSN runs the
// engine on the in-memory store.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig controls the optional points cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// GamificationConfig is the reward policy block.
type GamificationConfig struct {
	Streaks       streaksvc.Config `yaml:"streaks"`
	Levels        levelsvc.Config  `yaml:"levels"`
	SweepSchedule string           `yaml:"quest_sweep_schedule"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Redis: RedisConfig{
			TTL: time.Minute,
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Gamification: GamificationConfig{
			Streaks: streaksvc.DefaultConfig,
			Levels:  levelsvc.DefaultConfig,
		},
	}
}

// Load reads the yaml file at path on top of the defaults. Environment
// variables DATABASE_DSN and REDIS_ADDR override their yaml counterparts so
// deployments never store credentials in the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Gamification.Streaks.BasePoints < 0 {
		return fmt.Errorf("gamification.streaks.base_points must not be negative")
	}
	if c.Gamification.Levels.Curve != (level.Curve{}) && c.Gamification.Levels.Curve.Base < 0 {
		return fmt.Errorf("gamification.levels.curve.base_xp must not be negative")
	}
	return nil
}
