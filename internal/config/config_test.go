package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Gamification.Streaks.BasePoints != 5 || cfg.Gamification.Streaks.BonusInterval != 7 {
		t.Fatalf("streak defaults wrong: %+v", cfg.Gamification.Streaks)
	}
	if cfg.Gamification.Levels.Curve.Base != 100 {
		t.Fatalf("curve base = %d", cfg.Gamification.Levels.Curve.Base)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9999"
  shutdown_timeout: 30s
database:
  dsn: "postgres://localhost/progress?sslmode=disable"
gamification:
  streaks:
    base_points: 10
    bonus_interval: 5
    bonus_points: 75
  levels:
    curve:
      base_xp: 200
      step_xp: 50
    level_up_bonus_points: 40
  quest_sweep_schedule: "@every 5m"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" || cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Fatalf("server = %+v", cfg.Server)
	}
	// Unset file keys keep their defaults.
	if cfg.Server.RateLimitRPS != 50 {
		t.Fatalf("rate limit rps = %v", cfg.Server.RateLimitRPS)
	}
	if cfg.Gamification.Streaks.BasePoints != 10 || cfg.Gamification.Streaks.BonusPoints != 75 {
		t.Fatalf("streaks = %+v", cfg.Gamification.Streaks)
	}
	if cfg.Gamification.Levels.Curve.Step != 50 || cfg.Gamification.Levels.LevelUpBonus != 40 {
		t.Fatalf("levels = %+v", cfg.Gamification.Levels)
	}
	if cfg.Gamification.SweepSchedule != "@every 5m" {
		t.Fatalf("sweep schedule = %q", cfg.Gamification.SweepSchedule)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "postgres://file/db"
redis:
  addr: "file:6379"
`)
	t.Setenv("DATABASE_DSN", "postgres://env/db")
	t.Setenv("REDIS_ADDR", "env:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "postgres://env/db" {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Redis.Addr != "env:6379" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ""
`)
	if _, err := Load(path); err == nil {
		t.Fatal("empty server.addr accepted")
	}

	path = writeConfig(t, `
gamification:
  streaks:
    base_points: -1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("negative base_points accepted")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
