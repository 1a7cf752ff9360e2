package config

import (
	"fmt"
	"log"
	"time"

	"competition-engine/scoring"
	"competition-engine/utils"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port           int      `env:"PORT" envDefault:"5200"`
	DatabaseURL    string   `env:"DATABASE_URL"`
	ServiceToken   string   `env:"GAME_SERVICE_TOKEN,required,notEmpty"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	UndoWindow   time.Duration `env:"UNDO_WINDOW" envDefault:"30m"`
	MaxClockSkew time.Duration `env:"MAX_CLOCK_SKEW" envDefault:"5s"`
	MaxBackdate  time.Duration `env:"MAX_BACKDATE" envDefault:"5m"`
	TestingOps   bool          `env:"ENABLE_TESTING_OPS" envDefault:"false"`

	AntiCheat         scoring.ScanConfig
	AntiCheatInterval time.Duration `env:"ANTICHEAT_INTERVAL" envDefault:"5m"`
	SnapshotInterval  time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"1h"`
	AuditRetention    time.Duration `env:"AUDIT_RETENTION" envDefault:"2160h"`

	R2 utils.R2Config

	RosterSyncURL      string        `env:"ROSTER_SYNC_URL"`
	RosterSyncPath     string        `env:"ROSTER_SYNC_PATH" envDefault:"/api/v1/public/enrollments"`
	RosterSyncInterval time.Duration `env:"ROSTER_SYNC_INTERVAL" envDefault:"1m"`

	NotifyWebhookURL string `env:"NOTIFY_WEBHOOK_URL"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads an optional .env file and then the environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
