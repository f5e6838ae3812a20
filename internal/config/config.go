// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/mafia-backend/internal/engine"
)

const devTokenSecret = "dev-only-token-secret"

type Config struct {
	Addr           string        `env:"MAFIA_ADDR"            envDefault:":8080"`
	DatabaseURL    string        `env:"MAFIA_DATABASE_URL"`
	TokenSecret    string        `env:"MAFIA_TOKEN_SECRET"`
	TokenTTL       time.Duration `env:"MAFIA_TOKEN_TTL"       envDefault:"24h"`
	ActionPhase    time.Duration `env:"MAFIA_ACTION_PHASE"    envDefault:"90s"`
	VotingPhase    time.Duration `env:"MAFIA_VOTING_PHASE"    envDefault:"120s"`
	MaxSlots       int           `env:"MAFIA_MAX_SLOTS"       envDefault:"20"`
	AutoAdvance    bool          `env:"MAFIA_AUTO_ADVANCE"    envDefault:"false"`
	LogLevel       string        `env:"MAFIA_LOG_LEVEL"       envDefault:"info"`
	Dev            bool          `env:"MAFIA_DEV"             envDefault:"false"`
	AllowedOrigins []string      `env:"MAFIA_ALLOWED_ORIGINS" envSeparator:","`
}

// Load reads the given .env files (or ./.env when none are named) and then
// parses the environment. Variables already set win over file values.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.TokenSecret = strings.TrimSpace(c.TokenSecret)
	if c.TokenSecret == "" {
		if !c.Dev {
			return errors.New("MAFIA_TOKEN_SECRET is required outside dev mode")
		}
		c.TokenSecret = devTokenSecret
	}
	if c.ActionPhase <= 0 || c.VotingPhase <= 0 {
		return errors.New("phase durations must be positive")
	}
	if c.MaxSlots < engine.MinPlayers {
		return fmt.Errorf("MAFIA_MAX_SLOTS must be at least %d", engine.MinPlayers)
	}
	return nil
}

// Rules converts the game settings for the engine.
func (c Config) Rules() engine.Rules {
	return engine.Rules{
		ActionDuration: c.ActionPhase,
		VotingDuration: c.VotingPhase,
		MaxSlots:       c.MaxSlots,
	}
}
