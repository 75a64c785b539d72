// Package config loads bot configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`
	StoragePath  string `env:"STORAGE_PATH" envDefault:"datastore.json"`

	MaxIdleTime    time.Duration `env:"MAX_IDLE_TIME" envDefault:"120s"`
	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"5s"`
	StreamTimeout  time.Duration `env:"STREAM_TIMEOUT" envDefault:"5s"`
	WorkerPoolSize int           `env:"WORKER_POOL_SIZE" envDefault:"4"`

	LogFile  string `env:"LOG_FILE"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// New loads the configuration. A missing .env file is not an error; missing
// required variables are.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
