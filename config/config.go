package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the runtime configuration, read from the environment.
type Config struct {
	Env           string `env:"ENV" env-default:"local"`
	Port          int    `env:"PORT" env-default:"3001"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" env-default:"http://localhost:5173"`
}

// MustLoad reads the configuration from the environment and panics on a
// malformed value.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return &cfg, nil
}
