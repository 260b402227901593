// Package config loads component configuration from the environment,
// following the teacher server's pattern: optional .env file, then
// environment variables, then struct-tag defaults, then validation.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Load populates cfg from .env (if present) and the process environment.
// cfg must be a pointer to a struct tagged with `env:"..." envDefault:"..."`.
func Load(cfg interface{}) error {
	if err := godotenv.Load(); err != nil {
		// Optional: production deployments set real env vars and carry no .env file.
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if v, ok := cfg.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
	}

	return nil
}
