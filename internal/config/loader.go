package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// LoadConfig loads and validates the engine configuration.
//
// The loading sequence is:
//  1. Enforce UTC for the process to prevent timezone drift in publishAt math.
//  2. Load a .env file if present (non-fatal if missing).
//  3. Process envconfig struct tags to populate Config.
//  4. Validate the populated struct with go-playground/validator.
func LoadConfig() (*Config, error) {
	time.Local = time.UTC

	// Non-fatal: production environments inject real env vars.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}

	v := validator.New()
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
