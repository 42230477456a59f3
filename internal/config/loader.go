package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigError reports a configuration file that could not be parsed.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// Load builds the effective configuration: defaults, then the YAML file at
// path (optional; an empty path or a missing file is not an error), then a
// .env file in the working directory, then the process environment.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	// .env is optional; variables already in the environment win.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, &ConfigError{Message: "failed to parse .env: " + err.Error()}
	}

	applyEnvOverrides(&cfg)
	cfg.Secret = expandEnvVars(cfg.Secret)
	return Sanitize(cfg), nil
}
