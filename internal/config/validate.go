package config

import (
	"fmt"
	"slices"

	"github.com/Tyrowin/chatrelay/internal/logging"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Secret == "" {
		issues = append(issues, ValidationIssue{
			Path:    "secret",
			Message: "a shared secret is required (set PASSWORD_SECRET or secret in the config file)",
		})
	}

	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		issues = append(issues, ValidationIssue{
			Path:    "tls",
			Message: "certFile and keyFile must be set together",
		})
	}

	if len(cfg.Names) == 0 {
		issues = append(issues, ValidationIssue{
			Path:    "names",
			Message: "the display-name pool must not be empty",
		})
	}
	seen := make(map[string]bool, len(cfg.Names))
	for _, name := range cfg.Names {
		if seen[name] {
			issues = append(issues, ValidationIssue{
				Path:    "names",
				Message: fmt.Sprintf("duplicate display name %q", name),
			})
		}
		seen[name] = true
	}

	if cfg.Logging.Level != "" && !slices.Contains(logging.ValidLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", logging.ValidLevels, cfg.Logging.Level),
		})
	}

	return issues
}
