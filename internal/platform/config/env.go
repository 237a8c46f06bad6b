// Package config loads service configuration from CONCORD_-prefixed
// environment variables into tagged structs. Commands layer flag overrides
// on top of the parsed values.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target from environment variables declared by its `env`
// struct tags, applying `envDefault` values for unset variables.
func ParseEnv(target any) error {
	if target == nil {
		return fmt.Errorf("config target is required")
	}
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
