// Package config loads service configuration from the process environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Prefix namespaces every environment key read by partyround services.
const Prefix = "PARTYROUND_"

// ParseEnv loads configuration from PARTYROUND_-prefixed environment variables.
// Struct tags name keys without the prefix (`env:"DB_PATH"`).
func ParseEnv(target any) error {
	return parse(target, env.Options{Prefix: Prefix})
}

// ParseEnvUnprefixed loads configuration using tag names verbatim. It exists for
// third-party conventions such as OTEL_* keys.
func ParseEnvUnprefixed(target any) error {
	return parse(target, env.Options{})
}

func parse(target any, opts env.Options) error {
	if target == nil {
		return fmt.Errorf("parse env: config target is required")
	}
	if err := env.ParseWithOptions(target, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
