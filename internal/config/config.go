// Package config loads mipsld's run configuration from a YAML file (a
// SUPPLEMENTED FEATURE: galago drives everything from cobra flags alone,
// but a linker with a symbol map, a mode, and an optional resolver script
// benefits from a persisted config the CLI can layer flags over).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of a mipsld run configuration.
type Config struct {
	// Mode is "lazy" or "now" (spec §6 mode values).
	Mode string `yaml:"mode"`
	// SymbolMap is a path to an nm-style text dump, loaded at startup via
	// load_symbol_map (spec §6).
	SymbolMap string `yaml:"symbol_map"`
	// ResolverScript optionally points at a JS file implementing
	// resolve(name, sessionID) (internal/script).
	ResolverScript string `yaml:"resolver_script,omitempty"`
	// Debug enables development-mode (human-readable, debug-level) logging.
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{Mode: "lazy"}
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields that can't be expressed in the YAML schema
// itself.
func (c Config) Validate() error {
	switch c.Mode {
	case "lazy", "now":
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", "lazy", "now", c.Mode)
	}
	return nil
}
