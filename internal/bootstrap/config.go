package bootstrap

import (
	"fmt"
	"os"

	"liqrisk/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader. An empty path uses
// the built-in defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	if cfg.Server.StaticDir != "" {
		info, err := os.Stat(cfg.Server.StaticDir)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("static_dir not found: %s", cfg.Server.StaticDir)
			}
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("static_dir is not a directory: %s", cfg.Server.StaticDir)
		}
	}
	return nil
}
