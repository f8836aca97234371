package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads the YAML file at path (when it exists) and applies env overrides.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			return &cfg, cfg.Validate()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, cfg.Validate()
}

func (c *AppConfig) Validate() error {
	seen := map[string]struct{}{}
	for i, app := range c.Apps {
		name := strings.TrimSpace(app.Name)
		if name == "" {
			return fmt.Errorf("apps[%d]: name is required", i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("apps[%d]: duplicate app %q", i, name)
		}
		seen[name] = struct{}{}
	}
	for i, tok := range c.Auth.Tokens {
		if strings.TrimSpace(tok.Hash) == "" {
			return fmt.Errorf("auth.tokens[%d]: hash is required", i)
		}
	}
	return nil
}

// Usage prints the supported env variables, used by the CLI help.
func Usage() string {
	var cfg AppConfig
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}
