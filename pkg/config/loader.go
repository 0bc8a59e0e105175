package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load reads a YAML config file over the defaults. Env references in
// string values (${VAR:-default} and friends) are expanded before
// unmarshaling. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	expanded := ExpandEnvVarsInData(k.Raw())
	k = koanf.New(".")
	if err := k.Load(rawProvider{data: expanded.(map[string]any)}, nil); err != nil {
		return nil, fmt.Errorf("failed to apply env expansion: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// rawProvider feeds an already-decoded map back into koanf.
type rawProvider struct {
	data map[string]any
}

func (p rawProvider) Read() (map[string]any, error) {
	return p.data, nil
}

func (p rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
