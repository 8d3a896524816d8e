package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvironmentDefaults are per-environment settings from the optional
// config file. Flags take precedence over these.
type EnvironmentDefaults struct {
	Region  string `yaml:"region"`
	VarFile string `yaml:"var_file"`
}

// FileConfig is the optional YAML deployment configuration.
type FileConfig struct {
	TerraformVersion string                         `yaml:"terraform_version"`
	Environments     map[string]EnvironmentDefaults `yaml:"environments"`
}

// LoadFile reads the YAML config at path. A missing path is not an
// error; it returns an empty config.
func LoadFile(path string) (*FileConfig, error) {
	if path == "" {
		return &FileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &fc, nil
}

// Defaults returns the defaults for one environment, if configured.
func (f *FileConfig) Defaults(env string) EnvironmentDefaults {
	if f == nil || f.Environments == nil {
		return EnvironmentDefaults{}
	}
	return f.Environments[env]
}
