package configuration

import (
	"fmt"
	"log/slog"
	"os"

	"quorumdb/internal/configuration/properties"
	"quorumdb/internal/configuration/util"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir = "internal/static"
	configDirEnv     = "QUORUMDB_CONFIG_DIR"
)

// Load reads application.yml and the profile overlay named by app.profile
// from the configured directory, then applies defaults and validates.
func Load() (*properties.Config, error) {
	dir := defaultConfigDir
	if v, ok := os.LookupEnv(configDirEnv); ok && v != "" {
		dir = v
	}
	return LoadFrom(dir)
}

func LoadFrom(dir string) (*properties.Config, error) {
	cfg, err := loadBaseConfig(dir)
	if err != nil {
		return nil, err
	}

	if err := loadProfileConfig(dir, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadBaseConfig(dir string) (*properties.Config, error) {
	baseConfig, err := util.LoadAndExpandYaml(dir, "application")
	if err != nil {
		slog.Error("Error loading base config", "Error", err.Error())
		return nil, err
	}

	cfg := properties.Config{}
	if err := yaml.Unmarshal([]byte(baseConfig), &cfg); err != nil {
		slog.Error("Error parsing base config", "Error", err.Error())
		return nil, fmt.Errorf("parse application.yml: %w", err)
	}

	return &cfg, nil
}

func loadProfileConfig(dir string, cfg *properties.Config) error {
	if cfg.Application.Profile == "" {
		return nil
	}

	name := "application-" + cfg.Application.Profile
	profileConfig, err := util.LoadAndExpandYaml(dir, name)
	if err != nil {
		slog.Error("Error loading profile config", "Error", err.Error())
		return err
	}

	if err := yaml.Unmarshal([]byte(profileConfig), cfg); err != nil {
		slog.Error("Error parsing profile config", "Error", err.Error())
		return fmt.Errorf("parse %s.yml: %w", name, err)
	}

	return nil
}
