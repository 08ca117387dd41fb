// Package config loads the yaml configuration file with environment
// overrides. Callers hold the returned Config; there is no package-level
// state.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration
type Config struct {
	// Address the HTTP server binds to
	Address string `yaml:"address" validate:"required,hostname_port"`
	// DBPath is the sqlite location database
	DBPath string `yaml:"db_path" validate:"required"`
	// DataDir holds the json state files
	DataDir string `yaml:"data_dir" validate:"required"`

	Push struct {
		VAPIDPublicKey  string  `yaml:"vapid_public_key"`
		VAPIDPrivateKey string  `yaml:"vapid_private_key"`
		Subject         string  `yaml:"subject"`
		RadiusMeters    float64 `yaml:"radius_meters" validate:"gte=0"`
	} `yaml:"push"`

	Chat struct {
		OpenAIKey string `yaml:"openai_key"`
		Model     string `yaml:"model"`
	} `yaml:"chat"`

	WhatsApp struct {
		Enabled bool   `yaml:"enabled"`
		DBPath  string `yaml:"db_path"`
	} `yaml:"whatsapp"`
}

// Load reads the config file, applies environment overrides and validates.
// A missing file is not an error; defaults and environment apply.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// environment wins over file
	if v := os.Getenv("UDDHAR_ADDRESS"); len(v) > 0 {
		cfg.Address = v
	}
	if v := os.Getenv("UDDHAR_DB"); len(v) > 0 {
		cfg.DBPath = v
	}
	if v := os.Getenv("UDDHAR_DATA_DIR"); len(v) > 0 {
		cfg.DataDir = v
	}
	if v := os.Getenv("VAPID_PUBLIC_KEY"); len(v) > 0 {
		cfg.Push.VAPIDPublicKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); len(v) > 0 {
		cfg.Push.VAPIDPrivateKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); len(v) > 0 {
		cfg.Chat.OpenAIKey = v
	}

	if len(cfg.Address) == 0 {
		cfg.Address = "0.0.0.0:9090"
	}
	if len(cfg.DBPath) == 0 {
		cfg.DBPath = "uddhar.db"
	}
	if len(cfg.DataDir) == 0 {
		cfg.DataDir = "."
	}
	if len(cfg.Push.Subject) == 0 {
		cfg.Push.Subject = "mailto:admin@uddhar.app"
	}
	if len(cfg.Chat.Model) == 0 {
		cfg.Chat.Model = "gpt-4o-mini"
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
