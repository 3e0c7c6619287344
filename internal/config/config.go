package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Broker holds the MQTT broker endpoint and credentials.
type Broker struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// URL returns the broker address in the form paho expects.
func (b Broker) URL() string {
	return fmt.Sprintf("tcp://%s:%d", b.Host, b.Port)
}

// Config represents the global ~/.chatcore/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	LogLevel       string `toml:"log_level"` // zap level name; empty means info
	Broker         Broker `toml:"broker"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Broker: Broker{
			Host: "broker.emqx.io",
			Port: 1883,
		},
	}
}

// Load reads config from the given path, filling unset broker fields with
// defaults. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Broker.Host == "" {
		cfg.Broker.Host = Default().Broker.Host
	}
	if cfg.Broker.Port == 0 {
		cfg.Broker.Port = Default().Broker.Port
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
