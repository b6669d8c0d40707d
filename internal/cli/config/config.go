package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServer    = "tcp://127.0.0.1:4242"
	DefaultTimeout   = 2 * time.Minute
	DefaultStatePath = "configs/cli_state.json"
)

// Config holds CLI configuration.
type Config struct {
	// Server is tcp://host:port, http://host:port or grpc://host:port.
	Server    string        `yaml:"server"`
	Timeout   time.Duration `yaml:"timeout"`
	StatePath string        `yaml:"statePath"`
	// KeyFile holds the client private key; generated on first use.
	// Empty disables encrypted replies.
	KeyFile    string `yaml:"keyFile"`
	KeyBits    int    `yaml:"keyBits"`
	Encrypt    *bool  `yaml:"encrypt"`
	PrettyJSON *bool  `yaml:"prettyJSON"`
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file failed: %w", err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStatePath
	}
	if cfg.Encrypt == nil {
		value := true
		cfg.Encrypt = &value
	}
	if cfg.PrettyJSON == nil {
		value := true
		cfg.PrettyJSON = &value
	}
}
