package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig holds the node list used by the spidergroup CLI.
// Stored in ~/.config/spidergroup/config.yaml and shared across all projects.
type ClientConfig struct {
	GroupsDir      string        `yaml:"groups_dir"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Nodes          []NodeConfig  `yaml:"nodes"`
}

// configDir is a variable so tests can point it at a temp dir.
var configDir = func() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "spidergroup"), nil
}

func clientConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadClientConfig reads ~/.config/spidergroup/config.yaml.
// A missing file yields a config with defaults and no nodes.
func LoadClientConfig() (*ClientConfig, error) {
	path, err := clientConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg ClientConfig
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading client config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing client config: %w", err)
		}
	}

	if err := applyClientDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// SaveClientConfig writes the config to ~/.config/spidergroup/config.yaml.
func SaveClientConfig(cfg *ClientConfig) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0600)
}

func applyClientDefaults(cfg *ClientConfig) error {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.GroupsDir == "" {
		dir, err := configDir()
		if err != nil {
			return err
		}
		cfg.GroupsDir = filepath.Join(dir, "groups")
	}
	return prepareNodes(cfg.Nodes)
}
