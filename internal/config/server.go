package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is loaded from /etc/spidergroup/server.yaml on the gateway host.
type ServerConfig struct {
	Listen         string        `yaml:"listen"` // e.g. ":8790"
	Token          string        `yaml:"token"`
	LogDir         string        `yaml:"log_dir"`
	GroupsDir      string        `yaml:"groups_dir"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Nodes          []NodeConfig  `yaml:"nodes"`
}

// LoadServerConfig reads and parses the server config file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}

	if cfg.Token == "" {
		if t := os.Getenv("SPIDERGROUP_TOKEN"); t != "" {
			cfg.Token = t
		} else {
			return nil, fmt.Errorf("%s: 'token' is required", path)
		}
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8790"
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "/var/log/spidergroup"
	}
	if cfg.GroupsDir == "" {
		cfg.GroupsDir = "/var/lib/spidergroup/groups"
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	if err := prepareNodes(cfg.Nodes); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}
