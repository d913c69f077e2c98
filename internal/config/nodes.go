package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultRequestTimeout bounds every call to a scrapyd daemon.
const DefaultRequestTimeout = 15 * time.Second

// DefaultNodePort is scrapyd's default http_port.
const DefaultNodePort = 6800

// NodeConfig describes one scrapyd daemon of the cluster.
type NodeConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	SSL      bool   `yaml:"ssl"`
	Auth     bool   `yaml:"auth"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// URL returns the base URL of the node's scrapyd API.
func (n NodeConfig) URL() string {
	scheme := "http"
	if n.SSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, n.Host, n.Port)
}

// Label is what a picker shows for the node.
func (n NodeConfig) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Credentials returns the basic auth pair, or empty strings if the node
// does not require authentication. The password env var wins over the file.
func (n NodeConfig) Credentials() (string, string) {
	if !n.Auth {
		return "", ""
	}
	if p := os.Getenv(PasswordEnv(n.ID)); p != "" {
		return n.Username, p
	}
	return n.Username, n.Password
}

// PasswordEnv is the variable that overrides a node's password,
// e.g. SPIDERGROUP_NODE_CRAWLER_1_PASSWORD for id "crawler-1".
func PasswordEnv(id string) string {
	r := strings.NewReplacer("-", "_", ".", "_")
	return "SPIDERGROUP_NODE_" + strings.ToUpper(r.Replace(id)) + "_PASSWORD"
}

// prepareNodes validates the node list and fills in defaults in place.
func prepareNodes(nodes []NodeConfig) error {
	seen := make(map[string]bool, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if n.ID == "" {
			return fmt.Errorf("nodes[%d]: 'id' is required", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("nodes[%d]: duplicate id %q", i, n.ID)
		}
		seen[n.ID] = true

		if n.Host == "" {
			n.Host = "localhost"
		}
		if n.Port == 0 {
			n.Port = DefaultNodePort
		}
		if n.Auth && n.Username == "" {
			return fmt.Errorf("nodes[%d] (%s): 'username' is required when auth is enabled", i, n.ID)
		}
	}
	return nil
}
