// Package metadata loads the metadata (discovery) service configuration and
// provides the etcd-backed instance registry that pairs with it.
package metadata

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerTypeEtcd is the only metadata backend currently recognized.
const ServerTypeEtcd = "etcd"

// Config describes the external coordination/discovery service. Loaded from
// an independent YAML file and otherwise passed through unchanged; it has
// no relationship to rank partitioning.
type Config struct {
	ServerType         string  `yaml:"server_type"`
	Hostname           string  `yaml:"hostname"`
	Port               int     `yaml:"port"`
	HealthCheckTimeout float64 `yaml:"health_check_timeout"` // seconds
	RefreshInterval    float64 `yaml:"refresh_interval"`     // seconds
}

// DefaultConfig returns a Config with the documented defaults. ServerType
// has no default and must be supplied.
func DefaultConfig() Config {
	return Config{
		Hostname:           "localhost",
		Port:               2379,
		HealthCheckTimeout: 5.0,
		RefreshInterval:    10.0,
	}
}

// LoadConfig reads and parses a YAML metadata service configuration file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata config: %w", err)
	}
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing metadata config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that all fields are usable.
func (c *Config) Validate() error {
	if c.ServerType != ServerTypeEtcd {
		return fmt.Errorf("unknown metadata server_type %q; valid: %s", c.ServerType, ServerTypeEtcd)
	}
	if c.Port <= 0 {
		return fmt.Errorf("metadata port must be positive, got %d", c.Port)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("health_check_timeout must be positive, got %f", c.HealthCheckTimeout)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be positive, got %f", c.RefreshInterval)
	}
	return nil
}

// Endpoint returns the backend's "host:port" address.
func (c *Config) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// HealthTimeout returns HealthCheckTimeout as a duration.
func (c *Config) HealthTimeout() time.Duration {
	return time.Duration(c.HealthCheckTimeout * float64(time.Second))
}

// Refresh returns RefreshInterval as a duration.
func (c *Config) Refresh() time.Duration {
	return time.Duration(c.RefreshInterval * float64(time.Second))
}
