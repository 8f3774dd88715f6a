// Package conf loads this server's YAML configuration, searching a
// handful of conventional paths when no explicit path is given.
package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Config is the top-level configuration document.
type Config struct {
	Domain  string  `yaml:"domain"`
	Listen  string  `yaml:"listen"`
	Backend Backend `yaml:"backend"`
	Auth    Auth    `yaml:"auth"`
}

// Backend selects and configures the mailbox.Set implementation.
type Backend struct {
	SQLitePath string `yaml:"sqlite_path"`
	Blob       *Blob  `yaml:"blob"`
}

// Blob configures the optional S3 body-offload tier. A nil Blob in
// Backend disables offload entirely; bodies then stay inline in
// SQLite regardless of Threshold.
type Blob struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ThresholdBytes  int    `yaml:"threshold_bytes"`
}

// Auth configures bearer-token verification.
type Auth struct {
	HMACKeyFile string `yaml:"hmac_key_file"`
}

// defaultPaths returns the conventional search order for a config file
// named after the running program.
func defaultPaths(name string) []string {
	return []string{
		"/etc/" + name + "/" + name + ".yaml",
		"./config/" + name + ".yaml",
		"./" + name + ".yaml",
		"config/" + name + ".yaml",
	}
}

// Load reads the first existing file among name's default search
// paths, or explicitPath if non-empty, and parses it as YAML.
func Load(name, explicitPath string) (*Config, error) {
	paths := defaultPaths(name)
	if explicitPath != "" {
		paths = []string{explicitPath}
	}

	var data []byte
	var err error
	var found string
	for _, path := range paths {
		data, err = os.ReadFile(filepath.Clean(path))
		if err == nil {
			found = path
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load config (tried %v): %w", paths, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", found, err)
	}
	return &cfg, nil
}
