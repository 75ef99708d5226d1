package config

// Package config provides a reusable loader for the resolver's own runtime
// tuning knobs (instance pool size, log chunk bound). It is versioned so
// hosts embedding this module can depend on a stable API contract.
//
// Version: v0.2.0
//
// This intentionally does not read flag/segment/client definitions; that
// compiled state blob is fetched and authenticated by the host, never by
// this package.

import (
	"os"

	"gopkg.in/yaml.v3"

	"confidence-resolver/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config is the unified runtime configuration for a resolver host process.
type Config struct {
	Pool struct {
		Instances int `yaml:"instances" json:"instances"`
	} `yaml:"pool" json:"pool"`

	Logging struct {
		Level          string `yaml:"level" json:"level"`
		ChunkSize      int    `yaml:"chunk_size" json:"chunk_size"`
		MaxMessageSize int    `yaml:"max_message_size" json:"max_message_size"`
	} `yaml:"logging" json:"logging"`
}

// defaults are the values a host gets when no configuration file is
// present.
func defaults() Config {
	var c Config
	c.Pool.Instances = 1
	c.Logging.Level = "info"
	c.Logging.ChunkSize = 1000
	c.Logging.MaxMessageSize = 4 << 20
	return c
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig = defaults()

// Load reads a YAML configuration file from path, falling back to defaults
// for any field the file does not set. An empty path returns the defaults
// unchanged.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		AppConfig = cfg
		return &AppConfig, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	AppConfig = cfg
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the RESOLVER_CONFIG environment
// variable, if set. RESOLVER_POOL_INSTANCES overrides the pool size on
// top of whatever the file provides.
func LoadFromEnv() (*Config, error) {
	cfg, err := Load(utils.EnvOrDefault("RESOLVER_CONFIG", ""))
	if err != nil {
		return nil, err
	}
	cfg.Pool.Instances = utils.EnvOrDefaultInt("RESOLVER_POOL_INSTANCES", cfg.Pool.Instances)
	return cfg, nil
}
