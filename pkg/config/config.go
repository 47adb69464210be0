// Package config provides a reusable loader for relaynet configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"relaynet/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified runtime configuration of a relaynet node. It mirrors
// the YAML files under cmd/config.
type Config struct {
	Network struct {
		ID                  string   `mapstructure:"id" json:"id" yaml:"id"`
		ProtocolVersion     string   `mapstructure:"protocol_version" json:"protocol_version" yaml:"protocol_version"`
		ListenAddr          string   `mapstructure:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
		TransportPreference []string `mapstructure:"transport_preference" json:"transport_preference" yaml:"transport_preference"`
		MaxPeers            int      `mapstructure:"max_peers" json:"max_peers" yaml:"max_peers"`
		DiscoveryTag        string   `mapstructure:"discovery_tag" json:"discovery_tag" yaml:"discovery_tag"`
		BootstrapPeers      []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers" yaml:"bootstrap_peers"`
		DNSSeeds            []string `mapstructure:"dns_seeds" json:"dns_seeds" yaml:"dns_seeds"`
		AddrDBCapacity      int      `mapstructure:"addrdb_capacity" json:"addrdb_capacity" yaml:"addrdb_capacity"`
	} `mapstructure:"network" json:"network" yaml:"network"`

	RateLimit struct {
		Burst           int `mapstructure:"burst" json:"burst" yaml:"burst"`
		RefillPerSecond int `mapstructure:"refill_per_second" json:"refill_per_second" yaml:"refill_per_second"`
	} `mapstructure:"rate_limit" json:"rate_limit" yaml:"rate_limit"`

	Dandelion struct {
		StemTimeoutMS    int     `mapstructure:"stem_timeout_ms" json:"stem_timeout_ms" yaml:"stem_timeout_ms"`
		FluffProbability float64 `mapstructure:"fluff_probability" json:"fluff_probability" yaml:"fluff_probability"`
		MaxStemHops      int     `mapstructure:"max_stem_hops" json:"max_stem_hops" yaml:"max_stem_hops"`
	} `mapstructure:"dandelion" json:"dandelion" yaml:"dandelion"`

	RPC struct {
		AuthRequired    bool     `mapstructure:"auth_required" json:"auth_required" yaml:"auth_required"`
		Tokens          []string `mapstructure:"tokens" json:"tokens" yaml:"tokens"`
		Certificates    []string `mapstructure:"certificates" json:"certificates" yaml:"certificates"`
		RateLimitBurst  int      `mapstructure:"rate_limit_burst" json:"rate_limit_burst" yaml:"rate_limit_burst"`
		RateLimitPerSec int      `mapstructure:"rate_limit_per_sec" json:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`
	} `mapstructure:"rpc" json:"rpc" yaml:"rpc"`

	Logging struct {
		Level string `mapstructure:"level" json:"level" yaml:"level"`
		File  string `mapstructure:"file" json:"file" yaml:"file"`
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the RELAYNET_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("RELAYNET_ENV", ""))
}

// Save writes cfg as YAML to path, for generating environment overlays
// from a running node's effective configuration.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return utils.Wrap(err, "marshal config")
	}
	return utils.Wrap(os.WriteFile(path, data, 0o644), "write config")
}
