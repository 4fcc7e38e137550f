// Package config loads engine configuration the way the teacher's CLI
// loads its own: a YAML file merged with FORGECACHE_-prefixed
// environment variables via viper. Everything under the "inputs" key
// passes straight through, unexamined, into ctx.configuration-inputs;
// the engine does not interpret configuration values except to hand
// them to user Compute implementations (§6).
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/viper"
)

// CacheConfig selects and configures the Function Cache backend.
type CacheConfig struct {
	Backend  string `mapstructure:"backend"` // "memory", "redis", or "bolt"
	RedisURL string `mapstructure:"redis_url"`
	BoltPath string `mapstructure:"bolt_path"`
}

// CASConfig selects and configures the CAS backend.
type CASConfig struct {
	Backend  string `mapstructure:"backend"` // "memory" or "s3"
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// Config is the engine's top-level configuration.
type Config struct {
	Service            string         `mapstructure:"service"`
	LogLevel           string         `mapstructure:"log_level"`
	LogJSON            bool           `mapstructure:"log_json"`
	RequestOnlyCaching bool           `mapstructure:"request_only_caching"`
	Cache              CacheConfig    `mapstructure:"cache"`
	CAS                CASConfig      `mapstructure:"cas"`
	Inputs             map[string]any `mapstructure:"inputs"`
}

// Default returns a Config suitable for running entirely in-process
// against the default in-memory backends.
func Default() Config {
	return Config{
		Service:  "forgecache",
		LogLevel: "info",
		Cache:    CacheConfig{Backend: "memory"},
		CAS:      CASConfig{Backend: "memory"},
		Inputs:   map[string]any{},
	}
}

// Load merges configFile (if non-empty) with FORGECACHE_-prefixed
// environment variables, following the teacher's viper-based CLI
// configuration pattern. A missing configFile is not an error; env
// vars and defaults still apply.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FORGECACHE")
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("service", cfg.Service)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("cache.backend", cfg.Cache.Backend)
	v.SetDefault("cas.backend", cfg.CAS.Backend)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding configuration: %w", err)
	}
	if cfg.Inputs == nil {
		cfg.Inputs = map[string]any{}
	}
	return cfg, nil
}
