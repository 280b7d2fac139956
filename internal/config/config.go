// Package config provides configuration management for the sketch engine
// using Viper for flexible loading from files, environment variables, and
// command-line flags.
//
// Settings load from .sketch.yml, from SKETCH_-prefixed environment
// variables, and from CLI flags, in increasing priority. Per-project
// settings (entry candidates, import alias, pinned package versions) live
// in a sketch.yml manifest inside the project tree itself, see manifest.go.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Preview  PreviewConfig  `yaml:"preview"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type PreviewConfig struct {
	Title       string `yaml:"title"`
	TailwindCDN string `yaml:"tailwind_cdn"`
	ModuleCDN   string `yaml:"module_cdn"`
	LiveReload  bool   `yaml:"live_reload"`
}

type PipelineConfig struct {
	Workers    int `yaml:"workers"`
	DebounceMs int `yaml:"debounce_ms"`
}

type SnapshotConfig struct {
	// Path is the sqlite database file holding project snapshots. Empty
	// disables the snapshot store.
	Path string `yaml:"path"`
}

// Load assembles the configuration from viper's merged sources and applies
// defaults and validation.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 4321
	}
	if viper.IsSet("server.allowed_origins") {
		config.Server.AllowedOrigins = viper.GetStringSlice("server.allowed_origins")
	}

	if config.Preview.Title == "" {
		config.Preview.Title = "Sketch Preview"
	}
	if viper.IsSet("preview.tailwind_cdn") {
		config.Preview.TailwindCDN = viper.GetString("preview.tailwind_cdn")
	}
	if viper.IsSet("preview.module_cdn") {
		config.Preview.ModuleCDN = viper.GetString("preview.module_cdn")
	}
	if viper.IsSet("preview.live_reload") {
		config.Preview.LiveReload = viper.GetBool("preview.live_reload")
	} else {
		config.Preview.LiveReload = true
	}

	if viper.IsSet("pipeline.debounce_ms") {
		config.Pipeline.DebounceMs = viper.GetInt("pipeline.debounce_ms")
	}
	if config.Pipeline.DebounceMs == 0 {
		config.Pipeline.DebounceMs = 50
	}

	if viper.IsSet("snapshot.path") {
		config.Snapshot.Path = viper.GetString("snapshot.path")
	}

	if config.LogLevel == "" {
		config.LogLevel = viper.GetString("log_level")
	}
	if config.LogLevel == "" {
		config.LogLevel = viper.GetString("log-level")
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", config.Server.Port)
	}
	if strings.ContainsAny(config.Server.Host, " \t\n") {
		return fmt.Errorf("server host %q contains whitespace", config.Server.Host)
	}
	for _, origin := range config.Server.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("wildcard origin is not allowed")
		}
	}
	if config.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline workers must not be negative")
	}
	if config.Pipeline.DebounceMs < 0 {
		return fmt.Errorf("pipeline debounce must not be negative")
	}
	return nil
}
