package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// duration wraps time.Duration so it can be written as "2s", "500ms" etc. in
// YAML config files. yaml.v3 has no built-in notion of time.Duration; without
// this it would try (and fail) to parse duration strings as integers.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	// Integers first: yaml.v3 will also decode an integer scalar into a
	// string, which ParseDuration would then reject for lacking a unit.
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = duration(ns)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string (e.g. \"2s\") or integer nanoseconds: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// Config maps the YAML config file fields uvworkerd needs onto Worker
// options and the metrics server.
type Config struct {
	Worker struct {
		MaxLoops          int      `yaml:"max_loops"`
		HeartbeatInterval duration `yaml:"heartbeat_interval"`
		ShutdownTimeout   duration `yaml:"shutdown_timeout"`
	} `yaml:"worker"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.Worker.MaxLoops = 8
	cfg.Worker.HeartbeatInterval = duration(time.Second)
	cfg.Worker.ShutdownTimeout = duration(5 * time.Second)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9090
	return cfg
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config YAML: %w", err)
	}

	return cfg, nil
}

func (c Config) heartbeatInterval() time.Duration {
	return time.Duration(c.Worker.HeartbeatInterval)
}

func (c Config) shutdownTimeout() time.Duration {
	return time.Duration(c.Worker.ShutdownTimeout)
}
