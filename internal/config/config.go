package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type TfLConfig struct {
	BaseURL  string `yaml:"base_url"`
	PushURL  string `yaml:"push_url"` // empty disables the push feed
	Mode     string `yaml:"mode"`
	StopType string `yaml:"stop_type"`
}

type ServerConfig struct {
	Listen    string `yaml:"listen"`
	StaticDir string `yaml:"static_dir"`
}

type AlertsConfig struct {
	// TrainApproaching enables a Pushover alert when the watched
	// platform's next train goes imminent. Requires PUSHOVER_TOKEN and
	// PUSHOVER_USER in the environment.
	TrainApproaching bool `yaml:"train_approaching"`
}

type Config struct {
	TfL    TfLConfig    `yaml:"tfl"`
	Server ServerConfig `yaml:"server"`
	Alerts AlertsConfig `yaml:"alerts"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TfL.Mode == "" {
		c.TfL.Mode = "tube"
	}
	if c.TfL.StopType == "" {
		c.TfL.StopType = "NaptanMetroStation"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "static"
	}
}

func (c *Config) Validate() error {
	if c.TfL.Mode == "" || c.TfL.StopType == "" {
		return fmt.Errorf("tfl: mode and stop_type are required")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server: listen address is required")
	}
	return nil
}
