package controller

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/neuralconfig/ruckus-ztp/pkg/util"
)

// RedisConfig enables the optional Redis event sink.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// AuditConfig enables the file-based RPC audit trail.
type AuditConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Config is the controller's YAML configuration file.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	// AuthToken, when set, pins registration to one shared secret.
	// Empty keeps the non-empty-token stub.
	AuthToken string      `yaml:"auth_token"`
	Redis     RedisConfig `yaml:"redis"`
	Audit     AuditConfig `yaml:"audit"`
}

// DefaultControllerConfig returns the zero-configuration defaults.
func DefaultControllerConfig() Config {
	return Config{
		ListenAddr: ":8000",
		LogLevel:   "info",
		Redis: RedisConfig{
			Channel: "ztp:events",
		},
		Audit: AuditConfig{
			MaxSizeMB:  10,
			MaxBackups: 10,
		},
	}
}

// LoadConfig reads the YAML file, filling defaults for anything unset.
// A missing file is not an error: defaults apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultControllerConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, util.NewConfigError(path, "", err.Error())
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, util.NewConfigError(path, "", err.Error())
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8000"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "ztp:events"
	}
	return cfg, nil
}
