// Package config provides configuration management for GazeProbe
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Session  SessionConfig  `mapstructure:"session"`
	Detector DetectorConfig `mapstructure:"detector"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SessionConfig configures the sampling session
type SessionConfig struct {
	DurationSeconds int           `mapstructure:"duration_seconds"`
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
	ReferenceWidth  float64       `mapstructure:"reference_width"`
	ScreenWidth     float64       `mapstructure:"screen_width"`
}

// DetectorConfig configures the face-detection client
type DetectorConfig struct {
	ServerURL      string        `mapstructure:"server_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxFrameAge    time.Duration `mapstructure:"max_frame_age"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// ServerConfig configures the control/render surface
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	Dir        string `mapstructure:"dir"`
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	MaxHistory int    `mapstructure:"max_history"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			DurationSeconds: 10,
			SampleInterval:  500 * time.Millisecond,
			ReferenceWidth:  300,
			ScreenWidth:     800,
		},
		Detector: DetectorConfig{
			ServerURL:      "http://localhost:8090",
			Timeout:        5 * time.Second,
			MaxFrameAge:    2 * time.Second,
			ReconnectDelay: 3 * time.Second,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8085,
		},
		Logging: LoggingConfig{
			Dir:        "",
			Level:      "debug",
			Console:    true,
			MaxHistory: 1000,
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := Dir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("GAZEPROBE")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	configDir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("session", cfg.Session)
	viper.Set("detector", cfg.Detector)
	viper.Set("server", cfg.Server)
	viper.Set("logging", cfg.Logging)

	configPath := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configPath)
}

// Dir returns the configuration directory path
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".gazeprobe"), nil
}
