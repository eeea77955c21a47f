package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	DB      DBConfig      `yaml:"db"`
	Uploads UploadsConfig `yaml:"uploads"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type UploadsConfig struct {
	// Dir is where uploaded audio lives under opaque storage names.
	Dir string `yaml:"dir"`
	// MaxBytes bounds multipart upload size. Zero means the default.
	MaxBytes int64 `yaml:"max_bytes"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

const defaultMaxUploadBytes = 100 << 20

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		DB: DBConfig{
			Path: "clipnote.sqlite3",
		},
		Uploads: UploadsConfig{
			Dir:      "uploads",
			MaxBytes: defaultMaxUploadBytes,
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if path := os.Getenv("CLIPNOTE_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if host := os.Getenv("CLIPNOTE_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("CLIPNOTE_SERVER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CLIPNOTE_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if dbPath := os.Getenv("CLIPNOTE_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if dir := os.Getenv("CLIPNOTE_UPLOAD_DIR"); dir != "" {
		cfg.Uploads.Dir = dir
	}
	if level := os.Getenv("CLIPNOTE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if cfg.Uploads.MaxBytes <= 0 {
		cfg.Uploads.MaxBytes = defaultMaxUploadBytes
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
