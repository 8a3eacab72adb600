package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const envLogLevel = "MEDIACATALOG_LOG_LEVEL"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path         string        `yaml:"path"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

type UploadsConfig struct {
	Dir              string        `yaml:"dir"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	ReconcileOnStart bool          `yaml:"reconcile_on_start"`
	OrphanGrace      time.Duration `yaml:"orphan_grace"`
}

// CacheConfig bounds the in-memory cache used when serving small stored files.
type CacheConfig struct {
	Capacity    int   `yaml:"capacity"`
	MaxSize     int64 `yaml:"max_size"`      // bytes
	MaxItemSize int64 `yaml:"max_item_size"` // bytes, larger files are streamed from disk
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5003,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
		},
		Database: DatabaseConfig{
			Path:         "data/midias.db",
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 1,
		},
		Uploads: UploadsConfig{
			Dir:              "data/uploads",
			MaxUploadBytes:   512 * 1024 * 1024, // 512 MB
			ReconcileOnStart: true,
			OrphanGrace:      time.Hour,
		},
		Cache: CacheConfig{
			Capacity:    256,
			MaxSize:     64 * 1024 * 1024, // 64 MB
			MaxItemSize: 2 * 1024 * 1024,  // 2 MB
		},
		RateLimit: RateLimitConfig{
			Requests: 600,
			Window:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if level := os.Getenv(envLogLevel); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}
