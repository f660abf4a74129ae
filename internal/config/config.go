// Package config loads the service configuration from TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultFetchTimeout bounds remote source downloads.
	DefaultFetchTimeout = 240 * time.Second

	// DefaultUserHeader carries the requester email set by the fronting proxy.
	DefaultUserHeader = "X-Bandfront-User"

	// DefaultAnalyticsEndpoint is the GA4 Measurement Protocol collector.
	DefaultAnalyticsEndpoint = "https://www.google-analytics.com/mp/collect"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Database  DatabaseConfig  `koanf:"database"`
	Demo      DemoConfig      `koanf:"demo"`
	FFmpeg    FFmpegConfig    `koanf:"ffmpeg"`
	Analytics AnalyticsConfig `koanf:"analytics"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	UserHeader      string        `koanf:"user_header"` // trusted header with the requester email
	BaseURL         string        `koanf:"base_url"`    // public URL of this service, for tracked play links
}

// StorageConfig describes where demos live and how source URLs map onto disk.
type StorageConfig struct {
	UploadDir  string `koanf:"upload_dir"`  // demos go to {upload_dir}/bfp
	PublicURL  string `koanf:"public_url"`  // public URL of upload_dir
	SiteURL    string `koanf:"site_url"`    // storefront base URL
	SiteRoot   string `koanf:"site_root"`   // filesystem root matching site_url
	OffloadURL string `koanf:"offload_url"` // optional PUT target for generated demos
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// DemoConfig is the global demo policy. Products may override Enabled and Percent.
type DemoConfig struct {
	Enabled          bool          `koanf:"enabled"`
	Percent          int           `koanf:"percent"`
	PurchasedExempt  bool          `koanf:"purchased_exempt"`
	DisableRedirect  bool          `koanf:"disable_redirect"`
	DefaultExtension bool          `koanf:"default_extension"` // treat unknown sources as mp3
	FetchTimeout     time.Duration `koanf:"fetch_timeout"`
	Preload          string        `koanf:"preload"` // none, metadata or auto
}

type FFmpegConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Path      string        `koanf:"path"`      // binary or directory containing it
	Watermark string        `koanf:"watermark"` // audio file mixed over demos
	Timeout   time.Duration `koanf:"timeout"`
}

// AnalyticsConfig enables server-side play tracking when MeasurementID is set.
type AnalyticsConfig struct {
	MeasurementID string        `koanf:"measurement_id"`
	APISecret     string        `koanf:"api_secret"`
	Endpoint      string        `koanf:"endpoint"`
	Timeout       time.Duration `koanf:"timeout"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3002,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			UserHeader:      DefaultUserHeader,
		},
		Storage: StorageConfig{
			UploadDir: "data/uploads",
			PublicURL: "/uploads",
		},
		Database: DatabaseConfig{
			Path: "data/bandfront.db",
		},
		Demo: DemoConfig{
			Enabled:      true,
			Percent:      50,
			FetchTimeout: DefaultFetchTimeout,
			Preload:      "none",
		},
		FFmpeg: FFmpegConfig{
			Path:    "ffmpeg",
			Timeout: 5 * time.Minute,
		},
		Analytics: AnalyticsConfig{
			Endpoint: DefaultAnalyticsEndpoint,
			Timeout:  5 * time.Second,
		},
	}
}

// Load reads the standard config locations and then explicitPath, if given.
// Later files override earlier ones. An explicit path that does not exist is
// an error; missing standard locations are skipped.
func Load(explicitPath string) (*Config, error) {
	k := koanf.New(".")

	for _, path := range getConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if explicitPath != "" {
		path := expandPath(explicitPath)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Storage.UploadDir = expandPath(c.Storage.UploadDir)
	c.Storage.SiteRoot = expandPath(c.Storage.SiteRoot)
	c.Database.Path = expandPath(c.Database.Path)
	c.FFmpeg.Watermark = expandPath(c.FFmpeg.Watermark)
	c.FFmpeg.Path = expandPath(c.FFmpeg.Path)

	c.Storage.PublicURL = strings.TrimSuffix(c.Storage.PublicURL, "/")
	c.Storage.SiteURL = strings.TrimSuffix(c.Storage.SiteURL, "/")
	c.Storage.OffloadURL = strings.TrimSuffix(c.Storage.OffloadURL, "/")
	c.Server.BaseURL = strings.TrimSuffix(c.Server.BaseURL, "/")

	if c.Server.UserHeader == "" {
		c.Server.UserHeader = DefaultUserHeader
	}
	if c.Demo.FetchTimeout <= 0 {
		c.Demo.FetchTimeout = DefaultFetchTimeout
	}
	if c.Analytics.Endpoint == "" {
		c.Analytics.Endpoint = DefaultAnalyticsEndpoint
	}
}

// Validate rejects settings the pipeline cannot honour.
func (c *Config) Validate() error {
	if c.Demo.Percent < 0 || c.Demo.Percent > 100 {
		return fmt.Errorf("demo.percent must be between 0 and 100, got %d", c.Demo.Percent)
	}
	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage.upload_dir is required")
	}
	switch c.Demo.Preload {
	case "none", "metadata", "auto":
	default:
		return fmt.Errorf("demo.preload must be none, metadata or auto, got %q", c.Demo.Preload)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// HasAnalytics reports whether play tracking is configured.
func (c *Config) HasAnalytics() bool {
	return c.Analytics.MeasurementID != ""
}

// HasOffload reports whether generated demos are pushed to remote storage.
func (c *Config) HasOffload() bool {
	return c.Storage.OffloadURL != ""
}

func getConfigPaths() []string {
	paths := []string{"/etc/bandfront/config.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "bandfront", "config.toml"))
	}

	// ./config.toml (pwd, highest priority among the defaults)
	paths = append(paths, "config.toml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
