// Package config resolves buildfy settings from defaults, the YAML config
// file, BUILDFY_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/manash/buildfy/internal/provider"
	"github.com/manash/buildfy/pkg/models"
)

const EnvPrefix = "BUILDFY"

var ErrInvalidConfig = errors.New("invalid configuration")

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Key     string        `mapstructure:"key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServeConfig struct {
	Addr       string        `mapstructure:"addr"`
	UploadDir  string        `mapstructure:"upload_dir"`
	PublicURL  string        `mapstructure:"public_url"`
	ChunkDelay time.Duration `mapstructure:"chunk_delay"`
	RateLimit  int           `mapstructure:"rate_limit"`
}

type Config struct {
	API            APIConfig     `mapstructure:"api"`
	Model          string        `mapstructure:"model"`
	Shadcn         bool          `mapstructure:"shadcn"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
	History        HistoryConfig `mapstructure:"history"`
	Log            LogConfig     `mapstructure:"log"`
	Verbose        bool          `mapstructure:"verbose"`
	Serve          ServeConfig   `mapstructure:"serve"`
}

// DefaultPath is config.yaml under the user's XDG config directory.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "buildfy", "config.yaml")
}

// DefaultUploadDir is where the development server keeps uploaded files.
func DefaultUploadDir() string {
	return filepath.Join(xdg.DataHome, "buildfy", "uploads")
}

// New returns a viper instance carrying every default and wired to the
// environment. Callers bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.key", "")
	v.SetDefault("api.timeout", 120*time.Second)
	v.SetDefault("model", models.DefaultModel)
	v.SetDefault("shadcn", true)
	v.SetDefault("status_interval", 3*time.Second)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", filepath.Join(xdg.DataHome, "buildfy", "history.db"))
	v.SetDefault("log.level", "warn")
	v.SetDefault("verbose", false)
	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("serve.upload_dir", DefaultUploadDir())
	v.SetDefault("serve.public_url", "")
	v.SetDefault("serve.chunk_delay", 40*time.Millisecond)
	v.SetDefault("serve.rate_limit", 60)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the config file at path, or DefaultPath when path is empty, and
// decodes the merged settings. A missing default file is not an error; a
// missing explicit file is.
func Load(v *viper.Viper, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
		case !explicit && errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("%w: api.base_url is empty", ErrInvalidConfig)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("%w: api.timeout must not be negative", ErrInvalidConfig)
	}
	if c.StatusInterval <= 0 {
		return fmt.Errorf("%w: status_interval must be positive", ErrInvalidConfig)
	}
	if _, ok := models.DefaultRegistry().Get(c.Model); !ok {
		return fmt.Errorf("%w: %w: %q", ErrInvalidConfig, models.ErrUnknownModel, c.Model)
	}
	if c.Serve.RateLimit < 0 {
		return fmt.Errorf("%w: serve.rate_limit must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ProviderConfig is the backend configuration derived from the api section.
func (c *Config) ProviderConfig() *provider.Config {
	return &provider.Config{
		BaseURL:    c.API.BaseURL,
		APIKey:     c.API.Key,
		TimeoutSec: int(c.API.Timeout / time.Second),
		Verbose:    c.Verbose,
	}
}
