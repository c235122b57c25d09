package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BadgerOps/cvmfs-scraper/internal/fetch"
	"github.com/BadgerOps/cvmfs-scraper/pkg/cvmfs"
	"github.com/BadgerOps/cvmfs-scraper/pkg/geoapi"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Servers      []ServerEntry      `yaml:"servers" validate:"dive"`
	Repositories RepositoriesConfig `yaml:"repositories"`
	GeoAPI       GeoAPIConfig       `yaml:"geoapi"`
	HTTP         HTTPConfig         `yaml:"http"`
	Scrape       ScrapeConfig       `yaml:"scrape"`
	Serve        ServeConfig        `yaml:"serve"`
}

// ServerEntry is one server to scrape
type ServerEntry struct {
	Hostname string `yaml:"hostname" validate:"required,cvmfs_hostname"`
	Type     string `yaml:"type" validate:"omitempty,oneof=stratum0 stratum1 syncserver"`
	Backend  string `yaml:"backend,omitempty" validate:"omitempty,oneof=cvmfs s3 autodetect"`
}

// RepositoriesConfig selects repositories on every server
type RepositoriesConfig struct {
	Forced     []string `yaml:"forced" validate:"dive,cvmfs_repository"`
	Ignored    []string `yaml:"ignored" validate:"dive,cvmfs_repository"`
	OnlyForced bool     `yaml:"only_forced"`
}

// GeoAPIConfig controls GeoAPI ranking
type GeoAPIConfig struct {
	Enabled bool     `yaml:"enabled"`
	Servers []string `yaml:"servers" validate:"dive,cvmfs_hostname"`
}

// HTTPConfig holds outgoing request settings
type HTTPConfig struct {
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxResponseBytes  int64         `yaml:"max_response_bytes" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	Retries           int           `yaml:"retries" validate:"gte=0,lte=10"`
	UserAgent         string        `yaml:"user_agent"`
}

// ScrapeConfig holds scrape settings
type ScrapeConfig struct {
	Concurrency int `yaml:"concurrency" validate:"gte=0"`
}

// ServeConfig holds API server settings
type ServeConfig struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	servers := make([]string, len(geoapi.DefaultServers))
	for i, h := range geoapi.DefaultServers {
		servers[i] = string(h)
	}
	return &Config{
		GeoAPI: GeoAPIConfig{
			Enabled: true,
			Servers: servers,
		},
		HTTP: HTTPConfig{
			Timeout:          fetch.DefaultTimeout,
			MaxResponseBytes: fetch.DefaultMaxResponseBytes,
			UserAgent:        fetch.DefaultUserAgent,
		},
		Scrape: ScrapeConfig{
			Concurrency: 8,
		},
		Serve: ServeConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}

// Load reads a config file from the given path and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"cvmfs-scraper.yaml",
		"/etc/cvmfs-scraper/cvmfs-scraper.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "cvmfs-scraper", "cvmfs-scraper.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cvmfs_hostname", func(fl validator.FieldLevel) bool {
		_, err := cvmfs.ParseHostname(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("cvmfs_repository", func(fl validator.FieldLevel) bool {
		_, err := cvmfs.ParseRepositoryName(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field values. It does not check cross-field rules such as
// duplicate servers; the scraper reports those.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ServerConfigs converts the server entries. An entry without a type is a
// stratum1; one without a backend is autodetected.
func (c *Config) ServerConfigs() ([]cvmfs.ServerConfig, error) {
	out := make([]cvmfs.ServerConfig, 0, len(c.Servers))
	for i, s := range c.Servers {
		host, err := cvmfs.ParseHostname(s.Hostname)
		if err != nil {
			return nil, fmt.Errorf("servers[%d]: %w", i, err)
		}
		typ := cvmfs.Stratum1
		if s.Type != "" {
			if typ, err = cvmfs.ParseServerType(s.Type); err != nil {
				return nil, fmt.Errorf("servers[%d]: %w", i, err)
			}
		}
		backend, err := cvmfs.ParseBackendType(s.Backend)
		if err != nil {
			return nil, fmt.Errorf("servers[%d]: %w", i, err)
		}
		out = append(out, cvmfs.NewServer(typ, backend, host))
	}
	return out, nil
}

// GeoAPIServers returns the GeoAPI candidates, or an empty list when
// ranking is disabled.
func (c *Config) GeoAPIServers() []string {
	if !c.GeoAPI.Enabled {
		return []string{}
	}
	return append([]string{}, c.GeoAPI.Servers...)
}

// FetchOptions converts the http section for the fetch client.
func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:           c.HTTP.Timeout,
		MaxResponseBytes:  c.HTTP.MaxResponseBytes,
		UserAgent:         c.HTTP.UserAgent,
		RequestsPerSecond: c.HTTP.RequestsPerSecond,
		Burst:             c.HTTP.Burst,
		Retries:           c.HTTP.Retries,
	}
}
