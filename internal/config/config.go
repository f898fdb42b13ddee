package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/simp-lee/epubemoji"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the config file does not exist.
// Callers can check for this with errors.Is(err, config.ErrConfigNotFound).
var ErrConfigNotFound = errors.New("config file not found")

// ErrInvalidConfig is returned when a config value cannot be interpreted.
var ErrInvalidConfig = errors.New("invalid configuration")

const ConfigFileName = "epubemoji.yaml"

// Environment variables overriding the file.
const (
	EnvCacheDir = "EPUBEMOJI_CACHE_DIR"
	EnvCDNBase  = "EPUBEMOJI_CDN_BASE"
)

type ProjectConfig struct {
	AssetDir    string `yaml:"asset_dir"`
	CacheDir    string `yaml:"cache_dir"`
	CDNBase     string `yaml:"cdn_base"`
	Source      string `yaml:"source"`   // remote | local
	Delivery    string `yaml:"delivery"` // file | datauri
	Timeout     string `yaml:"timeout"`
	Concurrency int    `yaml:"concurrency"`
}

// Load reads ConfigFileName from dir.
func Load(dir string) (*ProjectConfig, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads the config file at path.
func LoadFile(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnv overrides the cache directory and CDN base from the environment.
func (c *ProjectConfig) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvCacheDir)); v != "" {
		c.CacheDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCDNBase)); v != "" {
		c.CDNBase = v
	}
}

// Transform converts the file settings into a transform configuration.
// Empty settings stay zero so the library defaults apply.
func (c *ProjectConfig) Transform() (epubemoji.Config, error) {
	cfg := epubemoji.Config{
		AssetDirName: c.AssetDir,
		CacheDir:     c.CacheDir,
		CDNBase:      strings.TrimRight(c.CDNBase, "/"),
		Concurrency:  c.Concurrency,
	}

	source, err := ParseSource(c.Source)
	if err != nil {
		return epubemoji.Config{}, err
	}
	cfg.Source = source

	delivery, err := ParseDelivery(c.Delivery)
	if err != nil {
		return epubemoji.Config{}, err
	}
	cfg.Delivery = delivery

	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil || d <= 0 {
			return epubemoji.Config{}, fmt.Errorf("%w: timeout %q", ErrInvalidConfig, c.Timeout)
		}
		cfg.HTTPTimeout = d
	}
	if c.Concurrency < 0 {
		return epubemoji.Config{}, fmt.Errorf("%w: concurrency %d", ErrInvalidConfig, c.Concurrency)
	}
	if strings.ContainsAny(c.AssetDir, `/\`) || c.AssetDir == "." || c.AssetDir == ".." {
		return epubemoji.Config{}, fmt.Errorf("%w: asset_dir %q must be a single path segment", ErrInvalidConfig, c.AssetDir)
	}
	return cfg, nil
}

// ParseSource parses "remote" or "local"; empty means remote.
func ParseSource(s string) (epubemoji.SourceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "remote":
		return epubemoji.RemoteWithCache, nil
	case "local":
		return epubemoji.LocalOnly, nil
	default:
		return 0, fmt.Errorf("%w: source %q (want remote or local)", ErrInvalidConfig, s)
	}
}

// ParseDelivery parses "file" or "datauri"; empty means file.
func ParseDelivery(s string) (epubemoji.DeliveryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "file":
		return epubemoji.ReferencedFile, nil
	case "datauri", "data-uri":
		return epubemoji.EmbeddedDataURI, nil
	default:
		return 0, fmt.Errorf("%w: delivery %q (want file or datauri)", ErrInvalidConfig, s)
	}
}
