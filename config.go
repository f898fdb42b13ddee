package epubemoji

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Defaults used when the corresponding Config field is zero.
const (
	// DefaultAssetDirName names the image directory, both inside the
	// archive (next to the package document) and next to the executable
	// (the asset cache).
	DefaultAssetDirName = "emoji_img"

	// DefaultCDNBase is the remote image source. Images are requested as
	// "<base>/<key>.png".
	DefaultCDNBase = "https://gcore.jsdelivr.net/gh/twitter/twemoji@14.0.2/assets/72x72"

	// DefaultHTTPTimeout bounds one image request.
	DefaultHTTPTimeout = 15 * time.Second

	// DefaultConcurrency is the number of images fetched in parallel.
	DefaultConcurrency = 8
)

// Config controls a transform. The zero value is usable; every zero field
// takes its documented default.
type Config struct {
	// AssetDirName is the name of the image directory created next to the
	// package document. Default: DefaultAssetDirName.
	AssetDirName string

	// CacheDir is the local asset cache directory.
	// Default: DefaultAssetDirName next to the running executable.
	CacheDir string

	// CDNBase is the remote image source. Default: DefaultCDNBase.
	CDNBase string

	// Source selects whether missing images are downloaded.
	// Default: RemoteWithCache.
	Source SourceMode

	// Delivery selects how images are referenced. Default: ReferencedFile.
	Delivery DeliveryMode

	// HTTPTimeout bounds one image request. Ignored when HTTPClient is set.
	// Default: DefaultHTTPTimeout.
	HTTPTimeout time.Duration

	// Concurrency is the number of images fetched in parallel.
	// Default: DefaultConcurrency.
	Concurrency int

	// HTTPClient overrides the client used for image requests.
	HTTPClient *http.Client

	// Logger overrides the package logger (see SetLogger) for this transform.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

// withDefaults returns a copy of c with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.AssetDirName == "" {
		c.AssetDirName = DefaultAssetDirName
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir(c.AssetDirName)
	}
	if c.CDNBase == "" {
		c.CDNBase = DefaultCDNBase
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return Logger()
}

// defaultCacheDir places the cache next to the executable, falling back to
// the working directory when the executable path is unknown.
func defaultCacheDir(name string) string {
	exe, err := os.Executable()
	if err != nil {
		return name
	}
	return filepath.Join(filepath.Dir(exe), name)
}
