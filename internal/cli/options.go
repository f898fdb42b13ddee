package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/simp-lee/epubemoji"
	"github.com/simp-lee/epubemoji/internal/config"
	"github.com/spf13/cobra"
)

// transformFlagValues holds the flags shared by convert and html.
type transformFlagValues struct {
	assetDir    string
	cacheDir    string
	cdnBase     string
	localOnly   bool
	dataURI     bool
	timeout     time.Duration
	concurrency int
}

// addTransformFlags registers the shared flags. withAssetDir adds
// --asset-dir as the name of the image directory inside the archive.
func addTransformFlags(cmd *cobra.Command, v *transformFlagValues, withAssetDir bool) {
	if withAssetDir {
		cmd.Flags().StringVar(&v.assetDir, "asset-dir", "",
			"Name of the image directory next to the package document (default: "+epubemoji.DefaultAssetDirName+")")
	}
	cmd.Flags().StringVar(&v.cacheDir, "cache-dir", "",
		"Local image cache directory\n"+
			"Precedence: --cache-dir > $"+config.EnvCacheDir+" > cache_dir > <executable dir>/"+epubemoji.DefaultAssetDirName)
	cmd.Flags().StringVar(&v.cdnBase, "cdn", "",
		"Base URL images are downloaded from as <base>/<key>.png\n"+
			"Precedence: --cdn > $"+config.EnvCDNBase+" > cdn_base > "+epubemoji.DefaultCDNBase)
	cmd.Flags().BoolVar(&v.localOnly, "local-only", false,
		"Never download; emoji missing from the cache stay text")
	cmd.Flags().BoolVar(&v.dataURI, "data-uri", false,
		"Inline images as data: URIs instead of adding image files")
	cmd.Flags().DurationVar(&v.timeout, "timeout", 0,
		"Timeout for one image download (default "+epubemoji.DefaultHTTPTimeout.String()+")")
	cmd.Flags().IntVar(&v.concurrency, "concurrency", 0,
		"Number of parallel image downloads (default "+fmt.Sprint(epubemoji.DefaultConcurrency)+")")
}

// buildTransformConfig merges defaults, the config file, the environment
// and the flags, in increasing order of precedence.
func buildTransformConfig(cmd *cobra.Command, v *transformFlagValues) (epubemoji.Config, error) {
	_ = godotenv.Load()

	pc, err := loadProjectConfig(cmd)
	if err != nil {
		return epubemoji.Config{}, err
	}
	pc.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("asset-dir") && v.assetDir != "" {
		pc.AssetDir = v.assetDir
	}
	if flags.Changed("cache-dir") {
		pc.CacheDir = v.cacheDir
	}
	if flags.Changed("cdn") {
		pc.CDNBase = v.cdnBase
	}
	if v.localOnly {
		pc.Source = epubemoji.LocalOnly.String()
	}
	if v.dataURI {
		pc.Delivery = epubemoji.EmbeddedDataURI.String()
	}
	if flags.Changed("timeout") {
		if v.timeout <= 0 {
			return epubemoji.Config{}, fmt.Errorf("%w: --timeout must be positive", ErrUsage)
		}
		pc.Timeout = v.timeout.String()
	}
	if flags.Changed("concurrency") {
		if v.concurrency <= 0 {
			return epubemoji.Config{}, fmt.Errorf("%w: --concurrency must be positive", ErrUsage)
		}
		pc.Concurrency = v.concurrency
	}
	return pc.Transform()
}

// loadProjectConfig reads --config, or epubemoji.yaml in the working
// directory when present.
func loadProjectConfig(cmd *cobra.Command) (*config.ProjectConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		pc, err := config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		return pc, nil
	}

	pc, err := config.Load(".")
	if errors.Is(err, config.ErrConfigNotFound) {
		return &config.ProjectConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", config.ConfigFileName, err)
	}
	return pc, nil
}

// derivedOutputPath names the output of a batch run: the input's base name
// with suffix inserted before the extension, in dir or next to the input.
func derivedOutputPath(input, dir, suffix string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext) + suffix + ext
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, name)
}

// sameFile reports whether a and b name the same existing file or the
// same cleaned path.
func sameFile(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
