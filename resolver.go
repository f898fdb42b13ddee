package epubemoji

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// maxAssetSize bounds a single downloaded image. Emoji PNGs are a few KB.
const maxAssetSize int64 = 4 * 1024 * 1024

// pngSignature is the 8-byte header every PNG file starts with.
var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// AssetSource resolves emoji keys to image bytes.
type AssetSource interface {
	Resolve(ctx context.Context, key Key) (Asset, error)
}

// Resolver guarantees an image for a key exists in the asset cache before
// the key is referenced, fetching from the CDN when the cache has no copy.
//
// Lookup order for a key:
//  1. the cached image for the key;
//  2. the cached image for the key without its trailing "-fe0f", copied
//     to the key;
//  3. the CDN image for the key;
//  4. the CDN image for the key without its trailing "-fe0f", stored under
//     both keys.
//
// Steps 3 and 4 are skipped in LocalOnly mode. Every key is resolved at most
// once per Resolver; later calls return the memoized outcome, and concurrent
// calls for the same key share one lookup. A lookup that fails because its
// caller's context ended is not memoized. A Resolver is safe for concurrent
// use and is meant to live for a single run.
type Resolver struct {
	cache   *Cache
	client  *http.Client
	baseURL string
	source  SourceMode
	logger  *slog.Logger

	group singleflight.Group

	mu       sync.Mutex
	done     map[Key]resolution
	warnings []string
}

type resolution struct {
	asset       Asset
	err         error
	interrupted bool // the resolving caller's context ended first
}

// NewResolver creates a Resolver over cache using the source settings in cfg.
func NewResolver(cache *Cache, cfg Config) *Resolver {
	cfg = cfg.withDefaults()
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Resolver{
		cache:   cache,
		client:  client,
		baseURL: strings.TrimRight(cfg.CDNBase, "/"),
		source:  cfg.Source,
		logger:  cfg.logger(),
		done:    make(map[Key]resolution),
	}
}

// URL returns the CDN address of the image for key.
func (r *Resolver) URL(key Key) string {
	return r.baseURL + "/" + key.Filename()
}

// Resolve returns the image for key. A failure wraps ErrAssetFetch and is
// local to the key: callers leave the emoji as text.
func (r *Resolver) Resolve(ctx context.Context, key Key) (Asset, error) {
	r.mu.Lock()
	res, ok := r.done[key]
	r.mu.Unlock()
	if ok {
		return res.asset, res.err
	}

	for {
		v, _, _ := r.group.Do(string(key), func() (any, error) {
			r.mu.Lock()
			res, ok := r.done[key]
			r.mu.Unlock()
			if ok {
				return res, nil
			}

			asset, err := r.resolve(ctx, key)
			res = resolution{asset: asset, err: err}
			// A lookup cut short by the caller's context says nothing
			// about the key; only definitive outcomes are memoized.
			if err != nil && ctx.Err() != nil {
				res.interrupted = true
				return res, nil
			}

			r.mu.Lock()
			r.done[key] = res
			r.mu.Unlock()
			return res, nil
		})
		res = v.(resolution)
		if !res.interrupted || ctx.Err() != nil {
			return res.asset, res.err
		}
		// The shared lookup belonged to a caller that gave up; run our own.
	}
}

// Prefetch resolves keys in parallel, at most concurrency at a time, and
// returns once every key has been resolved or has definitively failed.
// Outcomes are memoized for later Resolve calls.
func (r *Resolver) Prefetch(ctx context.Context, keys []Key, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, key := range keys {
		g.Go(func() error {
			_, _ = r.Resolve(ctx, key)
			return nil
		})
	}
	_ = g.Wait()
}

// Warnings returns the cache write problems met so far.
func (r *Resolver) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

func (r *Resolver) resolve(ctx context.Context, key Key) (Asset, error) {
	if data, err := r.cache.Read(key); err == nil {
		return Asset{Key: key, Data: data}, nil
	}

	base, hasBase := key.Base()
	if hasBase {
		if data, err := r.cache.Read(base); err == nil {
			r.logger.Debug("using base emoji image", "key", key, "base", base)
			r.store(key, data)
			return Asset{Key: key, Data: data}, nil
		}
	}

	if r.source == LocalOnly {
		return Asset{}, fmt.Errorf("%w: %s not in cache %s", ErrAssetFetch, key.Filename(), r.cache.Dir())
	}

	data, err := r.fetch(ctx, key)
	if err == nil {
		r.store(key, data)
		return Asset{Key: key, Data: data}, nil
	}
	r.logger.Debug("emoji image fetch failed", "key", key, "error", err)

	if hasBase {
		baseData, baseErr := r.fetch(ctx, base)
		if baseErr == nil {
			r.logger.Debug("using downloaded base emoji image", "key", key, "base", base)
			r.store(base, baseData)
			r.store(key, baseData)
			return Asset{Key: key, Data: baseData}, nil
		}
		r.logger.Debug("base emoji image fetch failed", "key", base, "error", baseErr)
	}

	return Asset{}, fmt.Errorf("%w: %s: %v", ErrAssetFetch, key.Filename(), err)
}

// store writes data to the cache. The bytes are already in hand, so a
// failed write only costs the next run a download.
func (r *Resolver) store(key Key, data []byte) {
	if err := r.cache.Write(key, data); err != nil {
		r.logger.Warn("asset cache write failed", "key", key, "error", err)
		r.mu.Lock()
		r.warnings = append(r.warnings, err.Error())
		r.mu.Unlock()
	}
}

// fetch downloads the image for key from the CDN.
func (r *Resolver) fetch(ctx context.Context, key Key) ([]byte, error) {
	url := r.URL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", url, err)
	}

	r.logger.Debug("downloading emoji image", "url", url)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: unexpected status %s", url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(data)) > maxAssetSize {
		return nil, fmt.Errorf("get %s: image exceeds %d bytes", url, maxAssetSize)
	}
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, fmt.Errorf("get %s: response is not a PNG image", url)
	}
	return data, nil
}
