package epubemoji

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// mimetypeName is the OCF entry that must come first, stored uncompressed.
const mimetypeName = "mimetype"

// htmlExtensions are the member extensions routed through the rewriter.
var htmlExtensions = map[string]bool{
	".html":  true,
	".htm":   true,
	".xhtml": true,
	".xht":   true,
}

// stage is a step of the transform pipeline. Stages run strictly in order;
// stageManifestPatched is skipped when the archive has no package document.
type stage int

const (
	stageOpened stage = iota
	stageScanned
	stageManifestResolved
	stageDocumentsRewritten
	stageManifestPatched
	stagePackaged
	stageDone
)

func (s stage) String() string {
	switch s {
	case stageOpened:
		return "opened"
	case stageScanned:
		return "scanned"
	case stageManifestResolved:
		return "manifest resolved"
	case stageDocumentsRewritten:
		return "documents rewritten"
	case stageManifestPatched:
		return "manifest patched"
	case stagePackaged:
		return "packaged"
	case stageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Transformer replaces emoji in ePub archives with inline images.
// A Transformer may be reused and shared; every call is an independent run
// with its own in-run fetch memo. Runs share only the on-disk asset cache.
type Transformer struct {
	cfg    Config
	cache  *Cache
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Transformer for cfg. Zero fields of cfg take their defaults.
func New(cfg Config) *Transformer {
	cfg = cfg.withDefaults()
	return &Transformer{
		cfg:    cfg,
		cache:  NewCache(cfg.CacheDir),
		logger: cfg.logger(),
		now:    time.Now,
	}
}

// Config returns the effective configuration, defaults filled in.
func (t *Transformer) Config() Config {
	return t.cfg
}

// TransformFile transforms the ePub at inputPath and writes the result to
// outputPath. The output is staged in memory and written last, through a
// temporary file renamed into place, so a failed run never leaves a
// partial output file.
func TransformFile(ctx context.Context, inputPath, outputPath string, cfg Config) (*Report, error) {
	return New(cfg).TransformFile(ctx, inputPath, outputPath)
}

// TransformFile is the Transformer form of the package-level TransformFile.
func (t *Transformer) TransformFile(ctx context.Context, inputPath, outputPath string) (*Report, error) {
	t.logger.Info("opening archive", "input", inputPath)
	a, err := openArchive(inputPath)
	if err != nil {
		return nil, err
	}

	data, report, err := t.run(ctx, a)
	if err != nil {
		return report, err
	}

	if err := writeFileAtomic(outputPath, data); err != nil {
		return report, fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	t.logger.Info("archive written", "output", outputPath, "bytes", len(data),
		"documents", report.Documents, "substitutions", report.Substitutions, "assets", len(report.Assets))
	return report, nil
}

// Transform reads an ePub from r and writes the transformed archive to w.
// Nothing is written to w unless the whole transform succeeded.
func (t *Transformer) Transform(ctx context.Context, r io.ReaderAt, size int64, w io.Writer) (*Report, error) {
	a, err := readArchive(r, size)
	if err != nil {
		return nil, err
	}

	data, report, err := t.run(ctx, a)
	if err != nil {
		return report, err
	}
	if _, err := w.Write(data); err != nil {
		return report, fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	return report, nil
}

// pipeline holds the state of one run.
type pipeline struct {
	t        *Transformer
	a        *archive
	resolver *Resolver
	report   *Report
	stage    stage

	manifestPath string
	assetDir     string          // archive path of the image directory
	navigation   map[string]bool // archive paths excluded from substitution
	obfuscated   map[string]bool // obfuscated fonts, copied through
	documents    []int           // indexes of members routed to the rewriter
	assets       map[Key][]byte  // delivered images; the one source for manifest and injection
}

func (t *Transformer) run(ctx context.Context, a *archive) ([]byte, *Report, error) {
	p := &pipeline{
		t:          t,
		a:          a,
		resolver:   NewResolver(t.cache, t.cfg),
		report:     &Report{Warnings: append([]string(nil), a.warnings...)},
		navigation: make(map[string]bool),
		obfuscated: make(map[string]bool),
		assets:     make(map[Key][]byte),
	}

	if err := p.scan(); err != nil {
		return nil, p.report, p.fail(err)
	}
	p.resolveManifest()
	p.rewriteDocuments(ctx)
	if err := ctx.Err(); err != nil {
		return nil, p.report, p.fail(err)
	}
	manifest := p.patchManifest()
	data, err := p.pack(manifest)
	if err != nil {
		return nil, p.report, p.fail(fmt.Errorf("%w: %v", ErrOutputWrite, err))
	}
	p.advance(stageDone)
	return data, p.report, nil
}

func (p *pipeline) advance(s stage) {
	p.stage = s
	p.t.logger.Debug("transform stage", "stage", s.String())
}

func (p *pipeline) fail(err error) error {
	return fmt.Errorf("%s: %w", p.stage, err)
}

func (p *pipeline) warn(msg string, err error) {
	p.t.logger.Warn(msg, "error", err)
	p.report.Warnings = append(p.report.Warnings, fmt.Sprintf("%s: %v", msg, err))
}

// scan rejects DRM-protected archives and records the obfuscated fonts.
func (p *pipeline) scan() error {
	obfuscated, err := checkDRM(p.a)
	if err != nil {
		return err
	}
	if len(obfuscated) > 0 {
		p.t.logger.Warn("font obfuscation detected; obfuscated fonts are copied unchanged", "fonts", len(obfuscated))
		p.report.Warnings = append(p.report.Warnings, "font obfuscation detected; obfuscated fonts are copied unchanged")
	}
	for _, uri := range obfuscated {
		if name := resolveRelativePath("", uri); name != "" {
			p.obfuscated[name] = true
		}
	}
	p.advance(stageScanned)
	return nil
}

// resolveManifest locates the package document, the navigation documents
// and the asset directory. Without a package document the images go to
// the archive root.
func (p *pipeline) resolveManifest() {
	defer p.advance(stageManifestResolved)

	p.assetDir = path.Clean(p.t.cfg.AssetDirName)

	manifestPath, err := locateManifest(p.a)
	if err != nil {
		p.warn("no package document; manifest left untouched", err)
		return
	}
	m := p.a.find(manifestPath)
	if m == nil {
		p.warn("no package document; manifest left untouched",
			fmt.Errorf("%w: %s not in archive", ErrManifestMissing, manifestPath))
		return
	}

	p.manifestPath = m.Name
	p.report.ManifestPath = m.Name
	p.assetDir = path.Join(manifestDir(m.Name), p.t.cfg.AssetDirName)

	pkg, err := parseOPF(m.Data)
	if err != nil {
		p.warn("cannot read navigation documents from package document", err)
		return
	}
	p.navigation = navigationDocuments(pkg, m.Name)
}

// routed reports whether m goes through the rewriter.
func (p *pipeline) routed(m *member) bool {
	if !htmlExtensions[strings.ToLower(path.Ext(m.Name))] {
		return false
	}
	if p.navigation[m.Name] || p.obfuscated[m.Name] || m.Name == p.manifestPath {
		return false
	}
	if !utf8.Valid(m.Data) {
		p.warn("document is not UTF-8; copied unchanged", fmt.Errorf("%s", m.Name))
		return false
	}
	return true
}

// rewriteDocuments resolves every emoji of every routed document, in
// parallel across distinct keys, then rewrites the documents in place.
func (p *pipeline) rewriteDocuments(ctx context.Context) {
	defer p.advance(stageDocumentsRewritten)

	wanted := make(KeySet)
	for i := range p.a.members {
		m := &p.a.members[i]
		if !p.routed(m) {
			p.t.logger.Debug("copying member", "name", m.Name)
			continue
		}
		p.documents = append(p.documents, i)
		wanted.Merge(ScanKeys(string(m.Data)))
	}
	p.report.Documents = len(p.documents)

	p.resolver.Prefetch(ctx, wanted.Sorted(), p.t.cfg.Concurrency)

	rw := &DocumentRewriter{
		Source:   p.resolver,
		Delivery: p.t.cfg.Delivery,
		Logger:   p.t.logger,
	}
	unresolved := make(KeySet)
	for _, i := range p.documents {
		m := &p.a.members[i]
		rel := relativePath(path.Dir(m.Name), p.assetDir)
		res := rw.Rewrite(ctx, string(m.Data), rel)
		p.t.logger.Debug("rewrote document", "name", m.Name, "substitutions", res.Substitutions)
		if res.Substitutions > 0 {
			m.Data = []byte(res.Text)
		}
		p.report.Substitutions += res.Substitutions
		unresolved.Merge(res.Unresolved)

		for key := range res.Keys {
			if _, ok := p.assets[key]; ok {
				continue
			}
			// Memoized; the same outcome the rewriter saw.
			asset, err := p.resolver.Resolve(ctx, key)
			if err == nil {
				p.assets[key] = asset.Data
			}
		}
	}

	if p.t.cfg.Delivery == ReferencedFile {
		p.carryAssets()
	}

	delivered := make(KeySet, len(p.assets))
	for key := range p.assets {
		delivered.Add(key)
	}
	p.report.Assets = delivered.Sorted()
	p.report.Unresolved = unresolved.Sorted()
	if len(p.report.Unresolved) > 0 {
		p.report.Warnings = append(p.report.Warnings,
			fmt.Sprintf("%d emoji left as text: no image available", len(p.report.Unresolved)))
	}
	p.report.Warnings = append(p.report.Warnings, p.resolver.Warnings()...)
	if p.t.cfg.Delivery == ReferencedFile {
		p.report.AssetDir = p.assetDir
	}
}

// carryAssets keeps images injected by a previous run that the documents
// still reference, so that transforming an output again leaves it intact.
// Images nothing references are left to the stale purge.
func (p *pipeline) carryAssets() {
	for i := range p.a.members {
		m := &p.a.members[i]
		if path.Dir(m.Name) != p.assetDir {
			continue
		}
		key, ok := ParseKey(path.Base(m.Name))
		if !ok {
			continue
		}
		if _, ok := p.assets[key]; ok || !p.referenced(key) {
			continue
		}
		p.t.logger.Debug("keeping asset from a previous run", "name", m.Name)
		p.assets[key] = m.Data
	}
}

// referenced reports whether a routed document mentions the image of key.
func (p *pipeline) referenced(key Key) bool {
	name := []byte("/" + key.Filename())
	for _, i := range p.documents {
		if bytes.Contains(p.a.members[i].Data, name) {
			return true
		}
	}
	return false
}

// patchManifest returns the patched package document, or nil when there is
// none. Stale asset members may be dropped only when the manifest was
// patched (or is absent), otherwise its old items would dangle.
func (p *pipeline) patchManifest() (patched []byte) {
	if p.manifestPath == "" {
		return nil
	}
	m := p.a.find(p.manifestPath)

	var keys []Key
	if p.t.cfg.Delivery == ReferencedFile {
		keys = p.report.Assets
	}
	out, err := patchManifest(m.Data, keys, p.t.cfg.AssetDirName)
	if err != nil {
		p.warn("package document left unchanged", err)
		return nil
	}
	p.advance(stageManifestPatched)
	return out
}

// pack builds the output archive: mimetype first, then every other member
// in its original order with the package document replaced in place, then
// the images under the asset directory.
func (p *pipeline) pack(manifest []byte) ([]byte, error) {
	patched := manifest != nil
	dropStale := patched || p.manifestPath == ""

	inject := make(map[string][]byte)
	if p.t.cfg.Delivery == ReferencedFile {
		for key, data := range p.assets {
			inject[path.Join(p.assetDir, key.Filename())] = data
		}
	}

	out := make([]member, 0, len(p.a.members)+len(inject))
	for _, m := range p.a.members {
		switch {
		case m.Name == p.manifestPath && patched:
			m.Data = manifest
		case isUnder(m.Name, p.assetDir) && !strings.HasSuffix(m.Name, "/"):
			if data, ok := inject[m.Name]; ok {
				m.Data = data
				delete(inject, m.Name)
			} else if dropStale {
				p.t.logger.Debug("dropping stale asset", "name", m.Name)
				continue
			}
		}
		out = append(out, m)
	}

	modified := p.t.now()
	for _, key := range p.report.Assets {
		name := path.Join(p.assetDir, key.Filename())
		data, ok := inject[name]
		if !ok {
			continue
		}
		out = append(out, member{Name: name, Data: data, Method: zip.Store, Modified: modified})
	}

	var buf bytes.Buffer
	zw := newZipWriter(&buf)
	if p.a.comment != "" {
		if err := zw.SetComment(p.a.comment); err != nil {
			return nil, err
		}
	}
	for _, m := range out {
		if m.Name == mimetypeName {
			if err := writeStoredRaw(zw, m); err != nil {
				return nil, fmt.Errorf("write %s: %w", m.Name, err)
			}
			break
		}
	}
	for _, m := range out {
		if m.Name == mimetypeName {
			continue
		}
		if err := writeMember(zw, m); err != nil {
			return nil, fmt.Errorf("write %s: %w", m.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}
	p.advance(stagePackaged)
	return buf.Bytes(), nil
}

// RewriteFile is the single-document mode: it rewrites the HTML or XHTML
// file at inputPath, writes it to outputPath, and references images as
// "<assetDir>/<key>.png". With ReferencedFile delivery the images are
// copied to assetDir resolved against the output file's directory. No
// archive or manifest is involved.
func (t *Transformer) RewriteFile(ctx context.Context, inputPath, outputPath, assetDir string) (*Report, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("epubemoji: read %s: %w", inputPath, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("epubemoji: %s is not UTF-8", inputPath)
	}

	resolver := NewResolver(t.cache, t.cfg)
	text := string(data)
	resolver.Prefetch(ctx, ScanKeys(text).Sorted(), t.cfg.Concurrency)

	rw := &DocumentRewriter{Source: resolver, Delivery: t.cfg.Delivery, Logger: t.logger}
	res := rw.Rewrite(ctx, text, filepath.ToSlash(assetDir))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		Documents:     1,
		Substitutions: res.Substitutions,
		Assets:        res.Keys.Sorted(),
		Unresolved:    res.Unresolved.Sorted(),
		Warnings:      resolver.Warnings(),
	}

	if t.cfg.Delivery == ReferencedFile && len(report.Assets) > 0 {
		dir := filepath.FromSlash(assetDir)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(outputPath), dir)
		}
		report.AssetDir = dir
		images := NewCache(dir)
		for _, key := range report.Assets {
			asset, err := resolver.Resolve(ctx, key)
			if err != nil {
				continue
			}
			if err := images.Write(key, asset.Data); err != nil {
				return report, fmt.Errorf("%w: %v", ErrOutputWrite, err)
			}
		}
	}

	if err := writeFileAtomic(outputPath, []byte(res.Text)); err != nil {
		return report, fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	return report, nil
}
