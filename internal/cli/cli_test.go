package cli

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simp-lee/epubemoji"
	"github.com/simp-lee/epubemoji/internal/config"
)

// fakePNG is enough for the signature check.
var fakePNG = []byte("\x89PNG\r\n\x1a\nfake image data")

const testContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="id">
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
  </spine>
</package>`

const testChapter = `<html xmlns="http://www.w3.org/1999/xhtml"><body><p>Hi 😀 there</p></body></html>`

// writeTestEPUB writes a one-chapter book to dir and returns its path.
func writeTestEPUB(t *testing.T, dir, name string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := []struct{ name, body string }{
		{"mimetype", "application/epub+zip"},
		{"META-INF/container.xml", testContainer},
		{"OEBPS/content.opf", testOPF},
		{"OEBPS/ch1.xhtml", testChapter},
	}
	for _, f := range files {
		w, err := zw.Create(f.name)
		require.NoError(t, err)
		_, err = io.WriteString(w, f.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0644))
	return p
}

// seedCache returns a cache directory holding the image for 😀.
func seedCache(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1f600.png"), fakePNG, 0644))
	return dir
}

func readZipMember(t *testing.T, archive, name string) ([]byte, bool) {
	t.Helper()
	zr, err := zip.OpenReader(archive)
	require.NoError(t, err)
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return data, true
	}
	return nil, false
}

func resetFlagSet(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) { f.Changed = false })
}

func resetFlags() {
	convertFlags = convertFlagValues{suffix: DefaultSuffix}
	htmlFlags = htmlFlagValues{suffix: DefaultSuffix}
	resetFlagSet(convertCmd.Flags())
	resetFlagSet(htmlCmd.Flags())
	resetFlagSet(rootCmd.PersistentFlags())
	_ = rootCmd.PersistentFlags().Set("config", "")
	_ = rootCmd.PersistentFlags().Set("verbose", "false")
	resetFlagSet(rootCmd.PersistentFlags())
}

// execute runs the command tree with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(func() { epubemoji.SetLogger(nil) })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, ExitSuccess},
		{"unknown flag", errors.New("unknown flag: --foo"), ExitUsageError},
		{"unknown shorthand flag", errors.New("unknown shorthand flag: 'x' in -x"), ExitUsageError},
		{"accepts args", errors.New("accepts 1 arg(s), received 0"), ExitUsageError},
		{"invalid argument", errors.New(`invalid argument "abc" for "--timeout"`), ExitUsageError},
		{"wrapped usage", errors.Join(errors.New("ctx"), ErrUsage), ExitUsageError},
		{"invalid config", config.ErrInvalidConfig, ExitUsageError},
		{"transform failure", epubemoji.ErrArchiveOpen, ExitGeneralError},
		{"general error", errors.New("something went wrong"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeForError(tt.err))
		})
	}
}

func TestDerivedOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("books", "a_emoji.epub"), derivedOutputPath(filepath.Join("books", "a.epub"), "", "_emoji"))
	assert.Equal(t, filepath.Join("out", "a-x.epub"), derivedOutputPath(filepath.Join("books", "a.epub"), "out", "-x"))
	assert.Equal(t, filepath.Join("books", "noext_emoji"), derivedOutputPath(filepath.Join("books", "noext"), "", "_emoji"))
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	a := writeTestEPUB(t, dir, "a.epub")
	b := writeTestEPUB(t, dir, "b.epub")

	inputs, err := expandInputs([]string{filepath.Join(dir, "*.epub"), a, " "})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, inputs)

	_, err = expandInputs([]string{filepath.Join(dir, "*.mobi")})
	assert.ErrorIs(t, err, ErrUsage)

	_, err = expandInputs(nil)
	assert.ErrorIs(t, err, ErrUsage)
}

func TestPlanJobs(t *testing.T) {
	jobs, err := planJobs([]string{"a.epub"}, "out.epub", "", DefaultSuffix)
	require.NoError(t, err)
	assert.Equal(t, []job{{input: "a.epub", output: "out.epub"}}, jobs)

	_, err = planJobs([]string{"a.epub", "b.epub"}, "out.epub", "", DefaultSuffix)
	assert.ErrorIs(t, err, ErrUsage)

	_, err = planJobs([]string{"a.epub"}, "a.epub", "", DefaultSuffix)
	assert.ErrorIs(t, err, ErrUsage, "output must not overwrite input")

	_, err = planJobs([]string{"a.epub"}, "", "", "")
	assert.ErrorIs(t, err, ErrUsage, "empty suffix without output dir overwrites input")

	_, err = planJobs([]string{filepath.Join("x", "a.epub"), filepath.Join("y", "a.epub")}, "", "out", DefaultSuffix)
	assert.ErrorIs(t, err, ErrUsage, "colliding outputs")

	jobs, err = planJobs([]string{"a.epub", "b.epub"}, "", "out", DefaultSuffix)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "b_emoji.epub"), jobs[1].output)
}

func TestBuildTransformConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`asset_dir: pics
cache_dir: /from/file
cdn_base: https://file.example/72x72
timeout: 5s
concurrency: 2
`), 0644))
	t.Setenv(config.EnvCacheDir, "/from/env")
	t.Setenv(config.EnvCDNBase, "")

	var v transformFlagValues
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	addTransformFlags(cmd, &v, true)
	require.NoError(t, cmd.Flags().Set("config", cfgPath))
	require.NoError(t, cmd.Flags().Set("concurrency", "3"))
	require.NoError(t, cmd.Flags().Set("data-uri", "true"))

	cfg, err := buildTransformConfig(cmd, &v)
	require.NoError(t, err)
	assert.Equal(t, "pics", cfg.AssetDirName)
	assert.Equal(t, "/from/env", cfg.CacheDir)
	assert.Equal(t, "https://file.example/72x72", cfg.CDNBase)
	assert.Equal(t, "5s", cfg.HTTPTimeout.String())
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, epubemoji.EmbeddedDataURI, cfg.Delivery)
	assert.Equal(t, epubemoji.RemoteWithCache, cfg.Source)
}

func TestBuildTransformConfig_Errors(t *testing.T) {
	var v transformFlagValues
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	addTransformFlags(cmd, &v, true)

	require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")))
	_, err := buildTransformConfig(cmd, &v)
	assert.ErrorIs(t, err, config.ErrConfigNotFound)

	require.NoError(t, cmd.Flags().Set("config", ""))
	require.NoError(t, cmd.Flags().Set("concurrency", "0"))
	_, err = buildTransformConfig(cmd, &v)
	assert.ErrorIs(t, err, ErrUsage)
}

func TestConvert_SingleBook(t *testing.T) {
	dir := t.TempDir()
	in := writeTestEPUB(t, dir, "book.epub")
	out := filepath.Join(dir, "result.epub")
	cache := seedCache(t)

	stdout, err := execute(t, "convert", "-i", in, "-o", out, "--local-only", "--cache-dir", cache)
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 emoji replaced in 1 documents, 1 images")

	img, ok := readZipMember(t, out, "OEBPS/emoji_img/1f600.png")
	require.True(t, ok, "image injected")
	assert.Equal(t, fakePNG, img)

	ch, ok := readZipMember(t, out, "OEBPS/ch1.xhtml")
	require.True(t, ok)
	assert.Contains(t, string(ch), `src="emoji_img/1f600.png"`)
	assert.NotContains(t, string(ch), "😀 there")

	opf, ok := readZipMember(t, out, "OEBPS/content.opf")
	require.True(t, ok)
	assert.Contains(t, string(opf), `href="emoji_img/1f600.png"`)
}

func TestConvert_BatchWithFailure(t *testing.T) {
	dir := t.TempDir()
	good := writeTestEPUB(t, dir, "good.epub")
	bad := filepath.Join(dir, "bad.epub")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0644))
	outDir := filepath.Join(dir, "out")
	cache := seedCache(t)

	stdout, err := execute(t, "convert", good, bad, "--output-dir", outDir, "--local-only", "--cache-dir", cache)
	require.Error(t, err)
	assert.ErrorIs(t, err, epubemoji.ErrArchiveOpen)
	assert.Equal(t, ExitGeneralError, ExitCodeForError(err))
	assert.True(t, strings.Contains(err.Error(), "1 of 2 books failed"), err.Error())
	assert.Contains(t, stdout, "good_emoji.epub")

	_, statErr := os.Stat(filepath.Join(outDir, "good_emoji.epub"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(outDir, "bad_emoji.epub"))
	assert.True(t, os.IsNotExist(statErr), "no output for a failed book")
}

func TestConvert_UsageErrors(t *testing.T) {
	_, err := execute(t, "convert")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))

	_, err = execute(t, "convert", "--no-such-flag")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))

	_, err = execute(t, "convert", "a.epub", "-o", "x.epub", "--output-dir", "out")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))
}

func TestHTML_Bypass(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(in, []byte("<p>Hi 😀</p>"), 0644))
	cache := seedCache(t)

	_, err := execute(t, "html", in, "--asset-dir", "img", "--local-only", "--cache-dir", cache)
	require.NoError(t, err)

	out, err := os.ReadFile(filepath.Join(dir, "page_emoji.html"))
	require.NoError(t, err)
	assert.Contains(t, string(out), `src="img/1f600.png"`)

	img, err := os.ReadFile(filepath.Join(dir, "img", "1f600.png"))
	require.NoError(t, err)
	assert.Equal(t, fakePNG, img)
}

func TestHTML_RequiresOneArg(t *testing.T) {
	err := htmlCmd.Args(htmlCmd, []string{})
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))
}

func TestNewCommandLogger_NonTerminalWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newCommandLogger(&buf, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("archive written", "output", "out.epub")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "archive written", record["msg"])
	assert.Equal(t, "out.epub", record["output"])
}
