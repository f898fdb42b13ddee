package epubemoji

import (
	"archive/zip"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
)

// zipEntry is one member of a test archive, written in slice order.
type zipEntry struct {
	name   string
	body   string
	method uint16 // zip.Deflate when zero and not a directory
}

// buildTestZip creates an in-memory ZIP archive from the provided files map
// (path → content). Members are written in sorted order, except "mimetype"
// which comes first and stored when present.
func buildTestZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		if name != mimetypeName {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var entries []zipEntry
	if mt, ok := files[mimetypeName]; ok {
		entries = append(entries, zipEntry{name: mimetypeName, body: mt, method: zip.Store})
	}
	for _, name := range names {
		entries = append(entries, zipEntry{name: name, body: files[name]})
	}
	return buildTestZipEntries(t, entries)
}

// buildTestZipEntries creates an in-memory ZIP archive from entries in order.
// Duplicate names are allowed.
func buildTestZipEntries(t *testing.T, entries []zipEntry) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, e := range entries {
		method := e.method
		if method == 0 && !strings.HasSuffix(e.name, "/") {
			method = zip.Deflate
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: method})
		if err != nil {
			t.Fatalf("buildTestZip: create %s: %v", e.name, err)
		}
		if _, err := io.WriteString(fw, e.body); err != nil {
			t.Fatalf("buildTestZip: write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("buildTestZip: close writer: %v", err)
	}
	return buf.Bytes()
}

// buildTestEPubFile writes an ePub (ZIP) archive to a temporary file and
// returns the file path.
func buildTestEPubFile(t *testing.T, files map[string]string) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "test.epub")
	if err := os.WriteFile(fp, buildTestZip(t, files), 0644); err != nil {
		t.Fatalf("buildTestEPubFile: write file: %v", err)
	}
	return fp
}

// testArchive buffers an in-memory archive built from files.
func testArchive(t *testing.T, files map[string]string) *archive {
	t.Helper()
	data := buildTestZip(t, files)
	a, err := readArchive(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("readArchive: %v", err)
	}
	return a
}

// outputArchive opens a transform result.
func outputArchive(t *testing.T, data []byte) *zip.Reader {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open output archive: %v", err)
	}
	return zr
}

// outputFiles returns the members of a transform result by name.
func outputFiles(t *testing.T, data []byte) map[string]string {
	t.Helper()
	files := make(map[string]string)
	for _, f := range outputArchive(t, data).File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		files[f.Name] = string(b)
	}
	return files
}

// outputNames returns the member names of a transform result in order.
func outputNames(t *testing.T, data []byte) []string {
	t.Helper()
	var names []string
	for _, f := range outputArchive(t, data).File {
		names = append(names, f.Name)
	}
	return names
}

// testPNG returns distinct bytes for key that pass the PNG signature check.
func testPNG(key Key) []byte {
	return append(append([]byte(nil), pngSignature...), "image:"+string(key)...)
}

// seedCache returns a cache directory holding images for keys.
func seedCache(t *testing.T, keys ...Key) string {
	t.Helper()
	dir := t.TempDir()
	for _, k := range keys {
		if err := os.WriteFile(filepath.Join(dir, k.Filename()), testPNG(k), 0644); err != nil {
			t.Fatalf("seedCache: %v", err)
		}
	}
	return dir
}

// fakeCDN serves testPNG(key) for the keys it holds and 404 otherwise,
// counting requests per path.
type fakeCDN struct {
	*httptest.Server

	mu    sync.Mutex
	keys  map[Key]bool
	hits  map[string]int
	total int
}

func newFakeCDN(t *testing.T, keys ...Key) *fakeCDN {
	t.Helper()
	c := &fakeCDN{keys: make(map[Key]bool), hits: make(map[string]int)}
	for _, k := range keys {
		c.keys[k] = true
	}
	c.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/72x72/")
		key := Key(strings.TrimSuffix(name, ".png"))

		c.mu.Lock()
		c.hits[name]++
		c.total++
		ok := c.keys[key]
		c.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(testPNG(key))
	}))
	t.Cleanup(c.Close)
	return c
}

// Base is the CDN base URL to configure.
func (c *fakeCDN) Base() string {
	return c.URL + "/72x72"
}

func (c *fakeCDN) Hits(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[name]
}

func (c *fakeCDN) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// offlineBase is a CDN base nothing listens on.
const offlineBase = "http://127.0.0.1:1/72x72"

// testConfig returns a Config with an isolated cache and the given CDN.
func testConfig(cacheDir, cdnBase string) Config {
	return Config{
		CacheDir: cacheDir,
		CDNBase:  cdnBase,
	}
}

const testContainerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Emoji Test</dc:title>
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="ch1" href="Text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="Text/ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

func xhtmlDoc(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>Chapter</title></head>
<body>` + body + `</body>
</html>`
}

// testBookFiles is a small ePub 3 book with one emoji per chapter and one
// in the navigation document.
func testBookFiles() map[string]string {
	return map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/nav.xhtml":        xhtmlDoc(`<nav epub:type="toc"><ol><li><a href="Text/ch1.xhtml">Start 😀</a></li></ol></nav>`),
		"OEBPS/toc.ncx":          `<ncx><navMap/></ncx>`,
		"OEBPS/Text/ch1.xhtml":   xhtmlDoc(`<p>Hi 😀 there</p>`),
		"OEBPS/Text/ch2.xhtml":   xhtmlDoc(`<p>Plain text only.</p>`),
		"OEBPS/style.css":        `p { margin: 0 }`,
	}
}
