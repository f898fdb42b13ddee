package epubemoji

import (
	"archive/zip"
	"fmt"
	"hash/crc32"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

// maxDecompressSize is the maximum allowed decompressed size for a single ZIP entry.
// This guards against zip bomb attacks. Defaults to 256 MB.
const maxDecompressSize int64 = 256 * 1024 * 1024

// resolveRelativePath resolves href relative to the directory of basePath.
// Both basePath and href are ZIP-internal paths (forward-slash separated).
// The result is cleaned and validated to stay within the ZIP root.
// If the resolved path escapes root or is absolute, an empty string is returned.
func resolveRelativePath(basePath, href string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if href == "" || strings.HasPrefix(href, "/") {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	cleaned := path.Clean(path.Join(path.Dir(basePath), href))
	if !isSafePath(cleaned) {
		return ""
	}
	return cleaned
}

// relativePath returns the slash-separated path that leads from directory
// fromDir to target. Both are ZIP-internal; "." or "" denotes the root.
func relativePath(fromDir, target string) string {
	from := splitPath(fromDir)
	to := splitPath(target)

	common := 0
	for common < len(from) && common < len(to) && from[common] == to[common] {
		common++
	}

	parts := make([]string, 0, len(from)-common+len(to)-common)
	for range from[common:] {
		parts = append(parts, "..")
	}
	parts = append(parts, to[common:]...)
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}

func splitPath(p string) []string {
	p = path.Clean(p)
	if p == "." || p == "/" || p == "" {
		return nil
	}
	return strings.Split(strings.Trim(p, "/"), "/")
}

// isUnder reports whether p lies inside directory dir.
func isUnder(p, dir string) bool {
	p = path.Clean(p)
	if dir == "" || dir == "." {
		return true
	}
	return strings.HasPrefix(p, path.Clean(dir)+"/")
}

// isSafePath checks whether p is a safe ZIP-internal path that does not
// escape the archive root via path traversal (e.g., "../../../etc/passwd").
func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

// stripBOM removes a leading UTF-8 BOM (0xEF 0xBB 0xBF) from data, if present.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// readZipFile reads the full contents of a ZIP entry.
// It enforces maxDecompressSize to guard against zip bombs and validates
// that the entry path is safe (no path traversal).
func readZipFile(f *zip.File) ([]byte, error) {
	return readZipFileWithLimit(f, maxDecompressSize)
}

// readZipFileWithLimit is the implementation of readZipFile with a configurable
// size limit. It is separated to allow tests to use a smaller limit.
func readZipFileWithLimit(f *zip.File, limit int64) ([]byte, error) {
	if !isSafePath(f.Name) {
		return nil, fmt.Errorf("%w: unsafe zip entry path: %s", ErrMemberRead, f.Name)
	}

	if f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%w: zip entry %s too large: %d bytes (max %d)", ErrMemberRead, f.Name, f.UncompressedSize64, limit)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open zip entry %s: %v", ErrMemberRead, f.Name, err)
	}
	defer rc.Close()

	// Read up to limit+1 to detect if the actual decompressed data
	// exceeds the limit (the declared size might be wrong/forged).
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read zip entry %s: %v", ErrMemberRead, f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: zip entry %s decompressed size exceeds limit (%d bytes)", ErrMemberRead, f.Name, limit)
	}

	return data, nil
}

// newZipReader opens a zip archive with the deflate decompressor from
// klauspost/compress.
func newZipReader(r io.ReaderAt, size int64) (*zip.Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)
	return zr, nil
}

// newZipWriter returns a zip writer that deflates with klauspost/compress.
func newZipWriter(w io.Writer) *zip.Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})
	return zw
}

// writeMember adds m to zw with its original method, time and comment.
func writeMember(zw *zip.Writer, m member) error {
	fh := &zip.FileHeader{
		Name:     m.Name,
		Method:   m.Method,
		Modified: m.Modified,
		Comment:  m.Comment,
	}
	w, err := zw.CreateHeader(fh)
	if err != nil {
		return err
	}
	_, err = w.Write(m.Data)
	return err
}

// writeStoredRaw adds m uncompressed, without a data descriptor and without
// extra fields, as the OCF container requires for the leading mimetype entry.
// The modification time goes into the MS-DOS fields only; setting Modified
// would add an extended timestamp extra field.
func writeStoredRaw(zw *zip.Writer, m member) error {
	date, tm := msDosTime(m.Modified)
	fh := &zip.FileHeader{
		Name:               m.Name,
		Method:             zip.Store,
		ModifiedDate:       date,
		ModifiedTime:       tm,
		CRC32:              crc32.ChecksumIEEE(m.Data),
		CompressedSize64:   uint64(len(m.Data)),
		UncompressedSize64: uint64(len(m.Data)),
	}
	w, err := zw.CreateRaw(fh)
	if err != nil {
		return err
	}
	_, err = w.Write(m.Data)
	return err
}

// msDosTime converts t to MS-DOS date and time fields. Times before 1980,
// which the format cannot represent, become 1980-01-01 00:00.
func msDosTime(t time.Time) (date, tm uint16) {
	if t.IsZero() || t.Year() < 1980 {
		return 1<<5 | 1, 0
	}
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	tm = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return date, tm
}
