package epubemoji

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// pngMediaType is the media-type of every manifest item the patcher adds.
const pngMediaType = "image/png"

// byteSpan is a half-open byte range [start, end) of the package document.
type byteSpan struct {
	start, end int
}

// manifestLayout records where the patcher edits a package document. The
// document is treated as an ordered sequence of byte spans: stale items are
// filtered out, new items are appended before </manifest>, and every other
// byte is kept as it was.
type manifestLayout struct {
	stale       []byteSpan
	insertAt    int    // offset new items are written at
	ownLines    bool   // whether items go on their own lines
	newline     string // line terminator used by the document
	indent      string // indentation of an item line
	selfClosing bool   // <manifest/> with no children
	tagName     string // raw element name, e.g. "manifest" or "opf:manifest"
	ids         map[string]bool
}

// patchManifest rewrites the <manifest> of an OPF document. Items whose
// href lies under assetDir (relative to the OPF directory) are removed, and
// one <item> per key is appended, with href "<assetDir>/<key>.png" and a
// unique id. Everything else is preserved byte for byte.
//
// If data cannot be parsed, or has no manifest, it is returned unchanged
// together with an error wrapping ErrManifestPatch.
func patchManifest(data []byte, keys []Key, assetDir string) ([]byte, error) {
	layout, err := scanManifest(data, assetDir)
	if err != nil {
		return data, fmt.Errorf("%w: %v", ErrManifestPatch, err)
	}

	// New items share the manifest's namespace prefix, if any.
	itemTag := "item"
	if i := strings.IndexByte(layout.tagName, ':'); i >= 0 {
		itemTag = layout.tagName[:i+1] + "item"
	}

	var items bytes.Buffer
	for _, key := range keys {
		id := uniqueID(layout.ids, key.ManifestID())
		href := escapePath(path.Join(assetDir, key.Filename()))
		if layout.ownLines {
			items.WriteString(layout.newline)
			items.WriteString(layout.indent)
		}
		items.WriteString("<" + itemTag + ` id="`)
		xmlEscape(&items, id)
		items.WriteString(`" href="`)
		xmlEscape(&items, href)
		items.WriteString(`" media-type="` + pngMediaType + `"/>`)
	}

	out := make([]byte, 0, len(data)+items.Len())
	pos := 0
	for _, s := range layout.stale {
		out = append(out, data[pos:s.start]...)
		pos = s.end
	}

	if layout.selfClosing {
		if items.Len() == 0 {
			return append(out, data[pos:]...), nil
		}
		// "<manifest/>" becomes "<manifest>items</manifest>".
		out = append(out, data[pos:layout.insertAt-2]...)
		out = append(out, '>')
		out = append(out, items.Bytes()...)
		out = append(out, "</"+layout.tagName+">"...)
		return append(out, data[layout.insertAt:]...), nil
	}

	out = append(out, data[pos:layout.insertAt]...)
	out = append(out, items.Bytes()...)
	return append(out, data[layout.insertAt:]...), nil
}

// scanManifest walks data with an XML decoder and records the layout of
// its first <manifest> element.
func scanManifest(data []byte, assetDir string) (*manifestLayout, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	dec.Entity = xml.HTMLEntity

	layout := &manifestLayout{
		newline: "\n",
		ids:     make(map[string]bool),
	}

	var (
		depth         int
		manifestDepth = -1
		manifestEnd   int // offset just past the <manifest ...> start tag
		done          bool
		itemStart     = -1
		itemStale     bool
	)

	for {
		start := int(dec.InputOffset())
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		end := int(dec.InputOffset())

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if done {
				continue
			}
			if manifestDepth < 0 && t.Name.Local == "manifest" {
				manifestDepth = depth
				manifestEnd = end
				layout.tagName = rawTagName(data[start:end])
				continue
			}
			if manifestDepth > 0 && depth == manifestDepth+1 && t.Name.Local == "item" {
				itemStart = start
				itemStale = isStaleItem(attrValue(t, "href"), assetDir)
				if !itemStale {
					layout.ids[attrValue(t, "id")] = true
				}
				if layout.indent == "" {
					if ind, ok := lineIndent(data, start); ok {
						layout.indent = ind
					}
				}
			}

		case xml.EndElement:
			if !done && manifestDepth > 0 {
				switch {
				case depth == manifestDepth+1 && itemStart >= 0 && t.Name.Local == "item":
					if itemStale {
						layout.stale = append(layout.stale, byteSpan{start: lineStart(data, itemStart), end: end})
					}
					itemStart = -1
				case depth == manifestDepth:
					done = true
					layout.insertAt = start
					if start == manifestEnd && bytes.HasSuffix(data[:start], []byte("/>")) {
						layout.selfClosing = true
						break
					}
					if closeIndent, ok := lineIndent(data, start); ok {
						layout.ownLines = true
						layout.insertAt = lineStart(data, start)
						if layout.indent == "" {
							layout.indent = closeIndent + "  "
						}
					}
					if layout.insertAt > 0 && data[layout.insertAt] == '\r' {
						layout.newline = "\r\n"
					}
				}
			}
			depth--
		}
	}

	if !done {
		return nil, errors.New("no manifest element")
	}
	return layout, nil
}

// isStaleItem reports whether a manifest href points into the asset directory.
func isStaleItem(href, assetDir string) bool {
	if href == "" {
		return false
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	return isUnder(path.Clean(href), assetDir)
}

// lineStart returns the offset of the line break preceding pos when only
// spaces or tabs lie between them, so that removing [lineStart, end) also
// removes the line. Otherwise it returns pos.
func lineStart(data []byte, pos int) int {
	i := pos - 1
	for i >= 0 && (data[i] == ' ' || data[i] == '\t') {
		i--
	}
	if i < 0 || data[i] != '\n' {
		return pos
	}
	if i > 0 && data[i-1] == '\r' {
		return i - 1
	}
	return i
}

// lineIndent returns the whitespace between the previous line break and
// pos. ok is false when other content shares the line.
func lineIndent(data []byte, pos int) (indent string, ok bool) {
	i := pos - 1
	for i >= 0 && (data[i] == ' ' || data[i] == '\t') {
		i--
	}
	if i < 0 || data[i] != '\n' {
		return "", false
	}
	return string(data[i+1 : pos]), true
}

// rawTagName extracts the element name as written in a start tag.
func rawTagName(tag []byte) string {
	tag = bytes.TrimPrefix(tag, []byte("<"))
	if i := bytes.IndexAny(tag, " \t\r\n/>"); i >= 0 {
		tag = tag[:i]
	}
	return string(tag)
}

func attrValue(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// uniqueID returns base, or base with a numeric suffix when base is taken,
// and marks the result as taken.
func uniqueID(taken map[string]bool, base string) string {
	id := base
	for n := 2; taken[id]; n++ {
		id = base + "_" + strconv.Itoa(n)
	}
	taken[id] = true
	return id
}

func xmlEscape(b *bytes.Buffer, s string) {
	_ = xml.EscapeText(b, []byte(s))
}
