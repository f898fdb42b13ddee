package epubemoji

import (
	"context"
	"encoding/base64"
	"html"
	"log/slog"
	"net/url"
	"strings"
)

// imageStyle sizes an inline emoji image to the surrounding text.
const imageStyle = "height:1em;vertical-align:-0.1em"

// DocumentRewriter replaces emoji in HTML documents with inline images.
type DocumentRewriter struct {
	// Source resolves emoji keys to images.
	Source AssetSource

	// Delivery selects relative file references or data: URIs.
	Delivery DeliveryMode

	// Logger receives per-key failures. Nil uses the package logger.
	Logger *slog.Logger
}

// DocumentResult is the outcome of rewriting one document.
type DocumentResult struct {
	// Text is the rewritten document.
	Text string

	// Keys holds every key referenced by an inserted image.
	Keys KeySet

	// Unresolved holds keys left as text because Source failed for them.
	Unresolved KeySet

	// Substitutions counts inserted images; repeated emoji count each time.
	Substitutions int
}

// Rewrite replaces every emoji cluster in the character data of text with an
// <img> whose src is "<assetDir>/<key>.png" (or a data: URI) and whose alt
// text is the original cluster. Markup, and character data inside head,
// title, script, style, textarea, svg and math, is copied unchanged. An
// emoji whose image cannot be resolved stays as text.
func (w *DocumentRewriter) Rewrite(ctx context.Context, text, assetDir string) DocumentResult {
	res := DocumentResult{
		Keys:       make(KeySet),
		Unresolved: make(KeySet),
	}
	logger := w.Logger
	if logger == nil {
		logger = Logger()
	}

	var b strings.Builder
	b.Grow(len(text))

	walkText(text, func(raw string, substitutable bool) {
		if !substitutable || isASCII(raw) {
			b.WriteString(raw)
			return
		}
		for c := range Clusters(raw) {
			if !c.Emoji {
				b.WriteString(c.Text)
				continue
			}
			key := KeyOf(c.Text)
			asset, err := w.Source.Resolve(ctx, key)
			if err != nil {
				if !res.Unresolved.Has(key) {
					logger.Warn("emoji left as text", "key", key, "error", err)
				}
				res.Unresolved.Add(key)
				b.WriteString(c.Text)
				continue
			}
			writeImage(&b, c.Text, w.imageSrc(asset, assetDir))
			res.Keys.Add(key)
			res.Substitutions++
		}
	})

	res.Text = b.String()
	return res
}

// ScanKeys returns the keys of every emoji Rewrite would try to replace in
// text, without resolving them.
func ScanKeys(text string) KeySet {
	keys := make(KeySet)
	walkText(text, func(raw string, substitutable bool) {
		if !substitutable || isASCII(raw) {
			return
		}
		for c := range Clusters(raw) {
			if c.Emoji {
				keys.Add(KeyOf(c.Text))
			}
		}
	})
	return keys
}

func (w *DocumentRewriter) imageSrc(asset Asset, assetDir string) string {
	if w.Delivery == EmbeddedDataURI {
		return "data:image/png;base64," + base64.StdEncoding.EncodeToString(asset.Data)
	}
	name := asset.Key.Filename()
	if assetDir == "" || assetDir == "." {
		return name
	}
	return escapePath(strings.TrimSuffix(assetDir, "/")) + "/" + name
}

func writeImage(b *strings.Builder, alt, src string) {
	b.WriteString(`<img class="emoji" alt="`)
	b.WriteString(html.EscapeString(alt))
	b.WriteString(`" src="`)
	b.WriteString(html.EscapeString(src))
	b.WriteString(`" style="` + imageStyle + `"/>`)
}

// escapePath percent-encodes each segment of a slash-separated path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
