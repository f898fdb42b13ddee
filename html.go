package epubemoji

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// entityNameToNumeric maps lowercase HTML entity names to their XML numeric
// character references. encoding/xml does not recognise HTML named entities,
// so we convert them before unmarshalling OPF files.
var entityNameToNumeric = map[string][]byte{
	"nbsp": []byte("&#160;"), "mdash": []byte("&#8212;"), "ndash": []byte("&#8211;"),
	"hellip": []byte("&#8230;"),
	"lsquo": []byte("&#8216;"), "rsquo": []byte("&#8217;"),
	"ldquo": []byte("&#8220;"), "rdquo": []byte("&#8221;"),
	"copy": []byte("&#169;"), "reg": []byte("&#174;"), "trade": []byte("&#8482;"),
	"bull": []byte("&#8226;"), "middot": []byte("&#183;"),
	"eacute": []byte("&#233;"), "egrave": []byte("&#232;"),
	"aacute": []byte("&#225;"), "agrave": []byte("&#224;"),
	"ouml": []byte("&#246;"), "uuml": []byte("&#252;"), "auml": []byte("&#228;"),
	"ntilde": []byte("&#241;"), "ccedil": []byte("&#231;"),
	"times": []byte("&#215;"), "deg": []byte("&#176;"),
	"laquo": []byte("&#171;"), "raquo": []byte("&#187;"),
}

// htmlEntityPattern matches the entities above case-insensitively.
var htmlEntityPattern = regexp.MustCompile(
	`(?i)&(nbsp|mdash|ndash|hellip|lsquo|rsquo|ldquo|rdquo|copy|reg|trade|bull|middot|` +
		`eacute|egrave|aacute|agrave|ouml|uuml|auml|ntilde|ccedil|times|deg|laquo|raquo);`)

// preprocessHTMLEntities replaces common HTML named entities with their
// numeric character references so that encoding/xml can parse the data.
func preprocessHTMLEntities(data []byte) []byte {
	return htmlEntityPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := strings.ToLower(string(match[1 : len(match)-1]))
		if replacement, ok := entityNameToNumeric[name]; ok {
			return replacement
		}
		return match
	})
}

// rawTextTags are the elements after which the tokenizer reads raw text up
// to the matching end tag, even when the start tag is self-closing.
var rawTextTags = map[atom.Atom]bool{
	atom.Iframe:    true,
	atom.Noembed:   true,
	atom.Noframes:  true,
	atom.Noscript:  true,
	atom.Plaintext: true,
	atom.Script:    true,
	atom.Style:     true,
	atom.Textarea:  true,
	atom.Title:     true,
	atom.Xmp:       true,
}

// skipTags are the elements whose character data is never substituted:
// raw text elements, the document head, and foreign content where an
// HTML <img> is not allowed.
var skipTags = map[atom.Atom]bool{
	atom.Head: true,
	atom.Svg:  true,
	atom.Math: true,
}

func init() {
	for a := range rawTextTags {
		skipTags[a] = true
	}
}

// segmentFunc receives consecutive slices of a document. Concatenating
// every raw slice reproduces the document exactly. substitutable is true
// for character data outside skipped elements.
type segmentFunc func(raw string, substitutable bool)

// textWalker splits an HTML or XHTML document into markup and character
// data without altering a single byte.
type textWalker struct {
	fn    segmentFunc
	open  []atom.Atom // open skipped elements, innermost last
	depth int
}

// walkText calls fn for every segment of doc in order.
func walkText(doc string, fn segmentFunc) {
	w := &textWalker{fn: fn}
	w.walk(doc)
}

func (w *textWalker) walk(doc string) {
	z := html.NewTokenizer(strings.NewReader(doc))
	consumed := 0
	reparse := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF, or input the tokenizer gave up on; either way the
			// unconsumed tail is passed through untouched.
			if consumed < len(doc) {
				w.fn(doc[consumed:], false)
			}
			return
		}

		raw := string(z.Raw())
		consumed += len(raw)

		switch tt {
		case html.TextToken:
			if reparse && w.depth < 8 {
				// Text following a self-closing raw text tag, e.g. the
				// rest of the body after <script src="x"/>.
				reparse = false
				w.depth++
				w.walk(raw)
				w.depth--
				continue
			}
			w.fn(raw, len(w.open) == 0)
			continue

		case html.StartTagToken:
			if a := tagAtom(z); skipTags[a] {
				w.open = append(w.open, a)
			}

		case html.SelfClosingTagToken:
			if rawTextTags[tagAtom(z)] {
				reparse = true
				w.fn(raw, false)
				continue
			}

		case html.EndTagToken:
			w.close(tagAtom(z))
		}

		reparse = false
		w.fn(raw, false)
	}
}

// close pops the innermost open skipped element named a, together with any
// unclosed skipped elements nested inside it.
func (w *textWalker) close(a atom.Atom) {
	if !skipTags[a] {
		return
	}
	for i := len(w.open) - 1; i >= 0; i-- {
		if w.open[i] == a {
			w.open = w.open[:i]
			return
		}
	}
}

func tagAtom(z *html.Tokenizer) atom.Atom {
	name, _ := z.TagName()
	return atom.Lookup(name)
}
