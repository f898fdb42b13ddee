package epubemoji

import (
	"slices"
	"strconv"
	"strings"
)

// presentationSuffix is the trailing VS16 (emoji presentation selector)
// component of a key.
const presentationSuffix = "-fe0f"

// Key is the canonical identity of an emoji cluster: the lowercase hex
// scalar values of the cluster joined by hyphens, e.g. "1f600" or
// "1f468-200d-1f469-200d-1f467".
type Key string

// KeyOf returns the codepoint key of cluster.
func KeyOf(cluster string) Key {
	var b strings.Builder
	for i, r := range []rune(cluster) {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.FormatInt(int64(r), 16))
	}
	return Key(b.String())
}

// ParseKey parses an image file name ("<key>.png") back into its key.
// ok is false unless every component is a lowercase hex scalar value.
func ParseKey(filename string) (k Key, ok bool) {
	s, found := strings.CutSuffix(filename, ".png")
	if !found || s == "" {
		return "", false
	}
	for part := range strings.SplitSeq(s, "-") {
		if part == "" || len(part) > 6 {
			return "", false
		}
		for _, c := range part {
			if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
				return "", false
			}
		}
	}
	return Key(s), true
}

// Filename returns the image file name for k ("<key>.png").
func (k Key) Filename() string {
	return string(k) + ".png"
}

// ManifestID returns the OPF item id for k. Hyphens are not valid in every
// reader's id handling, so they become underscores.
func (k Key) ManifestID() string {
	return "emoji_" + strings.ReplaceAll(string(k), "-", "_")
}

// Base returns k without its trailing emoji presentation selector.
// ok is false when k does not end in one.
func (k Key) Base() (base Key, ok bool) {
	s, found := strings.CutSuffix(string(k), presentationSuffix)
	if !found || s == "" {
		return "", false
	}
	return Key(s), true
}

// KeySet is an unordered set of keys.
type KeySet map[Key]struct{}

// Add inserts k into the set.
func (s KeySet) Add(k Key) {
	s[k] = struct{}{}
}

// Has reports whether k is in the set.
func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// Merge adds every key of other to s.
func (s KeySet) Merge(other KeySet) {
	for k := range other {
		s[k] = struct{}{}
	}
}

// Sorted returns the keys in lexical order.
func (s KeySet) Sorted() []Key {
	out := make([]Key, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
