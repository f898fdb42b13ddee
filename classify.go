package epubemoji

import (
	"iter"
	"sync"

	"github.com/enescakir/emoji"
	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
)

// Cluster is one user-perceived character of a text.
type Cluster struct {
	// Text is the cluster as it appears in the source.
	Text string

	// Emoji reports whether Text is a complete emoji in the emoji table.
	Emoji bool
}

// emojiTable is the set of fully qualified emoji strings from the gemoji
// alias data, built once. It has no skin tone variants.
var emojiTable = sync.OnceValue(func() map[string]struct{} {
	aliases := emoji.Map()
	table := make(map[string]struct{}, len(aliases))
	for _, e := range aliases {
		table[e] = struct{}{}
	}
	return table
})

// IsEmoji reports whether cluster is an emoji. The lookup is keyed by the
// whole cluster, so a joined sequence matches as a unit. Plain ASCII is
// never an emoji, even where the table has an entry for it.
//
// Clusters missing from the alias table are looked up in the emoji-test
// data, which lists every skin tone modifier sequence, alone or inside a
// ZWJ sequence.
func IsEmoji(cluster string) bool {
	if cluster == "" || isASCII(cluster) {
		return false
	}
	if _, ok := emojiTable()[cluster]; ok {
		return true
	}
	_, err := gomoji.GetInfo(cluster)
	return err == nil
}

// Clusters returns the grapheme clusters of text (UAX #29 extended
// clusters) with their emoji classification. The sequence is lazy and
// may be iterated any number of times.
func Clusters(text string) iter.Seq[Cluster] {
	return func(yield func(Cluster) bool) {
		rest := text
		state := -1
		for rest != "" {
			var cluster string
			cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
			if !yield(Cluster{Text: cluster, Emoji: IsEmoji(cluster)}) {
				return
			}
		}
	}
}

// ContainsEmoji reports whether text has at least one emoji cluster.
func ContainsEmoji(text string) bool {
	if isASCII(text) {
		return false
	}
	for c := range Clusters(text) {
		if c.Emoji {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
