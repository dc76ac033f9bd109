package rubric

import (
	"sort"
	"strconv"
	"strings"
)

// KeyRowOrder is the fixed 26-symbol ordering used for nested-item letters.
// It follows the host UI's keyboard-row key caps, not the alphabet.
const KeyRowOrder = "QWERTYUIOPASDFGHJKLZXCVBNM"

// LetterIndex returns the position of a letter in KeyRowOrder, or -1.
func LetterIndex(letter string) int {
	if len(letter) != 1 {
		return -1
	}
	return strings.IndexByte(KeyRowOrder, letter[0])
}

// The host numbers top-level items 1..9 and then 0, matching its key caps,
// so a lone "0" sorts between "9" and "10" rather than first. All lone
// numeric tokens serialize before any composite id; composites then order
// by numeric prefix and key-row letter position.
const zeroTokenValue = 9.5

// Ordering tiers: lone numerics, then composites, then opaque ids.
const (
	tierNumeric = iota
	tierComposite
	tierOpaque
)

type orderKey struct {
	tier  int
	major float64
	minor int
	raw   string
}

func keyForID(id string) orderKey {
	if id == "0" {
		return orderKey{tier: tierNumeric, major: zeroTokenValue, raw: id}
	}
	if major, minor, ok := splitComposite(id); ok {
		return orderKey{tier: tierComposite, major: major, minor: minor, raw: id}
	}
	if f, err := strconv.ParseFloat(id, 64); err == nil {
		return orderKey{tier: tierNumeric, major: f, raw: id}
	}
	return orderKey{tier: tierOpaque, raw: id}
}

// splitComposite parses "<num>-<letter>" ids. The "0" prefix keeps its
// after-nine value so "0-Q" lands where the page displays it.
func splitComposite(id string) (major float64, minor int, ok bool) {
	prefix, letter, found := strings.Cut(id, "-")
	if !found || LetterIndex(letter) < 0 {
		return 0, 0, false
	}
	if prefix == "0" {
		return zeroTokenValue, LetterIndex(letter), true
	}
	f, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		return 0, 0, false
	}
	return f, LetterIndex(letter), true
}

// IDLess is the canonical total order over item ids, matching the page's
// own item numbering. Lone numeric tokens come first, then composite ids,
// then everything else lexicographically.
func IDLess(a, b string) bool {
	ka, kb := keyForID(a), keyForID(b)
	if ka.tier != kb.tier {
		return ka.tier < kb.tier
	}
	if ka.tier == tierOpaque {
		return a < b
	}
	if ka.major != kb.major {
		return ka.major < kb.major
	}
	if ka.minor != kb.minor {
		return ka.minor < kb.minor
	}
	return ka.raw < kb.raw
}

// SortItems orders items canonically in place, for payload serialization
// only; display order in the live tree is preserved by extraction itself.
func SortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return IDLess(items[i].ID, items[j].ID)
	})
}
