package scan

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeDishKey derives the join key used to deduplicate recognition
// results across segments, attempts, and the knowledge cache: NFKC-folded,
// lower-cased, whitespace-stripped, restricted to latin digits/letters,
// kana, and CJK ideographs. Returns "" for names with no usable characters.
func NormalizeDishKey(name string) string {
	folded := norm.NFKC.String(strings.TrimSpace(name))
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsSpace(r) {
			continue
		}
		if keyRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func keyRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 0x3040 && r <= 0x30FF: // hiragana + katakana
		return true
	case r >= 0x3400 && r <= 0x4DBF: // CJK extension A
		return true
	case r >= 0x4E00 && r <= 0x9FFF: // CJK unified ideographs
		return true
	}
	return false
}
