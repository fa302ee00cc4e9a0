// Package unicodecheck rejects Unicode that can disguise or corrupt
// user-supplied identifiers: invisible characters, bidirectional overrides,
// control characters and stacked combining marks.
package unicodecheck

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Problem names the first kind of unsafe text found in a string
type Problem string

// Problems reported by Inspect
const (
	None           Problem = ""
	ZeroWidth      Problem = "zero-width character"
	BidiOverride   Problem = "bidirectional override"
	HangulFiller   Problem = "hangul filler"
	ControlChar    Problem = "control character"
	Unassignable   Problem = "private-use or non-character code point"
	CombiningAbuse Problem = "excessive combining marks"
	NotNormalized  Problem = "not NFC normalized"
)

// maxCombiningRun is the shortest run of combining marks treated as abuse
const maxCombiningRun = 3

var zeroWidthChars = []rune{
	'\u200B', // zero width space
	'\u200C', // zero width non-joiner
	'\u200D', // zero width joiner
	'\u200E', // left-to-right mark
	'\u200F', // right-to-left mark
	'\uFEFF', // byte order mark
}

var bidiOverrideChars = []rune{
	'\u202A', '\u202B', '\u202C', '\u202D', '\u202E',
	'\u2066', '\u2067', '\u2068', '\u2069',
}

// Inspect returns the first problem found in s, or None
func Inspect(s string) Problem {
	combining := 0
	for _, r := range s {
		switch {
		case slices.Contains(zeroWidthChars, r):
			return ZeroWidth
		case slices.Contains(bidiOverrideChars, r):
			return BidiOverride
		case r == '\u3164' || r == '\uFFA0':
			return HangulFiller
		case unicode.IsControl(r):
			return ControlChar
		case unicode.Is(unicode.Co, r) || unicode.Is(unicode.Cs, r) ||
			(r >= 0xFDD0 && r <= 0xFDEF) || r&0xFFFF == 0xFFFE || r&0xFFFF == 0xFFFF:
			return Unassignable
		}

		if unicode.Is(unicode.Mn, r) {
			combining++
			if combining >= maxCombiningRun {
				return CombiningAbuse
			}
		} else {
			combining = 0
		}
	}
	if !norm.NFC.IsNormalString(s) {
		return NotNormalized
	}
	return None
}

// Safe reports whether s has no problems
func Safe(s string) bool {
	return Inspect(s) == None
}

// SanitizeForLogging replaces control characters with [CTRL] and zero-width
// characters with [ZW]
func SanitizeForLogging(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsControl(r) && r != '\t':
			b.WriteString("[CTRL]")
		case slices.Contains(zeroWidthChars, r):
			b.WriteString("[ZW]")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
