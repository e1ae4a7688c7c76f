package textproc

import (
	"strings"
	"unicode"
)

// Clean normalizes extracted text. Control and zero-width characters are
// dropped, whitespace runs collapse to a single space and the result is
// trimmed. With preserveNewlines, line breaks survive (at most one blank line
// in a row) and spaces around them are removed.
//
// Clean(Clean(x), p) == Clean(x, p) for every x.
func Clean(text string, preserveNewlines bool) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	pendingNewlines := 0
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			if preserveNewlines {
				pendingNewlines++
			} else {
				pendingSpace = true
			}
			continue
		case isInvisible(r):
			continue
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		}
		if b.Len() > 0 {
			switch {
			case pendingNewlines > 0:
				b.WriteString(strings.Repeat("\n", min(pendingNewlines, 2)))
			case pendingSpace:
				b.WriteByte(' ')
			}
		}
		pendingSpace = false
		pendingNewlines = 0
		b.WriteRune(r)
	}
	return b.String()
}

// isInvisible reports characters that carry no text: C0 and C1 controls,
// DEL, directional marks and common zero-width or BOM marks. Tab, line
// breaks and NEL are left for the whitespace handling.
func isInvisible(r rune) bool {
	switch r {
	case '\t', '\n', '\r', '\u0085':
		return false
	case '\u00ad', '\u200b', '\u200c', '\u200d', '\u200e', '\u200f', '\u2060', '\ufeff':
		return true
	}
	return unicode.IsControl(r)
}
