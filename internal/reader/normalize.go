package reader

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	punctReplacer = strings.NewReplacer(
		"“", `"`, "”", `"`, "«", `"`, "»", `"`, "„", `"`,
		"‘", "'", "’", "'", "‚", "'", "‛", "'",
		"—", "-", "–", "-", "‐", "-",
	)
	manyNewlines = regexp.MustCompile(`\n{3,}`)
	manySpaces   = regexp.MustCompile(` {2,}`)
)

// Normalize canonicalizes extracted text before chunking. It applies NFC,
// drops control and format characters other than \n \t \r, maps smart
// quotes and dashes to ASCII, unifies line endings, converts tabs to
// spaces, trims and collapses spaces per line, and keeps at most one
// blank line in a row. Normalize is idempotent.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = norm.NFC.String(text)

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.In(r, unicode.C) {
			return -1
		}
		return r
	}, text)

	text = punctReplacer.Replace(text)

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\t", " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = manySpaces.ReplaceAllString(strings.TrimSpace(line), " ")
	}
	text = strings.Join(lines, "\n")

	text = manyNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
