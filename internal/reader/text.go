package reader

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText returns b as a string and the encoding used. Invalid UTF-8
// is decoded as Windows-1252, a superset of Latin-1 for printable bytes.
func decodeText(b []byte) (string, string) {
	b = bytes.TrimPrefix(b, utf8BOM)
	if utf8.Valid(b) {
		return string(b), "utf-8"
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(bytes.ToValidUTF8(b, []byte("�"))), "utf-8-replaced"
	}
	return string(out), "windows-1252"
}

// TextReader reads plain text files.
type TextReader struct{}

// NewTextReader creates a plain-text reader.
func NewTextReader() *TextReader { return &TextReader{} }

func (*TextReader) Name() string { return "text" }

func (*TextReader) Extensions() []string {
	return []string{".txt", ".text", ".asc", ".log", ".rst"}
}

func (*TextReader) Read(ctx context.Context, path string) (*Document, error) {
	data, err := readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	text, enc := decodeText(data)
	return &Document{
		Text:     text,
		Format:   "text",
		Metadata: map[string]any{"encoding": enc},
	}, nil
}

// RTFReader strips RTF control words; it does not interpret the document model.
type RTFReader struct{}

// NewRTFReader creates an RTF reader.
func NewRTFReader() *RTFReader { return &RTFReader{} }

var (
	rtfGroups   = regexp.MustCompile(`\{\\\*[^{}]*\}|\{\\(fonttbl|colortbl|stylesheet|info)[^{}]*(\{[^{}]*\}[^{}]*)*\}`)
	rtfPars     = regexp.MustCompile(`\\(par|line)\b ?`)
	rtfControls = regexp.MustCompile(`\\[a-zA-Z]+-?\d* ?`)
	rtfSymbols  = regexp.MustCompile(`\\'[0-9a-fA-F]{2}|\\[^a-zA-Z\\{}]`)
	rtfSpaces   = regexp.MustCompile(`[ \t]+`)

	rtfEscaped = strings.NewReplacer(`\\`, "\x00b", `\{`, "\x00o", `\}`, "\x00c")
	rtfRestore = strings.NewReplacer("\x00b", `\`, "\x00o", "{", "\x00c", "}")
	rtfBraces  = strings.NewReplacer("{", "", "}", "")
)

func (*RTFReader) Name() string { return "rtf" }

func (*RTFReader) Extensions() []string { return []string{".rtf"} }

func (*RTFReader) Read(ctx context.Context, path string) (*Document, error) {
	data, err := readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	raw, _ := decodeText(data)

	text := rtfEscaped.Replace(raw)
	text = rtfGroups.ReplaceAllString(text, "")
	text = rtfPars.ReplaceAllString(text, "\n")
	text = rtfControls.ReplaceAllString(text, "")
	text = rtfSymbols.ReplaceAllString(text, "")
	text = rtfBraces.Replace(text)
	text = rtfRestore.Replace(text)
	text = strings.TrimSpace(rtfSpaces.ReplaceAllString(text, " "))

	if text == "" {
		return nil, errNoText
	}
	return &Document{Text: text, Format: "rtf", Metadata: map[string]any{}}, nil
}
