package reader

import (
	"bytes"
	"context"
	"html"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// HTMLReader extracts the main article text with go-readability and falls
// back to tag stripping when no article can be identified.
type HTMLReader struct{}

// NewHTMLReader creates an HTML reader.
func NewHTMLReader() *HTMLReader { return &HTMLReader{} }

func (*HTMLReader) Name() string { return "html" }

func (*HTMLReader) Extensions() []string { return []string{".html", ".htm", ".xhtml"} }

func (*HTMLReader) Read(ctx context.Context, path string) (*Document, error) {
	data, err := readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	src, _ := decodeText(data)

	abs, _ := filepath.Abs(path)
	pageURL := &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}

	meta := map[string]any{}
	var text string
	if article, err := readability.FromReader(bytes.NewReader([]byte(src)), pageURL); err == nil {
		text = strings.TrimSpace(article.TextContent)
		if t := strings.TrimSpace(article.Title); t != "" {
			meta["title"] = t
		}
		if article.Byline != "" {
			meta["byline"] = strings.TrimSpace(article.Byline)
		}
		meta["extractor"] = "readability"
	}
	if text == "" {
		text = stripHTML(src)
		meta["extractor"] = "strip"
	}
	if _, ok := meta["title"]; !ok {
		if m := titleTag.FindStringSubmatch(src); m != nil {
			meta["title"] = strings.TrimSpace(html.UnescapeString(m[1]))
		}
	}
	if text == "" {
		return nil, errNoText
	}
	return &Document{Text: text, Format: "html", Metadata: meta}, nil
}

var (
	titleTag       = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	invisibleTags  = regexp.MustCompile(`(?is)<(script|style|noscript|head|svg)[^>]*>.*?</(script|style|noscript|head|svg)>`)
	htmlComments   = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockBoundary  = regexp.MustCompile(`(?i)</?(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|section|article)\b[^>]*>`)
	anyTag         = regexp.MustCompile(`<[^>]+>`)
	horizontalRuns = regexp.MustCompile(`[ \t]+`)
)

// stripHTML removes markup and returns one trimmed line per text block.
func stripHTML(content string) string {
	content = invisibleTags.ReplaceAllString(content, "")
	content = htmlComments.ReplaceAllString(content, "")
	content = blockBoundary.ReplaceAllString(content, "\n")
	content = anyTag.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = horizontalRuns.ReplaceAllString(content, " ")

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
