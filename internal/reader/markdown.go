package reader

import (
	"bufio"
	"context"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MarkdownReader strips front matter and inline markup, keeping headings
// as plain lines and collecting them as metadata.
type MarkdownReader struct{}

// NewMarkdownReader creates a markdown reader.
func NewMarkdownReader() *MarkdownReader { return &MarkdownReader{} }

func (*MarkdownReader) Name() string { return "markdown" }

func (*MarkdownReader) Extensions() []string { return []string{".md", ".markdown"} }

var (
	mdHeading = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	mdImage   = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink    = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdEmph    = regexp.MustCompile(`(\*\*|__|\*|_|~~|` + "`" + `)([^*_~` + "`" + `\n]+)(\*\*|__|\*|_|~~|` + "`" + `)`)
	mdFence   = regexp.MustCompile("^\\s*(```|~~~)")
)

func (*MarkdownReader) Read(ctx context.Context, path string) (*Document, error) {
	data, err := readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	raw, enc := decodeText(data)

	meta := map[string]any{"encoding": enc}
	body, front := splitFrontMatter(raw)
	if front != nil {
		if title, ok := front["title"].(string); ok && title != "" {
			meta["title"] = title
		}
		meta["front_matter"] = front
	}

	var headings []string
	var out strings.Builder
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		if mdFence.MatchString(line) {
			continue
		}
		if m := mdHeading.FindStringSubmatch(line); m != nil {
			headings = append(headings, m[2])
			line = m[2]
		}
		line = mdImage.ReplaceAllString(line, "$1")
		line = mdLink.ReplaceAllString(line, "$1")
		line = mdEmph.ReplaceAllString(line, "$2")
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(headings) > 0 {
		meta["headings"] = headings
		if _, ok := meta["title"]; !ok {
			meta["title"] = headings[0]
		}
	}
	return &Document{Text: out.String(), Format: "markdown", Metadata: meta}, nil
}

// splitFrontMatter removes a leading "---" YAML block. Unparsable front
// matter is kept as body text.
func splitFrontMatter(s string) (string, map[string]any) {
	if !strings.HasPrefix(s, "---\n") && !strings.HasPrefix(s, "---\r\n") {
		return s, nil
	}
	rest := s[strings.Index(s, "\n")+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return s, nil
	}

	var front map[string]any
	if err := yaml.Unmarshal([]byte(rest[:end]), &front); err != nil {
		return s, nil
	}

	body := rest[end+len("\n---"):]
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return body, front
}
