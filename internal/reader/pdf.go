package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// errImageOnly is returned for PDFs whose pages carry no text layer.
var errImageOnly = errors.New("no text layer (image-only PDF)")

// PDFReader extracts the text layer of every page. Pages are separated by a
// blank line. Pages that fail to decode are skipped; a document where no
// page yields text fails.
type PDFReader struct{}

// NewPDFReader creates a PDF reader.
func NewPDFReader() *PDFReader { return &PDFReader{} }

func (*PDFReader) Name() string { return "pdf" }

func (*PDFReader) Extensions() []string { return []string{".pdf"} }

func (*PDFReader) Read(ctx context.Context, path string) (doc *Document, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer func() { _ = f.Close() }()

	pages := r.NumPage()
	fonts := make(map[string]*pdf.Font)
	var (
		parts   []string
		skipped int
	)
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			skipped++
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return nil, errImageOnly
	}

	meta := map[string]any{"pages": pages}
	if skipped > 0 {
		meta["pages_skipped"] = skipped
	}
	return &Document{Text: strings.Join(parts, "\n\n"), Format: "pdf", Metadata: meta}, nil
}
