package reader

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DocxReader extracts paragraph and table text from word/document.xml and
// the title from docProps/core.xml.
type DocxReader struct{}

// NewDocxReader creates a DOCX reader.
func NewDocxReader() *DocxReader { return &DocxReader{} }

func (*DocxReader) Name() string { return "docx" }

func (*DocxReader) Extensions() []string { return []string{".docx"} }

func (*DocxReader) Read(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer func() { _ = zr.Close() }()

	var body, core *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			body = f
		case "docProps/core.xml":
			core = f
		}
	}
	if body == nil {
		return nil, errors.New("word/document.xml missing")
	}

	text, paragraphs, err := readDocumentXML(body)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errNoText
	}

	meta := map[string]any{"paragraphs": paragraphs}
	if title := readCoreTitle(core); title != "" {
		meta["title"] = title
	}
	return &Document{Text: text, Format: "docx", Metadata: meta}, nil
}

// readDocumentXML streams the WordprocessingML body. Paragraphs end lines,
// table cells are joined with " | ", tabs become spaces.
func readDocumentXML(f *zip.File) (string, int, error) {
	rc, err := f.Open()
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = rc.Close() }()

	dec := xml.NewDecoder(rc)
	var (
		out        strings.Builder
		line       strings.Builder
		cells      []string
		inText     bool
		tableDepth int
		paragraphs int
	)
	flushParagraph := func() {
		s := strings.TrimSpace(line.String())
		line.Reset()
		if tableDepth > 0 {
			if s != "" {
				cells = append(cells, s)
			}
			return
		}
		if s != "" {
			out.WriteString(s)
			out.WriteByte('\n')
			paragraphs++
		}
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				line.WriteByte(' ')
			case "br":
				line.WriteByte('\n')
			case "tbl":
				tableDepth++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flushParagraph()
			case "tc":
				if tableDepth == 1 && len(cells) > 0 {
					cells[len(cells)-1] += "\x00"
				}
			case "tr":
				if tableDepth == 1 {
					row := joinCells(cells)
					cells = cells[:0]
					if row != "" {
						out.WriteString(row)
						out.WriteByte('\n')
						paragraphs++
					}
				}
			case "tbl":
				tableDepth--
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		}
	}
	return out.String(), paragraphs, nil
}

// joinCells merges paragraphs per cell (cells end with a NUL marker) and
// joins cells with " | ".
func joinCells(parts []string) string {
	var cells []string
	var cur []string
	for _, p := range parts {
		if strings.HasSuffix(p, "\x00") {
			cur = append(cur, strings.TrimSuffix(p, "\x00"))
			cells = append(cells, strings.Join(cur, " "))
			cur = nil
			continue
		}
		cur = append(cur, p)
	}
	if len(cur) > 0 {
		cells = append(cells, strings.Join(cur, " "))
	}
	return strings.Join(cells, " | ")
}

func readCoreTitle(f *zip.File) string {
	if f == nil {
		return ""
	}
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer func() { _ = rc.Close() }()

	var core struct {
		Title string `xml:"title"`
	}
	if err := xml.NewDecoder(rc).Decode(&core); err != nil {
		return ""
	}
	return strings.TrimSpace(core.Title)
}
