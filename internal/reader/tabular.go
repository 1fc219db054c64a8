package reader

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// TabularReader renders CSV/TSV rows as " | "-joined lines.
type TabularReader struct{}

// NewTabularReader creates a CSV/TSV reader.
func NewTabularReader() *TabularReader { return &TabularReader{} }

func (*TabularReader) Name() string { return "tabular" }

func (*TabularReader) Extensions() []string { return []string{".csv", ".tsv"} }

func (*TabularReader) Read(ctx context.Context, path string) (*Document, error) {
	data, err := readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	src, enc := decodeText(data)

	r := csv.NewReader(strings.NewReader(src))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if normalizeExt(filepath.Ext(path)) == ".tsv" {
		r.Comma = '\t'
	}

	var (
		lines  []string
		header []string
		rows   int
	)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		cells := make([]string, 0, len(rec))
		for _, c := range rec {
			if c = strings.TrimSpace(c); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) == 0 {
			continue
		}
		if header == nil {
			header = cells
		}
		rows++
		lines = append(lines, strings.Join(cells, " | "))
	}

	if len(lines) == 0 {
		return nil, errNoText
	}
	return &Document{
		Text:   strings.Join(lines, "\n"),
		Format: "tabular",
		Metadata: map[string]any{
			"encoding": enc,
			"rows":     rows,
			"columns":  header,
		},
	}, nil
}
