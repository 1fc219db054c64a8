package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// StructuredReader flattens JSON, YAML and TOML documents into
// "dotted.key: value" lines so that keys and values are both searchable.
// INI-style files are read as text.
type StructuredReader struct{}

// NewStructuredReader creates a structured-config reader.
func NewStructuredReader() *StructuredReader { return &StructuredReader{} }

func (*StructuredReader) Name() string { return "structured" }

func (*StructuredReader) Extensions() []string {
	return []string{".json", ".yaml", ".yml", ".toml", ".ini", ".cfg", ".conf"}
}

func (*StructuredReader) Read(ctx context.Context, path string) (*Document, error) {
	data, err := readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	src, enc := decodeText(data)
	ext := normalizeExt(filepath.Ext(path))

	var v any
	switch ext {
	case ".json":
		err = json.Unmarshal([]byte(src), &v)
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(src), &v)
	case ".toml":
		err = toml.Unmarshal([]byte(src), &v)
	default:
		return &Document{
			Text:     src,
			Format:   "structured",
			Metadata: map[string]any{"encoding": enc, "syntax": strings.TrimPrefix(ext, ".")},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", strings.TrimPrefix(ext, "."), err)
	}

	var lines []string
	flatten("", v, &lines)
	return &Document{
		Text:   strings.Join(lines, "\n"),
		Format: "structured",
		Metadata: map[string]any{
			"encoding": enc,
			"syntax":   strings.TrimPrefix(ext, "."),
			"keys":     len(lines),
		},
	}, nil
}

// flatten appends one line per scalar leaf. Map keys are visited in
// sorted order so output is deterministic.
func flatten(prefix string, v any, out *[]string) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(joinKey(prefix, k), t[k], out)
		}
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = val
		}
		flatten(prefix, m, out)
	case []any:
		for i, item := range t {
			flatten(fmt.Sprintf("%s[%d]", prefix, i), item, out)
		}
	case nil:
		if prefix != "" {
			*out = append(*out, prefix+": null")
		}
	default:
		if prefix == "" {
			*out = append(*out, fmt.Sprint(t))
			return
		}
		*out = append(*out, fmt.Sprintf("%s: %v", prefix, t))
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
