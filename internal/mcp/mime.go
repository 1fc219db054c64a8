package mcp

import (
	"path/filepath"
	"strings"
)

// formatMIME maps reader format names to the MIME type of their extracted text.
var formatMIME = map[string]string{
	"markdown":   "text/markdown",
	"html":       "text/plain",
	"tabular":    "text/csv",
	"structured": "text/plain",
	"code":       "text/plain",
}

var extMIME = map[string]string{
	".md":   "text/markdown",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".json": "application/json",
	".yaml": "text/x-yaml",
	".yml":  "text/x-yaml",
	".toml": "text/x-toml",
	".go":   "text/x-go",
	".py":   "text/x-python",
	".rs":   "text/x-rust",
	".java": "text/x-java",
	".js":   "text/javascript",
	".ts":   "text/typescript",
	".sh":   "text/x-sh",
	".xml":  "text/xml",
}

// MimeType returns the MIME type for the extracted text of a document.
// Code and structured files keep their source type since their text is the
// source; other formats fall back to text/plain.
func MimeType(path, format string) string {
	switch format {
	case "code", "structured", "tabular":
		if m, ok := extMIME[strings.ToLower(filepath.Ext(path))]; ok {
			return m
		}
	}
	if m, ok := formatMIME[format]; ok {
		return m
	}
	return "text/plain"
}
