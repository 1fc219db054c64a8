package reader

import (
	"context"
	"path/filepath"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// grammar pairs a tree-sitter language with the node types that declare
// named symbols in it.
type grammar struct {
	name      string
	lang      *sitter.Language
	declTypes map[string]bool
}

func set(types ...string) map[string]bool {
	m := make(map[string]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

var (
	goGrammar = &grammar{"go", golang.GetLanguage(),
		set("function_declaration", "method_declaration", "type_spec")}
	pythonGrammar = &grammar{"python", python.GetLanguage(),
		set("function_definition", "class_definition")}
	jsGrammar = &grammar{"javascript", javascript.GetLanguage(),
		set("function_declaration", "class_declaration", "method_definition")}
	tsGrammar = &grammar{"typescript", typescript.GetLanguage(),
		set("function_declaration", "class_declaration", "method_definition",
			"interface_declaration", "type_alias_declaration")}
	tsxGrammar = &grammar{"tsx", tsx.GetLanguage(), tsGrammar.declTypes}
)

// codeLanguages maps every code extension to a language tag. Extensions
// with a grammar also get symbol metadata.
var codeLanguages = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".jsx": "javascript",
	".ts": "typescript", ".tsx": "tsx", ".java": "java", ".c": "c", ".h": "c",
	".cpp": "cpp", ".hpp": "cpp", ".cs": "csharp", ".rb": "ruby", ".rs": "rust",
	".php": "php", ".swift": "swift", ".kt": "kotlin", ".css": "css",
	".xml": "xml", ".sh": "shell",
}

var grammars = map[string]*grammar{
	".go": goGrammar, ".py": pythonGrammar, ".js": jsGrammar, ".jsx": jsGrammar,
	".ts": tsGrammar, ".tsx": tsxGrammar,
}

// CodeReader reads source files verbatim and lists declared symbols for
// languages with a tree-sitter grammar.
type CodeReader struct{}

// NewCodeReader creates a source code reader.
func NewCodeReader() *CodeReader { return &CodeReader{} }

func (*CodeReader) Name() string { return "code" }

func (*CodeReader) Extensions() []string {
	exts := make([]string, 0, len(codeLanguages))
	for ext := range codeLanguages {
		exts = append(exts, ext)
	}
	return exts
}

func (*CodeReader) Read(ctx context.Context, path string) (*Document, error) {
	data, err := readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	text, enc := decodeText(data)

	ext := normalizeExt(filepath.Ext(path))
	meta := map[string]any{
		"encoding": enc,
		"language": codeLanguages[ext],
	}

	if g, ok := grammars[ext]; ok {
		symbols, hasErrors, err := extractSymbols(ctx, g, []byte(text))
		if err != nil {
			return nil, err
		}
		if len(symbols) > 0 {
			meta["symbols"] = symbols
		}
		if hasErrors {
			meta["parse_errors"] = true
		}
	}
	return &Document{Text: text, Format: "code", Metadata: meta}, nil
}

// extractSymbols parses src and returns declared names in source order.
// Syntax errors do not fail extraction; the text is still indexed.
func extractSymbols(ctx context.Context, g *grammar, src []byte) ([]string, bool, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g.lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, false, err
	}
	root := tree.RootNode()

	var symbols []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if g.declTypes[n.Type()] {
			if name := declName(n, src); name != "" {
				symbols = append(symbols, name)
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c != nil {
				walk(c)
			}
		}
	}
	walk(root)

	return symbols, root.HasError(), nil
}

func declName(n *sitter.Node, src []byte) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(src)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "identifier", "field_identifier", "type_identifier", "property_identifier":
			return c.Content(src)
		}
	}
	return ""
}
