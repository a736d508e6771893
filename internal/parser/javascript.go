package parser

import (
	"regexp"
	"strings"

	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var (
	nodeShebang         = regexp.MustCompile(`^#!.*\bnode\b`)
	javascriptSignature = regexp.MustCompile(`(?m)^(import\s.+\sfrom\s+['"]|(const|let|var)\s+\w+\s*=\s*require\(|module\.exports\s*=|export\s+(default|const|function|class)\b)`)
)

// JavaScriptParser chunks JavaScript modules (ESM and CommonJS).
type JavaScriptParser struct{}

// NewJavaScriptParser creates a JavaScriptParser.
func NewJavaScriptParser() *JavaScriptParser { return &JavaScriptParser{} }

func (p *JavaScriptParser) Language() string { return "javascript" }
func (p *JavaScriptParser) Extensions() []string {
	return []string{".js", ".jsx", ".mjs", ".cjs"}
}
func (p *JavaScriptParser) Aliases() []string { return []string{"js", "jsx", "node"} }

func (p *JavaScriptParser) SniffContent(content string) bool {
	first, _, _ := strings.Cut(content, "\n")
	return nodeShebang.MatchString(first) || javascriptSignature.MatchString(content)
}

func (p *JavaScriptParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	src := []byte(content)
	tree, err := parseTree(javascript.GetLanguage(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	w := &ecmaWalker{src: src, s: newSource(content)}
	w.walkProgram(tree.RootNode())
	return w.chunks, nil
}
