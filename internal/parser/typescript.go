package parser

import (
	"path/filepath"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var typescriptSignature = regexp.MustCompile(`(?m)^(export\s+)?(interface\s+\w+|type\s+\w+\s*=|enum\s+\w+|declare\s+(module|const|function))|\w+\s*:\s*(string|number|boolean)\b`)

// TypeScriptParser chunks TypeScript and TSX sources.
type TypeScriptParser struct{}

// NewTypeScriptParser creates a TypeScriptParser.
func NewTypeScriptParser() *TypeScriptParser { return &TypeScriptParser{} }

func (p *TypeScriptParser) Language() string     { return "typescript" }
func (p *TypeScriptParser) Extensions() []string { return []string{".ts", ".tsx", ".mts", ".cts"} }
func (p *TypeScriptParser) Aliases() []string    { return []string{"ts", "tsx"} }

func (p *TypeScriptParser) SniffContent(content string) bool {
	return typescriptSignature.MatchString(content) && javascriptSignature.MatchString(content)
}

func (p *TypeScriptParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	var lang *sitter.Language
	if strings.EqualFold(filepath.Ext(path), ".tsx") {
		lang = tsx.GetLanguage()
	} else {
		lang = typescript.GetLanguage()
	}

	src := []byte(content)
	tree, err := parseTree(lang, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	w := &ecmaWalker{src: src, s: newSource(content)}
	w.walkProgram(tree.RootNode())
	return w.chunks, nil
}
