package parser

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var (
	pythonShebang   = regexp.MustCompile(`^#!.*\bpython[0-9.]*\b`)
	pythonSignature = regexp.MustCompile(`(?m)^(from\s+[\w.]+\s+import\s|def\s+\w+\(.*\)\s*(->.*)?:\s*$|class\s+\w+(\(.*\))?:\s*$)`)
	pythonFromDep   = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import`)
	pythonImportDep = regexp.MustCompile(`^\s*import\s+(.+)$`)
)

// PythonParser chunks Python modules with the tree-sitter grammar.
type PythonParser struct{}

// NewPythonParser creates a PythonParser.
func NewPythonParser() *PythonParser { return &PythonParser{} }

func (p *PythonParser) Language() string     { return "python" }
func (p *PythonParser) Extensions() []string { return []string{".py", ".pyi", ".pyw"} }
func (p *PythonParser) Aliases() []string    { return []string{"py", "python3"} }

func (p *PythonParser) SniffContent(content string) bool {
	first, _, _ := strings.Cut(content, "\n")
	return pythonShebang.MatchString(first) || pythonSignature.MatchString(content)
}

func (p *PythonParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	src := []byte(content)
	tree, err := parseTree(python.GetLanguage(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	s := newSource(content)
	w := &pythonWalker{src: src, s: s}
	for _, n := range namedChildren(tree.RootNode()) {
		w.topLevel(n)
	}
	w.flushImports()
	return w.chunks, nil
}

type pythonWalker struct {
	src    []byte
	s      *source
	chunks []domain.SemanticChunk

	importStart, importEnd int
	importDeps             []string
}

func (w *pythonWalker) topLevel(n *sitter.Node) {
	switch n.Type() {
	case "import_statement", "import_from_statement", "future_import_statement":
		w.addImport(n)
		return
	}
	w.flushImports()

	switch n.Type() {
	case "function_definition", "decorated_definition", "class_definition":
		w.definition(n, "")
	case "expression_statement":
		w.assignment(n)
	}
}

func (w *pythonWalker) addImport(n *sitter.Node) {
	start, end := nodeLines(n)
	if w.importStart == 0 {
		w.importStart = start
	}
	w.importEnd = end
	w.importDeps = appendUnique(w.importDeps, pythonImportNames(n.Content(w.src))...)
}

func (w *pythonWalker) flushImports() {
	if w.importStart == 0 {
		return
	}
	w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeImport, "imports", w.importStart, w.importEnd,
		domain.ChunkMetadata{Dependencies: w.importDeps}))
	w.importStart, w.importEnd, w.importDeps = 0, 0, nil
}

func pythonImportNames(stmt string) []string {
	stmt = strings.Join(strings.Fields(stmt), " ")
	if m := pythonFromDep.FindStringSubmatch(stmt); m != nil {
		return []string{m[1]}
	}
	m := pythonImportDep.FindStringSubmatch(stmt)
	if m == nil {
		return nil
	}
	var out []string
	for _, part := range strings.Split(m[1], ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), " as ")
		out = append(out, strings.TrimSpace(name))
	}
	return out
}

// definition handles functions and classes, optionally wrapped in decorators.
// parent is the enclosing class name for methods.
func (w *pythonWalker) definition(n *sitter.Node, parent string) {
	outer := n
	var decorators []string
	def := n
	if n.Type() == "decorated_definition" {
		for _, c := range namedChildren(n) {
			if c.Type() == "decorator" {
				decorators = append(decorators, decoratorName(c.Content(w.src)))
			}
		}
		def = n.ChildByFieldName("definition")
		if def == nil {
			return
		}
	}

	start, end := nodeLines(outer)
	name := fieldText(def, "name", w.src)

	switch def.Type() {
	case "function_definition":
		meta := domain.ChunkMetadata{
			Parent:     parent,
			Visibility: visibilityByUnderscore(name),
			Async:      hasToken(def, "async"),
			Decorators: decorators,
		}
		params := parameterNames(def.ChildByFieldName("parameters"), w.src)
		chunkType := domain.ChunkTypeFunction
		if parent != "" {
			chunkType = domain.ChunkTypeMethod
			if len(params) > 0 && (params[0] == "self" || params[0] == "cls") {
				params = params[1:]
			}
			for _, d := range decorators {
				if d == "staticmethod" || d == "classmethod" {
					meta.Static = true
				}
			}
		}
		meta.Parameters = params
		w.chunks = append(w.chunks, w.s.chunk(chunkType, name, start, end, meta))

	case "class_definition":
		meta := domain.ChunkMetadata{
			Parent:     parent,
			Visibility: visibilityByUnderscore(name),
			Decorators: decorators,
		}
		if supers := def.ChildByFieldName("superclasses"); supers != nil {
			for _, sc := range namedChildren(supers) {
				if sc.Type() == "keyword_argument" || sc.Type() == "comment" {
					continue
				}
				meta.Dependencies = appendUnique(meta.Dependencies, sc.Content(w.src))
			}
		}
		classIdx := len(w.chunks)
		w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeClass, name, start, end, meta))

		var exports []string
		if body := def.ChildByFieldName("body"); body != nil {
			for _, member := range namedChildren(body) {
				switch member.Type() {
				case "function_definition", "decorated_definition":
					before := len(w.chunks)
					w.definition(member, name)
					if len(w.chunks) > before && w.chunks[before].Metadata.Visibility == domain.VisibilityPublic {
						exports = append(exports, w.chunks[before].Name)
					}
				case "class_definition":
					w.definition(member, name)
				}
			}
		}
		w.chunks[classIdx].Metadata.Exports = exports
	}
}

func (w *pythonWalker) assignment(n *sitter.Node) {
	children := namedChildren(n)
	if len(children) == 0 || children[0].Type() != "assignment" {
		return
	}
	left := children[0].ChildByFieldName("left")
	if left == nil || (left.Type() != "identifier" && left.Type() != "pattern_list") {
		return
	}
	name := left.Content(w.src)
	start, end := nodeLines(n)
	w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeVariable, name, start, end,
		domain.ChunkMetadata{Visibility: visibilityByUnderscore(name)}))
}

func decoratorName(text string) string {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "@"))
	if i := strings.Index(text, "("); i >= 0 {
		text = text[:i]
	}
	return text
}
