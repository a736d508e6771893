package parser

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var goSignature = regexp.MustCompile(`(?m)^package\s+\w+\s*$`)

// GoParser chunks Go files with the standard library AST. Syntax errors are
// tolerated as long as the parser recovered some declarations.
type GoParser struct{}

// NewGoParser creates a GoParser.
func NewGoParser() *GoParser { return &GoParser{} }

func (p *GoParser) Language() string     { return "go" }
func (p *GoParser) Extensions() []string { return []string{".go"} }
func (p *GoParser) Aliases() []string    { return []string{"golang"} }

func (p *GoParser) SniffContent(content string) bool {
	return goSignature.MatchString(content) && strings.Contains(content, "func ")
}

func (p *GoParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if file == nil || (err != nil && len(file.Decls) == 0) {
		return nil, err
	}

	s := newSource(content)
	e := &goExtractor{fset: fset, s: s}
	e.packageClause(file)
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.funcDecl(d)
		case *ast.GenDecl:
			e.genDecl(d)
		}
	}
	return e.chunks, nil
}

type goExtractor struct {
	fset   *token.FileSet
	s      *source
	chunks []domain.SemanticChunk
}

func (e *goExtractor) lines(from, to token.Pos) (int, int) {
	return e.fset.Position(from).Line, e.fset.Position(to).Line
}

func (e *goExtractor) packageClause(file *ast.File) {
	from := file.Package
	if file.Doc != nil {
		from = file.Doc.Pos()
	}
	start, end := e.lines(from, file.Name.End())
	e.chunks = append(e.chunks, e.s.chunk(domain.ChunkTypePackage, file.Name.Name, start, end,
		domain.ChunkMetadata{Visibility: domain.VisibilityPublic}))
}

func (e *goExtractor) funcDecl(d *ast.FuncDecl) {
	from := d.Pos()
	if d.Doc != nil {
		from = d.Doc.Pos()
	}
	start, end := e.lines(from, d.End())

	name := d.Name.Name
	meta := domain.ChunkMetadata{
		Visibility: goVisibility(name),
		Parameters: fieldNames(d.Type.Params),
	}
	chunkType := domain.ChunkTypeFunction
	if d.Recv != nil && len(d.Recv.List) > 0 {
		chunkType = domain.ChunkTypeMethod
		meta.Parent = typeName(d.Recv.List[0].Type)
		meta.Static = len(d.Recv.List[0].Names) == 0
	}
	if ast.IsExported(name) {
		meta.Exports = []string{name}
	}
	e.chunks = append(e.chunks, e.s.chunk(chunkType, name, start, end, meta))
}

func (e *goExtractor) genDecl(d *ast.GenDecl) {
	from := d.Pos()
	if d.Doc != nil {
		from = d.Doc.Pos()
	}
	start, end := e.lines(from, d.End())

	switch d.Tok {
	case token.IMPORT:
		var deps []string
		for _, spec := range d.Specs {
			if is, ok := spec.(*ast.ImportSpec); ok {
				deps = append(deps, strings.Trim(is.Path.Value, "\"`"))
			}
		}
		e.chunks = append(e.chunks, e.s.chunk(domain.ChunkTypeImport, "imports", start, end,
			domain.ChunkMetadata{Dependencies: deps}))

	case token.TYPE:
		if d.Lparen.IsValid() {
			for _, spec := range d.Specs {
				ts := spec.(*ast.TypeSpec)
				specFrom := ts.Pos()
				if ts.Doc != nil {
					specFrom = ts.Doc.Pos()
				}
				s, en := e.lines(specFrom, ts.End())
				e.typeSpec(ts, s, en)
			}
			return
		}
		if len(d.Specs) == 1 {
			e.typeSpec(d.Specs[0].(*ast.TypeSpec), start, end)
		}

	case token.CONST, token.VAR:
		var names []string
		for _, spec := range d.Specs {
			if vs, ok := spec.(*ast.ValueSpec); ok {
				for _, n := range vs.Names {
					names = append(names, n.Name)
				}
			}
		}
		if len(names) == 0 {
			return
		}
		meta := domain.ChunkMetadata{Visibility: goVisibility(names[0])}
		for _, n := range names {
			if ast.IsExported(n) {
				meta.Exports = append(meta.Exports, n)
			}
		}
		e.chunks = append(e.chunks, e.s.chunk(domain.ChunkTypeVariable, strings.Join(names, ", "), start, end, meta))
	}
}

func (e *goExtractor) typeSpec(ts *ast.TypeSpec, start, end int) {
	name := ts.Name.Name
	meta := domain.ChunkMetadata{Visibility: goVisibility(name)}
	if ast.IsExported(name) {
		meta.Exports = []string{name}
	}

	chunkType := domain.ChunkTypeType
	switch t := ts.Type.(type) {
	case *ast.StructType:
		chunkType = domain.ChunkTypeStruct
		for _, f := range t.Fields.List {
			if len(f.Names) == 0 {
				meta.Dependencies = append(meta.Dependencies, typeName(f.Type))
			}
		}
	case *ast.InterfaceType:
		chunkType = domain.ChunkTypeInterface
		for _, m := range t.Methods.List {
			if len(m.Names) == 0 {
				meta.Dependencies = append(meta.Dependencies, typeName(m.Type))
			}
		}
	}
	e.chunks = append(e.chunks, e.s.chunk(chunkType, name, start, end, meta))
}

func goVisibility(name string) string {
	if ast.IsExported(name) {
		return domain.VisibilityPublic
	}
	return domain.VisibilityPrivate
}

func fieldNames(fl *ast.FieldList) []string {
	if fl == nil {
		return nil
	}
	var names []string
	for _, f := range fl.List {
		for _, n := range f.Names {
			names = append(names, n.Name)
		}
	}
	return names
}

// typeName strips pointers, packages and type parameters from a type expression.
func typeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return typeName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.SelectorExpr:
		return typeName(t.X) + "." + t.Sel.Name
	case *ast.IndexExpr:
		return typeName(t.X)
	case *ast.IndexListExpr:
		return typeName(t.X)
	}
	return ""
}
