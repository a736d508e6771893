package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/cloo-solutions/repomem/internal/domain"
)

// ecmaWalker chunks JavaScript and TypeScript syntax trees. The two grammars
// share node names for everything it inspects; TypeScript only adds
// declarations (interfaces, type aliases, enums, namespaces).
type ecmaWalker struct {
	src    []byte
	s      *source
	chunks []domain.SemanticChunk

	importStart, importEnd int
	importDeps             []string
}

func (w *ecmaWalker) walkProgram(root *sitter.Node) {
	for _, n := range namedChildren(root) {
		if w.isImport(n) {
			w.addImport(n)
			continue
		}
		w.flushImports()
		w.declaration(n, n, false)
	}
	w.flushImports()
}

func (w *ecmaWalker) isImport(n *sitter.Node) bool {
	switch n.Type() {
	case "import_statement":
		return true
	case "lexical_declaration", "variable_declaration":
		decls := declarators(n)
		if len(decls) == 0 {
			return false
		}
		for _, d := range decls {
			if requireSource(d.ChildByFieldName("value"), w.src) == "" {
				return false
			}
		}
		return true
	}
	return false
}

func (w *ecmaWalker) addImport(n *sitter.Node) {
	start, end := nodeLines(n)
	if w.importStart == 0 {
		w.importStart = start
	}
	w.importEnd = end
	if n.Type() == "import_statement" {
		if src := n.ChildByFieldName("source"); src != nil {
			w.importDeps = appendUnique(w.importDeps, unquote(src.Content(w.src)))
		}
		return
	}
	for _, d := range declarators(n) {
		w.importDeps = appendUnique(w.importDeps, requireSource(d.ChildByFieldName("value"), w.src))
	}
}

func (w *ecmaWalker) flushImports() {
	if w.importStart == 0 {
		return
	}
	w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeImport, "imports", w.importStart, w.importEnd,
		domain.ChunkMetadata{Dependencies: w.importDeps}))
	w.importStart, w.importEnd, w.importDeps = 0, 0, nil
}

// declaration emits chunks for decl using outer's line range. outer differs
// from decl when the declaration is wrapped in an export statement.
func (w *ecmaWalker) declaration(outer, decl *sitter.Node, exported bool) {
	start, end := nodeLines(outer)

	switch decl.Type() {
	case "export_statement":
		if inner := decl.ChildByFieldName("declaration"); inner != nil {
			w.declaration(outer, inner, true)
			return
		}
		w.exportClause(decl, start, end)

	case "function_declaration", "generator_function_declaration", "function_signature":
		name := fieldText(decl, "name", w.src)
		meta := w.meta(name, exported)
		meta.Async = hasToken(decl, "async")
		meta.Parameters = parameterNames(decl.ChildByFieldName("parameters"), w.src)
		w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeFunction, name, start, end, meta))

	case "class_declaration", "abstract_class_declaration", "class":
		w.class(decl, start, end, exported)

	case "interface_declaration":
		name := fieldText(decl, "name", w.src)
		meta := w.meta(name, exported)
		if ext := firstChildOfType(decl, "extends_type_clause"); ext != nil {
			meta.Dependencies = heritageNames(ext, w.src)
		}
		w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeInterface, name, start, end, meta))

	case "type_alias_declaration", "enum_declaration":
		name := fieldText(decl, "name", w.src)
		w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeType, name, start, end, w.meta(name, exported)))

	case "internal_module", "module":
		name := unquote(fieldText(decl, "name", w.src))
		w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeModule, name, start, end, w.meta(name, exported)))

	case "expression_statement":
		// Wrapper for namespaces and module.exports assignments.
		children := namedChildren(decl)
		if len(children) == 1 && children[0].Type() == "internal_module" {
			w.declaration(outer, children[0], exported)
			return
		}
		w.moduleExports(decl, start, end)

	case "lexical_declaration", "variable_declaration":
		w.variables(decl, start, end, exported)
	}
}

func (w *ecmaWalker) meta(name string, exported bool) domain.ChunkMetadata {
	meta := domain.ChunkMetadata{Visibility: visibilityByUnderscore(name)}
	if exported {
		meta.Visibility = domain.VisibilityPublic
		if name != "" {
			meta.Exports = []string{name}
		}
	}
	return meta
}

func (w *ecmaWalker) class(decl *sitter.Node, start, end int, exported bool) {
	name := fieldText(decl, "name", w.src)
	meta := w.meta(name, exported)
	if h := firstChildOfType(decl, "class_heritage"); h != nil {
		meta.Dependencies = heritageNames(h, w.src)
	}
	meta.Decorators = decoratorsOf(decl, w.src)
	w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeClass, name, start, end, meta))

	body := decl.ChildByFieldName("body")
	var pending []string
	pendingStart := 0
	for _, member := range namedChildren(body) {
		switch member.Type() {
		case "decorator":
			if pendingStart == 0 {
				pendingStart, _ = nodeLines(member)
			}
			pending = append(pending, decoratorName(member.Content(w.src)))
			continue
		case "method_definition", "method_signature", "abstract_method_signature":
			w.method(member, name, pending, pendingStart)
		}
		pending, pendingStart = nil, 0
	}
}

func (w *ecmaWalker) method(m *sitter.Node, parent string, decorators []string, decoratorStart int) {
	start, end := nodeLines(m)
	if decoratorStart > 0 && decoratorStart < start {
		start = decoratorStart
	}
	nameNode := m.ChildByFieldName("name")
	name := ""
	visibility := domain.VisibilityPublic
	if nameNode != nil {
		name = nameNode.Content(w.src)
		if nameNode.Type() == "private_property_identifier" {
			visibility = domain.VisibilityPrivate
		} else {
			visibility = visibilityByUnderscore(name)
		}
	}
	if mod := firstChildOfType(m, "accessibility_modifier"); mod != nil {
		switch mod.Content(w.src) {
		case "private":
			visibility = domain.VisibilityPrivate
		case "protected":
			visibility = domain.VisibilityProtected
		}
	}
	decorators = append(decorators, decoratorsOf(m, w.src)...)
	meta := domain.ChunkMetadata{
		Parent:     parent,
		Visibility: visibility,
		Async:      hasToken(m, "async"),
		Static:     hasToken(m, "static"),
		Parameters: parameterNames(m.ChildByFieldName("parameters"), w.src),
		Decorators: decorators,
	}
	w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeMethod, name, start, end, meta))
}

func (w *ecmaWalker) variables(decl *sitter.Node, start, end int, exported bool) {
	decls := declarators(decl)
	if len(decls) == 0 {
		return
	}
	first := decls[0]
	name := fieldText(first, "name", w.src)
	value := first.ChildByFieldName("value")

	if value != nil {
		switch value.Type() {
		case "arrow_function", "function", "function_expression", "generator_function":
			meta := w.meta(name, exported)
			meta.Async = hasToken(value, "async")
			params := value.ChildByFieldName("parameters")
			if params == nil {
				params = value.ChildByFieldName("parameter")
				if params != nil {
					meta.Parameters = []string{params.Content(w.src)}
				}
			} else {
				meta.Parameters = parameterNames(params, w.src)
			}
			w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeFunction, name, start, end, meta))
			return
		case "class":
			idx := len(w.chunks)
			w.class(value, start, end, exported)
			if w.chunks[idx].Name == "" {
				w.chunks[idx].Name = name
				named := w.meta(name, exported)
				w.chunks[idx].Metadata.Visibility = named.Visibility
				w.chunks[idx].Metadata.Exports = named.Exports
				for i := idx + 1; i < len(w.chunks); i++ {
					w.chunks[i].Metadata.Parent = name
				}
			}
			return
		}
	}

	var names []string
	for _, d := range decls {
		names = append(names, fieldText(d, "name", w.src))
	}
	meta := w.meta(name, exported)
	if exported {
		meta.Exports = names
	}
	w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeVariable, strings.Join(names, ", "), start, end, meta))
}

// exportClause handles `export { a, b }`, `export default x` and re-exports.
func (w *ecmaWalker) exportClause(decl *sitter.Node, start, end int) {
	meta := domain.ChunkMetadata{Visibility: domain.VisibilityPublic}
	if clause := firstChildOfType(decl, "export_clause"); clause != nil {
		for _, spec := range namedChildren(clause) {
			exported := fieldText(spec, "alias", w.src)
			if exported == "" {
				exported = fieldText(spec, "name", w.src)
			}
			meta.Exports = appendUnique(meta.Exports, exported)
		}
	}
	if src := decl.ChildByFieldName("source"); src != nil {
		meta.Dependencies = []string{unquote(src.Content(w.src))}
	}
	name := "exports"
	if hasToken(decl, "default") {
		name = "default"
		meta.Exports = appendUnique(meta.Exports, "default")
		if value := decl.ChildByFieldName("value"); value != nil && value.Type() == "identifier" {
			meta.Exports = appendUnique(meta.Exports, value.Content(w.src))
		}
	}
	w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeModule, name, start, end, meta))
}

// moduleExports recognizes CommonJS `module.exports = ...` assignments.
func (w *ecmaWalker) moduleExports(stmt *sitter.Node, start, end int) {
	children := namedChildren(stmt)
	if len(children) != 1 || children[0].Type() != "assignment_expression" {
		return
	}
	left := fieldText(children[0], "left", w.src)
	if !strings.HasPrefix(left, "module.exports") && !strings.HasPrefix(left, "exports.") {
		return
	}
	meta := domain.ChunkMetadata{Visibility: domain.VisibilityPublic}
	if right := children[0].ChildByFieldName("right"); right != nil && right.Type() == "object" {
		for _, prop := range namedChildren(right) {
			switch prop.Type() {
			case "shorthand_property_identifier":
				meta.Exports = append(meta.Exports, prop.Content(w.src))
			case "pair":
				meta.Exports = append(meta.Exports, fieldText(prop, "key", w.src))
			}
		}
	} else if name, ok := strings.CutPrefix(left, "exports."); ok {
		meta.Exports = []string{name}
	}
	w.chunks = append(w.chunks, w.s.chunk(domain.ChunkTypeModule, "module.exports", start, end, meta))
}

func declarators(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, c := range namedChildren(n) {
		if c.Type() == "variable_declarator" {
			out = append(out, c)
		}
	}
	return out
}

// requireSource returns the module name of a `require("x")` call, or "".
func requireSource(value *sitter.Node, src []byte) string {
	if value == nil || value.Type() != "call_expression" {
		return ""
	}
	if fieldText(value, "function", src) != "require" {
		return ""
	}
	args := value.ChildByFieldName("arguments")
	for _, a := range namedChildren(args) {
		if a.Type() == "string" {
			return unquote(a.Content(src))
		}
	}
	return ""
}

func firstChildOfType(n *sitter.Node, typ string) *sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		if c := n.Child(i); c.Type() == typ {
			return c
		}
	}
	return nil
}

func decoratorsOf(n *sitter.Node, src []byte) []string {
	var out []string
	for _, c := range namedChildren(n) {
		if c.Type() == "decorator" {
			out = append(out, decoratorName(c.Content(src)))
		}
	}
	return out
}

// heritageNames pulls identifiers out of extends/implements clauses.
func heritageNames(n *sitter.Node, src []byte) []string {
	return heritageNamesFromText(n.Content(src))
}

func heritageNamesFromText(text string) []string {
	for _, kw := range []string{"extends", "implements"} {
		text = strings.ReplaceAll(text, kw, ",")
	}
	var out []string
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if i := strings.IndexAny(part, "<({ "); i >= 0 {
			part = part[:i]
		}
		out = appendUnique(out, part)
	}
	return out
}

func unquote(s string) string {
	return strings.Trim(s, "\"'`")
}
