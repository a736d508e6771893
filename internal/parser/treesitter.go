package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// parseTree runs a tree-sitter grammar over src.
func parseTree(lang *sitter.Language, src []byte) (*sitter.Tree, error) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(lang)
	tree, err := p.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter returned no tree")
	}
	return tree, nil
}

// nodeLines returns the 1-based inclusive line range of a node. A node that
// ends at column 0 stops on the previous line.
func nodeLines(n *sitter.Node) (int, int) {
	start := int(n.StartPoint().Row) + 1
	endPoint := n.EndPoint()
	end := int(endPoint.Row) + 1
	if endPoint.Column == 0 && end > start {
		end--
	}
	return start, end
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

// hasToken reports whether n has a direct anonymous child of the given type,
// e.g. "async" or "static".
func hasToken(n *sitter.Node, token string) bool {
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		c := n.Child(i)
		if !c.IsNamed() && c.Type() == token {
			return true
		}
	}
	return false
}

func fieldText(n *sitter.Node, field string, src []byte) string {
	c := n.ChildByFieldName(field)
	if c == nil {
		return ""
	}
	return c.Content(src)
}

// parameterNames extracts bare parameter names from a parameter list node,
// dropping type annotations, defaults and splat markers.
func parameterNames(params *sitter.Node, src []byte) []string {
	var names []string
	for _, p := range namedChildren(params) {
		if p.Type() == "comment" {
			continue
		}
		text := p.Content(src)
		if name := p.ChildByFieldName("name"); name != nil {
			text = name.Content(src)
		} else if pattern := p.ChildByFieldName("pattern"); pattern != nil {
			text = pattern.Content(src)
		}
		text = strings.TrimLeft(text, "*.")
		if i := strings.IndexAny(text, ":=?"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text != "" {
			names = append(names, text)
		}
	}
	return names
}
