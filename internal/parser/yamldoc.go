package parser

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlDoc is one document of a (possibly multi-document) YAML stream with
// its absolute line range and decoded root node.
type yamlDoc struct {
	start, end int
	root       *yaml.Node
}

// abs converts a document-relative node line to an absolute line.
func (d yamlDoc) abs(line int) int {
	return d.start + line - 1
}

// splitYAMLDocuments decodes each `---` separated document on its own so
// node line numbers can be mapped back to the file.
func splitYAMLDocuments(s *source) ([]yamlDoc, error) {
	var docs []yamlDoc
	start := 1
	flush := func(end int) error {
		if end < start {
			return nil
		}
		body := s.slice(start, end)
		if strings.TrimSpace(stripYAMLComments(body)) == "" {
			return nil
		}
		var root yaml.Node
		if err := yaml.Unmarshal([]byte(body), &root); err != nil {
			return fmt.Errorf("document at line %d: %w", start, err)
		}
		if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
			docs = append(docs, yamlDoc{start: start, end: s.trimEnd(start, end, "#"), root: root.Content[0]})
		}
		return nil
	}

	for n := 1; n <= len(s.lines); n++ {
		line := s.line(n)
		if strings.HasPrefix(line, "---") || strings.TrimRight(line, " ") == "..." {
			if err := flush(n - 1); err != nil {
				return nil, err
			}
			start = n + 1
		}
	}
	if err := flush(len(s.lines)); err != nil {
		return nil, err
	}
	return docs, nil
}

func stripYAMLComments(body string) string {
	var b strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// yamlPair is one key/value entry of a mapping node.
type yamlPair struct {
	key   *yaml.Node
	value *yaml.Node
}

func mappingPairs(n *yaml.Node) []yamlPair {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	pairs := make([]yamlPair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		pairs = append(pairs, yamlPair{key: n.Content[i], value: n.Content[i+1]})
	}
	return pairs
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	for _, p := range mappingPairs(n) {
		if p.key.Value == key {
			return p.value
		}
	}
	return nil
}

func mappingString(n *yaml.Node, key string) string {
	v := mappingValue(n, key)
	if v == nil || v.Kind != yaml.ScalarNode {
		return ""
	}
	return v.Value
}

// nodeEndLine returns the last document-relative line occupied by n,
// accounting for block scalars.
func nodeEndLine(n *yaml.Node) int {
	if n == nil {
		return 0
	}
	end := n.Line
	if n.Kind == yaml.ScalarNode && (n.Style&(yaml.LiteralStyle|yaml.FoldedStyle)) != 0 {
		end = n.Line + strings.Count(strings.TrimRight(n.Value, "\n"), "\n") + 1
	}
	if n.Kind == yaml.AliasNode {
		return end
	}
	for _, c := range n.Content {
		if e := nodeEndLine(c); e > end {
			end = e
		}
	}
	return end
}

// itemRanges computes absolute line ranges for consecutive entries starting
// at the given document-relative lines. Each entry ends before the next
// one; the last ends at limit. Trailing blanks and comments are trimmed.
func itemRanges(s *source, d yamlDoc, starts []int, limit int) [][2]int {
	out := make([][2]int, len(starts))
	for i, st := range starts {
		start := d.abs(st)
		end := limit
		if i+1 < len(starts) {
			end = d.abs(starts[i+1]) - 1
		}
		if end < start {
			end = start
		}
		out[i] = [2]int{start, s.trimEnd(start, end, "#")}
	}
	return out
}

// stringList reads a scalar or a sequence of scalars.
func stringList(n *yaml.Node) []string {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Value == "" {
			return nil
		}
		return []string{n.Value}
	case yaml.SequenceNode:
		var out []string
		for _, c := range n.Content {
			if c.Kind == yaml.ScalarNode {
				out = append(out, c.Value)
			} else if c.Kind == yaml.MappingNode {
				if name := mappingString(c, "name"); name != "" {
					out = append(out, name)
				} else if role := mappingString(c, "role"); role != "" {
					out = append(out, role)
				}
			}
		}
		return out
	case yaml.MappingNode:
		var out []string
		for _, p := range mappingPairs(n) {
			out = append(out, p.key.Value)
		}
		return out
	}
	return nil
}
