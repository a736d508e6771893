package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cloo-solutions/repomem/internal/domain"
)

// YAMLParser chunks generic YAML: one config chunk per top-level key, or
// per item when a document is a sequence.
type YAMLParser struct{}

// NewYAMLParser creates a YAMLParser.
func NewYAMLParser() *YAMLParser { return &YAMLParser{} }

func (p *YAMLParser) Language() string     { return "yaml" }
func (p *YAMLParser) Extensions() []string { return []string{".yml", ".yaml"} }

func (p *YAMLParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	s := newSource(content)
	docs, err := splitYAMLDocuments(s)
	if err != nil {
		return nil, err
	}
	var chunks []domain.SemanticChunk
	for i, d := range docs {
		chunks = append(chunks, yamlDocumentChunks(s, d, documentName(path, i, len(docs)))...)
	}
	return chunks, nil
}

func documentName(path string, idx, total int) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if path == "" {
		name = "document"
	}
	if total > 1 {
		return fmt.Sprintf("%s[%d]", name, idx)
	}
	return name
}

func yamlDocumentChunks(s *source, d yamlDoc, docName string) []domain.SemanticChunk {
	switch d.root.Kind {
	case yaml.MappingNode:
		pairs := mappingPairs(d.root)
		starts := make([]int, len(pairs))
		for i, p := range pairs {
			starts[i] = p.key.Line
		}
		if !distinctLines(starts) {
			return []domain.SemanticChunk{s.chunk(domain.ChunkTypeConfig, docName, d.start, d.end, domain.ChunkMetadata{})}
		}
		ranges := itemRanges(s, d, starts, d.end)
		chunks := make([]domain.SemanticChunk, 0, len(pairs))
		for i, p := range pairs {
			chunks = append(chunks, s.chunk(domain.ChunkTypeConfig, p.key.Value, ranges[i][0], ranges[i][1], domain.ChunkMetadata{}))
		}
		return chunks

	case yaml.SequenceNode:
		starts := make([]int, len(d.root.Content))
		for i, item := range d.root.Content {
			starts[i] = item.Line
		}
		if !distinctLines(starts) {
			return []domain.SemanticChunk{s.chunk(domain.ChunkTypeConfig, docName, d.start, d.end, domain.ChunkMetadata{})}
		}
		ranges := itemRanges(s, d, starts, d.end)
		chunks := make([]domain.SemanticChunk, 0, len(starts))
		for i, item := range d.root.Content {
			name := mappingString(item, "name")
			if name == "" {
				name = fmt.Sprintf("%s[%d]", docName, i)
			}
			chunks = append(chunks, s.chunk(domain.ChunkTypeConfig, name, ranges[i][0], ranges[i][1], domain.ChunkMetadata{}))
		}
		return chunks
	}
	return []domain.SemanticChunk{s.chunk(domain.ChunkTypeConfig, docName, d.start, d.end, domain.ChunkMetadata{})}
}

// distinctLines reports whether entries start on strictly increasing lines,
// which is false for flow style such as minified JSON.
func distinctLines(starts []int) bool {
	for i := 1; i < len(starts); i++ {
		if starts[i] <= starts[i-1] {
			return false
		}
	}
	return true
}
