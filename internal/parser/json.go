package parser

import (
	"regexp"
	"strings"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var jsonSignature = regexp.MustCompile(`^\s*[\[{]\s*("|\]|\}|$)`)

var packageDependencyKeys = map[string]bool{
	"dependencies":         true,
	"devDependencies":      true,
	"peerDependencies":     true,
	"optionalDependencies": true,
}

// JSONParser chunks JSON documents by top-level key. JSON is decoded with
// the YAML decoder, which keeps node line numbers.
type JSONParser struct{}

// NewJSONParser creates a JSONParser.
func NewJSONParser() *JSONParser { return &JSONParser{} }

func (p *JSONParser) Language() string     { return "json" }
func (p *JSONParser) Extensions() []string { return []string{".json", ".jsonc", ".json5"} }

func (p *JSONParser) SniffContent(content string) bool {
	return jsonSignature.MatchString(content)
}

func (p *JSONParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	s := newSource(content)
	// YAML forbids tab indentation; JSON allows tabs only as whitespace.
	docs, err := splitYAMLDocuments(newSource(strings.ReplaceAll(content, "\t", " ")))
	if err != nil {
		return nil, err
	}
	var chunks []domain.SemanticChunk
	for i, d := range docs {
		docChunks := yamlDocumentChunks(s, d, documentName(path, i, len(docs)))
		for j := range docChunks {
			if v := mappingValue(d.root, docChunks[j].Name); v != nil && packageDependencyKeys[docChunks[j].Name] {
				docChunks[j].Metadata.Dependencies = stringList(v)
			}
		}
		if name := mappingString(d.root, "name"); name != "" && mappingValue(d.root, "version") != nil {
			for j := range docChunks {
				if docChunks[j].Name == "name" {
					docChunks[j].Metadata.Exports = []string{name}
				}
			}
		}
		chunks = append(chunks, docChunks...)
	}
	return chunks, nil
}
