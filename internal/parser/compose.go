package parser

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var composeSignature = regexp.MustCompile(`(?m)^services:\s*$`)

// ComposeParser chunks docker compose files: the services block with one
// nested service chunk per service, other top-level keys as config.
type ComposeParser struct{}

// NewComposeParser creates a ComposeParser.
func NewComposeParser() *ComposeParser { return &ComposeParser{} }

func (p *ComposeParser) Language() string     { return "compose" }
func (p *ComposeParser) Extensions() []string { return nil }
func (p *ComposeParser) Aliases() []string    { return []string{"docker-compose"} }
func (p *ComposeParser) Specializes() string  { return "yaml" }

func (p *ComposeParser) MatchFilename(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(base)
	if ext != ".yml" && ext != ".yaml" {
		return false
	}
	return strings.HasPrefix(base, "docker-compose") || strings.HasPrefix(base, "compose.") ||
		strings.HasPrefix(base, "compose-")
}

func (p *ComposeParser) SniffContent(content string) bool {
	return composeSignature.MatchString(content) && !kubernetesKind.MatchString(content)
}

func (p *ComposeParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	s := newSource(content)
	docs, err := splitYAMLDocuments(s)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	d := docs[0]
	if d.root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("compose file root must be a mapping")
	}

	pairs := mappingPairs(d.root)
	starts := make([]int, len(pairs))
	for i, pr := range pairs {
		starts[i] = pr.key.Line
	}
	ranges := itemRanges(s, d, starts, d.end)

	var chunks []domain.SemanticChunk
	for i, pr := range pairs {
		start, end := ranges[i][0], ranges[i][1]
		if pr.key.Value != "services" || pr.value.Kind != yaml.MappingNode {
			meta := domain.ChunkMetadata{}
			if pr.key.Value == "networks" || pr.key.Value == "volumes" || pr.key.Value == "secrets" || pr.key.Value == "configs" {
				meta.Exports = stringList(pr.value)
			}
			chunks = append(chunks, s.chunk(domain.ChunkTypeConfig, pr.key.Value, start, end, meta))
			continue
		}

		services := mappingPairs(pr.value)
		names := make([]string, len(services))
		svcStarts := make([]int, len(services))
		for j, svc := range services {
			names[j] = svc.key.Value
			svcStarts[j] = svc.key.Line
		}
		chunks = append(chunks, s.chunk(domain.ChunkTypeConfig, "services", start, end,
			domain.ChunkMetadata{Exports: names}))

		for j, r := range itemRanges(s, d, svcStarts, end) {
			chunks = append(chunks, s.chunk(domain.ChunkTypeService, names[j], r[0], r[1],
				composeServiceMeta(services[j].value)))
		}
	}
	return chunks, nil
}

func composeServiceMeta(svc *yaml.Node) domain.ChunkMetadata {
	meta := domain.ChunkMetadata{Parent: "services"}
	if image := mappingString(svc, "image"); image != "" {
		meta.Dependencies = append(meta.Dependencies, image)
	}
	meta.Dependencies = appendUnique(meta.Dependencies, stringList(mappingValue(svc, "depends_on"))...)
	for _, link := range stringList(mappingValue(svc, "links")) {
		name, _, _ := strings.Cut(link, ":")
		meta.Dependencies = appendUnique(meta.Dependencies, name)
	}
	meta.Exports = stringList(mappingValue(svc, "ports"))
	meta.Parameters = stringList(mappingValue(svc, "environment"))
	return meta
}
