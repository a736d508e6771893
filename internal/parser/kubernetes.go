package parser

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var (
	kubernetesAPIVersion = regexp.MustCompile(`(?m)^apiVersion:\s*\S`)
	kubernetesKind       = regexp.MustCompile(`(?m)^kind:\s*\S`)
)

// KubernetesParser chunks manifests into one resource chunk per document,
// named Kind/name.
type KubernetesParser struct{}

// NewKubernetesParser creates a KubernetesParser.
func NewKubernetesParser() *KubernetesParser { return &KubernetesParser{} }

func (p *KubernetesParser) Language() string     { return "kubernetes" }
func (p *KubernetesParser) Extensions() []string { return nil }
func (p *KubernetesParser) Aliases() []string    { return []string{"k8s"} }
func (p *KubernetesParser) Specializes() string  { return "yaml" }

func (p *KubernetesParser) SniffContent(content string) bool {
	return kubernetesAPIVersion.MatchString(content) && kubernetesKind.MatchString(content)
}

func (p *KubernetesParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	s := newSource(content)
	docs, err := splitYAMLDocuments(s)
	if err != nil {
		return nil, err
	}

	var chunks []domain.SemanticChunk
	for i, d := range docs {
		kind := mappingString(d.root, "kind")
		if kind == "" {
			chunks = append(chunks, yamlDocumentChunks(s, d, documentName(path, i, len(docs)))...)
			continue
		}
		metadata := mappingValue(d.root, "metadata")
		name := mappingString(metadata, "name")
		if name == "" {
			name = mappingString(metadata, "generateName")
		}
		meta := domain.ChunkMetadata{
			Exports:      []string{fmt.Sprintf("%s/%s", kind, name)},
			Dependencies: kubernetesReferences(d.root),
		}
		if ns := mappingString(metadata, "namespace"); ns != "" {
			meta.Parent = "Namespace/" + ns
		}
		chunks = append(chunks, s.chunk(domain.ChunkTypeResource, kind+"/"+name, d.start, d.end, meta))
	}
	return chunks, nil
}

// kubernetesReferences collects container images and the names of config
// maps, secrets and service accounts a manifest depends on.
func kubernetesReferences(root *yaml.Node) []string {
	var deps []string
	var walk func(n *yaml.Node)
	walk = func(n *yaml.Node) {
		if n == nil {
			return
		}
		for _, pr := range mappingPairs(n) {
			switch pr.key.Value {
			case "image":
				if pr.value.Kind == yaml.ScalarNode {
					deps = appendUnique(deps, pr.value.Value)
				}
			case "serviceAccountName":
				deps = appendUnique(deps, "ServiceAccount/"+pr.value.Value)
			case "configMapRef", "configMapKeyRef", "configMap":
				if name := mappingString(pr.value, "name"); name != "" {
					deps = appendUnique(deps, "ConfigMap/"+name)
				}
			case "secretRef", "secretKeyRef":
				if name := mappingString(pr.value, "name"); name != "" {
					deps = appendUnique(deps, "Secret/"+name)
				}
			case "secret":
				if name := mappingString(pr.value, "secretName"); name != "" {
					deps = appendUnique(deps, "Secret/"+name)
				}
			case "persistentVolumeClaim":
				if name := mappingString(pr.value, "claimName"); name != "" {
					deps = appendUnique(deps, "PersistentVolumeClaim/"+name)
				}
			}
		}
		for _, c := range n.Content {
			walk(c)
		}
	}
	walk(root)
	return deps
}
