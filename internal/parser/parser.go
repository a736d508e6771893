// Package parser splits source files and documents into semantic chunks.
//
// Each supported format registers a Parser in a Registry. Select picks the
// parser for an input (hint, extension, filename pattern, content signature)
// and Framework.Parse wraps the chosen parser so that parsing never fails:
// errors, panics and empty output all degrade to a single fallback chunk.
package parser

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cloo-solutions/repomem/internal/domain"
)

// Parser turns one input into semantic chunks.
type Parser interface {
	Language() string
	Extensions() []string
	Parse(content, path string) ([]domain.SemanticChunk, error)
}

// FilenameMatcher is implemented by parsers recognizable by file name alone
// (Dockerfile, docker-compose.yml, playbooks).
type FilenameMatcher interface {
	MatchFilename(path string) bool
}

// ContentSniffer is implemented by parsers that can claim an input from a
// signature in its content.
type ContentSniffer interface {
	SniffContent(content string) bool
}

// Specializer marks a parser as a refinement of a generic format parser.
// When an extension resolves to the generic parser, specializers get a
// chance to claim the file first.
type Specializer interface {
	Specializes() string
}

// Aliaser lets a parser accept alternative language hints.
type Aliaser interface {
	Aliases() []string
}

// Registry maps language tags to parsers. Registration order is kept and
// used as the probe order for filename and content matching.
type Registry struct {
	mu         sync.RWMutex
	order      []Parser
	byLanguage map[string]Parser
	byExt      map[string]Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byLanguage: make(map[string]Parser),
		byExt:      make(map[string]Parser),
	}
}

// Register adds a parser. A later registration for the same language or
// extension replaces the earlier one.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lang := strings.ToLower(p.Language())
	if prev, ok := r.byLanguage[lang]; ok {
		for i, existing := range r.order {
			if existing == prev {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.order = append(r.order, p)
	r.byLanguage[lang] = p
	if a, ok := p.(Aliaser); ok {
		for _, alias := range a.Aliases() {
			r.byLanguage[strings.ToLower(alias)] = p
		}
	}
	for _, ext := range p.Extensions() {
		r.byExt[normalizeExt(ext)] = p
	}
}

// Get returns the parser registered under a language tag or alias.
func (r *Registry) Get(language string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byLanguage[strings.ToLower(strings.TrimSpace(language))]
	return p, ok
}

// ForExtension returns the parser registered for a file extension.
func (r *Registry) ForExtension(ext string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byExt[normalizeExt(ext)]
	return p, ok
}

// Parsers returns the registered parsers in registration order.
func (r *Registry) Parsers() []Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Parser, len(r.order))
	copy(out, r.order)
	return out
}

// Languages returns the sorted language tags.
func (r *Registry) Languages() []string {
	parsers := r.Parsers()
	out := make([]string, 0, len(parsers))
	for _, p := range parsers {
		out = append(out, p.Language())
	}
	sort.Strings(out)
	return out
}

// Extensions returns the set of registered extensions, lower-case with dot.
func (r *Registry) Extensions() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.byExt))
	for ext := range r.byExt {
		out[ext] = true
	}
	return out
}

// MatchesFilename reports whether any parser claims path by name.
func (r *Registry) MatchesFilename(path string) bool {
	for _, p := range r.Parsers() {
		if m, ok := p.(FilenameMatcher); ok && m.MatchFilename(path) {
			return true
		}
	}
	return false
}

// Detect returns the language that Select would choose for the input.
func (r *Registry) Detect(path, content string) string {
	p, ok := Select(r, path, "", content)
	if !ok {
		return ""
	}
	return p.Language()
}

// LanguageForPath infers a language from the path alone.
func (r *Registry) LanguageForPath(path string) string {
	return r.Detect(path, "")
}

// Select chooses a parser for an input. The order is: explicit language hint,
// file extension (refined by specializers of generic formats), filename
// pattern, then content signature. It reads the registry only.
func Select(r *Registry, path, hint, content string) (Parser, bool) {
	if hint != "" {
		if p, ok := r.Get(hint); ok {
			return p, true
		}
	}

	parsers := r.Parsers()

	if path != "" {
		if p, ok := r.ForExtension(filepath.Ext(path)); ok {
			if refined, ok := refine(parsers, p, path, content); ok {
				return refined, true
			}
			return p, true
		}

		for _, p := range parsers {
			if m, ok := p.(FilenameMatcher); ok && m.MatchFilename(path) {
				return p, true
			}
		}
	}

	if strings.TrimSpace(content) == "" {
		return nil, false
	}
	for _, p := range parsers {
		if s, ok := p.(ContentSniffer); ok && s.SniffContent(content) {
			return p, true
		}
	}
	return nil, false
}

// refine gives specializers of a generic parser a chance to claim the file,
// first by name and then by content.
func refine(parsers []Parser, generic Parser, path, content string) (Parser, bool) {
	var specialists []Parser
	for _, p := range parsers {
		if s, ok := p.(Specializer); ok && strings.EqualFold(s.Specializes(), generic.Language()) {
			specialists = append(specialists, p)
		}
	}
	if len(specialists) == 0 {
		return nil, false
	}
	for _, p := range specialists {
		if m, ok := p.(FilenameMatcher); ok && m.MatchFilename(path) {
			return p, true
		}
	}
	if content == "" {
		return nil, false
	}
	for _, p := range specialists {
		if s, ok := p.(ContentSniffer); ok && s.SniffContent(content) {
			return p, true
		}
	}
	return nil, false
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// DefaultRegistry returns a registry with every built-in parser. Specific
// formats are registered before the generic ones they refine so content
// probing tries them first.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewPythonParser())
	r.Register(NewTypeScriptParser())
	r.Register(NewJavaScriptParser())
	r.Register(NewGoParser())
	r.Register(NewDockerfileParser())
	r.Register(NewTerraformParser())
	r.Register(NewShellParser())
	r.Register(NewAnsibleParser())
	r.Register(NewComposeParser())
	r.Register(NewKubernetesParser())
	r.Register(NewMarkdownParser())
	r.Register(NewYAMLParser())
	r.Register(NewJSONParser())
	return r
}
