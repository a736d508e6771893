package parser

import (
	"regexp"
	"strings"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var (
	shellShebang  = regexp.MustCompile(`^#!.*\b(ba|z|k|da)?sh\b`)
	shellFuncDecl = regexp.MustCompile(`^\s*(?:function\s+([A-Za-z_][\w:.-]*)\s*(?:\(\s*\))?|([A-Za-z_][\w:.-]*)\s*\(\s*\))\s*(\{)?`)
	shellSource   = regexp.MustCompile(`^\s*(?:source|\.)\s+(\S+)`)
	shellAssign   = regexp.MustCompile(`^\s*(export\s+|readonly\s+|declare\s+(?:-\w+\s+)?)?([A-Za-z_]\w*)=`)
)

// ShellParser chunks shell scripts into functions, sourced files and
// top-level variables.
type ShellParser struct{}

// NewShellParser creates a ShellParser.
func NewShellParser() *ShellParser { return &ShellParser{} }

func (p *ShellParser) Language() string     { return "shell" }
func (p *ShellParser) Extensions() []string { return []string{".sh", ".bash", ".zsh", ".ksh"} }
func (p *ShellParser) Aliases() []string    { return []string{"sh", "bash", "zsh"} }

func (p *ShellParser) SniffContent(content string) bool {
	first, _, _ := strings.Cut(content, "\n")
	return shellShebang.MatchString(first)
}

func (p *ShellParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	s := newSource(content)
	var chunks []domain.SemanticChunk
	sourceStart, sourceEnd := 0, 0
	var sourced []string

	flushSources := func() {
		if sourceStart == 0 {
			return
		}
		chunks = append(chunks, s.chunk(domain.ChunkTypeImport, "sources", sourceStart, sourceEnd,
			domain.ChunkMetadata{Dependencies: sourced}))
		sourceStart, sourceEnd, sourced = 0, 0, nil
	}

	for n := 1; n <= len(s.lines); n++ {
		line := s.line(n)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if m := shellSource.FindStringSubmatch(line); m != nil {
			if sourceStart == 0 {
				sourceStart = n
			}
			sourceEnd = n
			sourced = appendUnique(sourced, strings.Trim(m[1], `"'`))
			continue
		}
		flushSources()

		if m := shellFuncDecl.FindStringSubmatch(line); m != nil {
			name := m[1]
			if name == "" {
				name = m[2]
			}
			end := shellFunctionEnd(s, n)
			chunks = append(chunks, s.chunk(domain.ChunkTypeFunction, name, n, end,
				domain.ChunkMetadata{Visibility: visibilityByUnderscore(name)}))
			n = end
			continue
		}

		if m := shellAssign.FindStringSubmatch(line); m != nil {
			end := n
			for end < len(s.lines) && strings.HasSuffix(strings.TrimSpace(s.line(end)), "\\") {
				end++
			}
			meta := domain.ChunkMetadata{Visibility: visibilityByUnderscore(m[2])}
			if strings.HasPrefix(strings.TrimSpace(m[1]), "export") {
				meta.Exports = []string{m[2]}
			}
			chunks = append(chunks, s.chunk(domain.ChunkTypeVariable, m[2], n, end, meta))
			n = end
		}
	}
	flushSources()
	return chunks, nil
}

// shellFunctionEnd follows braces from the declaration line until the body
// closes. A body that never closes runs to the end of the script.
func shellFunctionEnd(s *source, start int) int {
	depth := 0
	opened := false
	for n := start; n <= len(s.lines); n++ {
		line := stripShellQuoted(s.line(n))
		if i := strings.Index(line, " #"); i >= 0 {
			line = line[:i]
		}
		for _, c := range line {
			switch c {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			return n
		}
	}
	return len(s.lines)
}

func stripShellQuoted(line string) string {
	var b strings.Builder
	var quote rune
	for _, c := range line {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}
