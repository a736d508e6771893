package parser

import (
	"strings"
	"unicode"

	"github.com/cloo-solutions/repomem/internal/domain"
)

// source indexes the lines of one input. Lines are 1-based.
type source struct {
	text  string
	lines []string
}

func newSource(content string) *source {
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return &source{text: content, lines: lines}
}

// count is at least 1 so that empty input still has a line to point at.
func (s *source) count() int {
	if len(s.lines) == 0 {
		return 1
	}
	return len(s.lines)
}

func (s *source) line(n int) string {
	if n < 1 || n > len(s.lines) {
		return ""
	}
	return s.lines[n-1]
}

func (s *source) slice(start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(s.lines) {
		end = len(s.lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(s.lines[start-1:end], "\n")
}

func (s *source) blank(n int) bool {
	return strings.TrimSpace(s.line(n)) == ""
}

// hasWords reports whether any line in the range holds a letter or digit.
func (s *source) hasWords(start, end int) bool {
	for l := start; l <= end; l++ {
		for _, r := range s.line(l) {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return true
			}
		}
	}
	return false
}

// trimEnd walks end back over blank lines and lines starting with one of
// the comment prefixes, never past start.
func (s *source) trimEnd(start, end int, commentPrefixes ...string) int {
	for end > start {
		text := strings.TrimSpace(s.line(end))
		if text == "" || hasAnyPrefix(text, commentPrefixes) {
			end--
			continue
		}
		break
	}
	return end
}

func (s *source) chunk(t domain.ChunkType, name string, start, end int, meta domain.ChunkMetadata) domain.SemanticChunk {
	return domain.SemanticChunk{
		Type:      t,
		Name:      name,
		Content:   s.slice(start, end),
		StartLine: start,
		EndLine:   end,
		Metadata:  meta,
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// visibilityByUnderscore applies the leading-underscore convention shared by
// Python, JavaScript and shell. Dunder names are public.
func visibilityByUnderscore(name string) string {
	if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") && len(name) > 4 {
		return domain.VisibilityPublic
	}
	if strings.HasPrefix(name, "_") || strings.HasPrefix(name, "#") {
		return domain.VisibilityPrivate
	}
	return domain.VisibilityPublic
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		seen := false
		for _, existing := range list {
			if existing == v {
				seen = true
				break
			}
		}
		if !seen {
			list = append(list, v)
		}
	}
	return list
}
