package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/repomem/internal/domain"
)

type stubParser struct {
	lang   string
	chunks []domain.SemanticChunk
	err    error
	panics bool
}

func (p *stubParser) Language() string     { return p.lang }
func (p *stubParser) Extensions() []string { return []string{"." + p.lang} }
func (p *stubParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	if p.panics {
		panic("boom")
	}
	return p.chunks, p.err
}

// assertCoverage checks that top-level chunks do not overlap and cover every
// non-blank line, and that nested chunks lie inside a top-level chunk.
func assertCoverage(t *testing.T, content string, chunks []domain.SemanticChunk) {
	t.Helper()
	s := newSource(content)
	outline := Outline(chunks)

	for i := 1; i < len(outline); i++ {
		assert.Greater(t, outline[i].StartLine, outline[i-1].EndLine,
			"chunks %q and %q overlap", outline[i-1].Name, outline[i].Name)
	}
	for line := 1; line <= len(s.lines); line++ {
		if s.blank(line) {
			continue
		}
		covered := false
		for _, c := range outline {
			if c.StartLine <= line && line <= c.EndLine {
				covered = true
				break
			}
		}
		assert.True(t, covered, "line %d (%q) is not covered", line, s.line(line))
	}
	for _, c := range chunks {
		assert.NoError(t, c.Validate())
	}
}

func TestFrameworkNoParserMatched(t *testing.T) {
	f := NewFramework(DefaultRegistry())

	res := f.Parse("hello world\nplain text", "notes.xyz", "")

	assert.False(t, res.Success)
	assert.True(t, res.FallbackUsed)
	assert.Contains(t, res.Error, "no parser matched")
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, domain.ChunkTypeModule, res.Chunks[0].Type)
	assert.Equal(t, "notes.xyz", res.Chunks[0].Name)
	assert.Equal(t, 1, res.Chunks[0].StartLine)
	assert.Equal(t, 2, res.Chunks[0].EndLine)
	assert.Equal(t, "hello world\nplain text", res.Chunks[0].Content)
}

func TestFrameworkParserError(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubParser{lang: "broken", err: errors.New("unexpected token")})
	f := NewFramework(r)

	res := f.Parse("a\nb\nc", "x.broken", "")

	assert.False(t, res.Success)
	assert.True(t, res.FallbackUsed)
	assert.Contains(t, res.Error, "unexpected token")
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, 3, res.Chunks[0].EndLine)
	assert.Equal(t, "broken", res.Chunks[0].Metadata.Language)
}

func TestFrameworkParserPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubParser{lang: "panicky", panics: true})
	f := NewFramework(r)

	var res domain.ParseResult
	assert.NotPanics(t, func() {
		res = f.Parse("content", "", "panicky")
	})
	assert.False(t, res.Success)
	assert.True(t, res.FallbackUsed)
	assert.Contains(t, res.Error, "panicked")
	assert.Len(t, res.Chunks, 1)
}

func TestFrameworkEmptyParserOutput(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubParser{lang: "quiet"})
	f := NewFramework(r)

	res := f.Parse("some\ncontent\n", "a.quiet", "")

	assert.True(t, res.Success)
	assert.True(t, res.FallbackUsed)
	assert.Empty(t, res.Error)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, 2, res.Chunks[0].EndLine)
}

func TestFrameworkNormalizesOverlapsAndGaps(t *testing.T) {
	content := "header\n\na\nb\nc\nd\n}\n"
	r := NewRegistry()
	r.Register(&stubParser{lang: "stub", chunks: []domain.SemanticChunk{
		{Type: domain.ChunkTypeFunction, Name: "first", StartLine: 3, EndLine: 4},
		{Type: domain.ChunkTypeFunction, Name: "second", StartLine: 4, EndLine: 6},
		{Type: domain.ChunkTypeVariable, Name: "inner", StartLine: 3, EndLine: 3},
		{Type: domain.ChunkTypeFunction, Name: "invalid", StartLine: 9, EndLine: 2},
	}})
	f := NewFramework(r)

	res := f.Parse(content, "x.stub", "")
	require.True(t, res.Success)
	assertCoverage(t, content, res.Chunks)

	byName := map[string]domain.SemanticChunk{}
	for _, c := range res.Chunks {
		byName[c.Name] = c
	}
	assert.Equal(t, 5, byName["second"].StartLine, "overlapping start is trimmed")
	assert.Equal(t, 7, byName["second"].EndLine, "punctuation-only line is absorbed")
	assert.Equal(t, "c\nd\n}", byName["second"].Content)
	assert.Equal(t, "a", byName["inner"].Content)
	assert.Equal(t, domain.ChunkTypeModule, byName["header"].Type)
	assert.NotContains(t, byName, "invalid")
}

func TestFrameworkTotality(t *testing.T) {
	f := NewFramework(DefaultRegistry())
	inputs := []string{
		"",
		"\x00\xff\xfe binary \x01",
		"{{{{ unbalanced",
		"}}}}",
		"---\n: : :\n- [",
		"def broken(:\n  pass",
		"resource \"a\" \"b\" {\n",
		"FROM\n",
		"\"\"\"unterminated",
		strings.Repeat("x", 10000),
	}

	for _, lang := range f.Registry().Languages() {
		for _, in := range inputs {
			var res domain.ParseResult
			require.NotPanics(t, func() { res = f.Parse(in, "", lang) }, "language %s", lang)
			require.NotEmpty(t, res.Chunks, "language %s input %q", lang, in)
			for _, c := range res.Chunks {
				assert.GreaterOrEqual(t, c.StartLine, 1)
				assert.GreaterOrEqual(t, c.EndLine, c.StartLine)
			}
		}
	}
}

func TestFallbackChunkEmptyInput(t *testing.T) {
	c := FallbackChunk("", "", "text")
	assert.Equal(t, "content", c.Name)
	assert.Equal(t, 1, c.StartLine)
	assert.Equal(t, 1, c.EndLine)
}
