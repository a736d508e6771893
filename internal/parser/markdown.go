package parser

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var markdownHeading = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)

// MarkdownParser splits documents into one section per heading. Fenced code
// blocks are emitted as nested chunks of their section.
type MarkdownParser struct {
	md goldmark.Markdown
}

// NewMarkdownParser creates a MarkdownParser.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{md: goldmark.New()}
}

func (p *MarkdownParser) Language() string { return "markdown" }
func (p *MarkdownParser) Extensions() []string {
	return []string{".md", ".markdown", ".mdx", ".mdown"}
}
func (p *MarkdownParser) Aliases() []string { return []string{"md"} }

// SniffContent needs two headings, or a heading and a fence, so that shell
// and Python comments alone do not qualify.
func (p *MarkdownParser) SniffContent(content string) bool {
	headings := markdownHeading.FindAllStringIndex(content, 2)
	return len(headings) >= 2 || (len(headings) == 1 && strings.Contains(content, "```"))
}

type mdHeading struct {
	line  int
	level int
	title string
}

type mdBlock struct {
	start, end int
	lang       string
}

func (p *MarkdownParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	src := []byte(content)
	doc := p.md.Parser().Parse(text.NewReader(src))
	s := newSource(content)
	offsets := lineOffsets(src)

	var headings []mdHeading
	var blocks []mdBlock
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			if node.Lines().Len() == 0 {
				continue
			}
			seg := node.Lines().At(0)
			title := strings.TrimSpace(string(seg.Value(src)))
			line := lineAt(offsets, seg.Start)
			headings = append(headings, mdHeading{line: line, level: node.Level, title: title})
		case *ast.FencedCodeBlock:
			if b, ok := fencedBlock(node, src, offsets, s.count()); ok {
				blocks = append(blocks, b)
			}
		}
	}

	var chunks []domain.SemanticChunk
	var stack []mdHeading
	for i, h := range headings {
		end := s.count()
		if i+1 < len(headings) {
			end = headings[i+1].line - 1
		}
		end = s.trimEnd(h.line, end)

		for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
			stack = stack[:len(stack)-1]
		}
		meta := domain.ChunkMetadata{}
		if len(stack) > 0 {
			meta.Parent = stack[len(stack)-1].title
		}
		stack = append(stack, h)
		chunks = append(chunks, s.chunk(domain.ChunkTypeHeading, h.title, h.line, end, meta))
	}

	for _, b := range blocks {
		meta := domain.ChunkMetadata{}
		if lang := strings.TrimSpace(b.lang); lang != "" {
			meta.Dependencies = []string{lang}
		}
		name := b.lang
		if name == "" {
			name = "code"
		}
		if section := enclosingHeading(headings, b.start); section != nil {
			meta.Parent = section.title
		}
		chunks = append(chunks, s.chunk(domain.ChunkTypeCodeBlock, name, b.start, b.end, meta))
	}
	return chunks, nil
}

// fencedBlock computes the line range including both fences. An unclosed
// fence runs to the end of the document.
func fencedBlock(node *ast.FencedCodeBlock, src []byte, offsets []int, lineCount int) (mdBlock, bool) {
	b := mdBlock{lang: string(node.Language(src))}
	lines := node.Lines()
	switch {
	case lines.Len() > 0:
		first := lineAt(offsets, lines.At(0).Start)
		last := lineAt(offsets, lines.At(lines.Len()-1).Start)
		b.start = first - 1
		b.end = last + 1
	case node.Info != nil:
		b.start = lineAt(offsets, node.Info.Segment.Start)
		b.end = b.start + 1
	default:
		return b, false
	}
	if b.start < 1 {
		b.start = 1
	}
	if b.end > lineCount {
		b.end = lineCount
	}
	return b, b.start <= b.end
}

func enclosingHeading(headings []mdHeading, line int) *mdHeading {
	var found *mdHeading
	for i := range headings {
		if headings[i].line <= line {
			found = &headings[i]
		}
	}
	return found
}

// lineOffsets returns the byte offset at which each line starts.
func lineOffsets(src []byte) []int {
	offsets := []int{0}
	for i, b := range src {
		if b == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// lineAt maps a byte offset to its 1-based line number.
func lineAt(offsets []int, offset int) int {
	return sort.Search(len(offsets), func(i int) bool { return offsets[i] > offset })
}
