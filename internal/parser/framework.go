package parser

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloo-solutions/repomem/internal/domain"
)

const fallbackLanguage = "text"

// Framework is the total entry point over a Registry: Parse never panics
// and never returns an error value.
type Framework struct {
	registry *Registry
}

// NewFramework creates a framework over the given registry.
func NewFramework(registry *Registry) *Framework {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Framework{registry: registry}
}

// Registry exposes the underlying registry.
func (f *Framework) Registry() *Registry {
	return f.registry
}

// Parse chunks content. Unmatched inputs, parser errors and parser panics
// yield one fallback chunk with the error preserved; a parser that returns
// no chunks yields the same fallback chunk as a success.
func (f *Framework) Parse(content, pathHint, languageHint string) (result domain.ParseResult) {
	p, ok := Select(f.registry, pathHint, languageHint, content)
	if !ok {
		return fallbackResult(content, pathHint, languageHint,
			fmt.Errorf("no parser matched %s", describeInput(pathHint, languageHint)))
	}
	lang := p.Language()

	defer func() {
		if r := recover(); r != nil {
			result = fallbackResult(content, pathHint, lang, fmt.Errorf("%s parser panicked: %v", lang, r))
		}
	}()

	chunks, err := p.Parse(content, pathHint)
	if err != nil {
		return fallbackResult(content, pathHint, lang, fmt.Errorf("%s parser: %w", lang, err))
	}

	src := newSource(content)
	chunks = normalizeChunks(src, chunks, lang)
	if len(chunks) == 0 {
		res := fallbackResult(content, pathHint, lang, nil)
		res.Success = true
		return res
	}

	return domain.ParseResult{
		Success:  true,
		Chunks:   chunks,
		Language: lang,
	}
}

func fallbackResult(content, path, lang string, err error) domain.ParseResult {
	if lang == "" {
		lang = fallbackLanguage
	}
	res := domain.ParseResult{
		Chunks:       []domain.SemanticChunk{FallbackChunk(content, path, lang)},
		FallbackUsed: true,
		Language:     lang,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// FallbackChunk returns a module chunk spanning the whole input.
func FallbackChunk(content, path, lang string) domain.SemanticChunk {
	name := filepath.Base(path)
	if path == "" || name == "." || name == "/" {
		name = "content"
	}
	return domain.SemanticChunk{
		Type:      domain.ChunkTypeModule,
		Name:      name,
		Content:   content,
		StartLine: 1,
		EndLine:   newSource(content).count(),
		Metadata:  domain.ChunkMetadata{Language: lang},
	}
}

func describeInput(path, hint string) string {
	switch {
	case path != "" && hint != "":
		return fmt.Sprintf("path %q with language %q", path, hint)
	case path != "":
		return fmt.Sprintf("path %q", path)
	case hint != "":
		return fmt.Sprintf("language %q", hint)
	}
	return "content"
}

// Outline returns the chunks that are not enclosed by another chunk. For a
// normalized parse these are non-overlapping and cover every non-blank line.
func Outline(chunks []domain.SemanticChunk) []domain.SemanticChunk {
	sorted := make([]domain.SemanticChunk, len(chunks))
	copy(sorted, chunks)
	sortChunks(sorted)

	var out []domain.SemanticChunk
	for _, c := range sorted {
		if len(out) > 0 && within(out[len(out)-1], c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func within(outer, inner domain.SemanticChunk) bool {
	return outer.StartLine <= inner.StartLine && inner.EndLine <= outer.EndLine
}

func sortChunks(chunks []domain.SemanticChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].StartLine != chunks[j].StartLine {
			return chunks[i].StartLine < chunks[j].StartLine
		}
		return chunks[i].EndLine > chunks[j].EndLine
	})
}

// normalizeChunks clamps ranges, trims partial overlaps between top-level
// chunks, fills uncovered non-blank runs and re-slices content from the
// final line ranges.
func normalizeChunks(src *source, chunks []domain.SemanticChunk, lang string) []domain.SemanticChunk {
	n := src.count()
	valid := chunks[:0:0]
	for _, c := range chunks {
		if c.EndLine > n {
			c.EndLine = n
		}
		if c.StartLine < 1 {
			c.StartLine = 1
		}
		if c.EndLine < c.StartLine {
			continue
		}
		if c.Metadata.Language == "" {
			c.Metadata.Language = lang
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil
	}
	sortChunks(valid)

	// Top-level chunks are tracked by index into out.
	var out []domain.SemanticChunk
	var outline []int
	for _, c := range valid {
		if len(outline) > 0 {
			last := out[outline[len(outline)-1]]
			if within(last, c) {
				out = append(out, c)
				continue
			}
			if c.StartLine <= last.EndLine {
				c.StartLine = last.EndLine + 1
				if c.StartLine > c.EndLine {
					continue
				}
			}
		}
		outline = append(outline, len(out))
		out = append(out, c)
	}

	out = fillGaps(src, out, outline, lang)
	for i := range out {
		out[i].Content = src.slice(out[i].StartLine, out[i].EndLine)
	}
	sortChunks(out)
	return out
}

// fillGaps covers non-blank lines outside every top-level chunk. Runs with
// no letters or digits (closing braces, document separators) extend the
// neighbouring chunk; other runs become module chunks.
func fillGaps(src *source, out []domain.SemanticChunk, outline []int, lang string) []domain.SemanticChunk {
	covered := make([]int, src.count()+2)
	for i := range covered {
		covered[i] = -1
	}
	for _, idx := range outline {
		for l := out[idx].StartLine; l <= out[idx].EndLine; l++ {
			covered[l] = idx
		}
	}

	var gaps []domain.SemanticChunk
	line := 1
	for line <= src.count() {
		if covered[line] >= 0 || src.blank(line) {
			line++
			continue
		}
		start := line
		end := line
		for line <= src.count() && covered[line] < 0 {
			if !src.blank(line) {
				end = line
			}
			line++
		}

		if !src.hasWords(start, end) {
			if prev := prevCovered(covered, start); prev >= 0 {
				extendTo(out, prev, end)
				continue
			}
			if next := nextCovered(covered, end); next >= 0 {
				out[next].StartLine = start
				continue
			}
		}
		gaps = append(gaps, domain.SemanticChunk{
			Type:      domain.ChunkTypeModule,
			Name:      gapName(src, start),
			StartLine: start,
			EndLine:   end,
			Metadata:  domain.ChunkMetadata{Language: lang},
		})
	}
	return append(out, gaps...)
}

// extendTo grows a top-level chunk down to end.
func extendTo(out []domain.SemanticChunk, idx, end int) {
	if out[idx].EndLine < end {
		out[idx].EndLine = end
	}
}

func prevCovered(covered []int, from int) int {
	for l := from - 1; l >= 1; l-- {
		if covered[l] >= 0 {
			return covered[l]
		}
	}
	return -1
}

func nextCovered(covered []int, from int) int {
	for l := from + 1; l < len(covered); l++ {
		if covered[l] >= 0 {
			return covered[l]
		}
	}
	return -1
}

func gapName(src *source, line int) string {
	text := strings.TrimSpace(src.line(line))
	if len(text) > 40 {
		text = text[:40]
	}
	if text == "" {
		return fmt.Sprintf("lines %d", line)
	}
	return text
}
