package memory

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/repomem/internal/domain"
)

// ChunkConfig controls paragraph windows for content the parser could not
// structure.
type ChunkConfig struct {
	MaxChars int
	MinChars int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars: 1200,
		MinChars: 400,
	}
}

// splitParagraphs cuts content into line-aligned windows. A window closes at
// the first blank line after MinChars, or before the line that would push it
// past MaxChars. Windows never overlap.
func splitParagraphs(content, name, language string, cfg ChunkConfig) []domain.SemanticChunk {
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}
	lines := strings.Split(content, "\n")

	var out []domain.SemanticChunk
	start, size := -1, 0
	flush := func(end int) {
		if start < 0 {
			return
		}
		for end > start && strings.TrimSpace(lines[end]) == "" {
			end--
		}
		text := strings.Join(lines[start:end+1], "\n")
		if strings.TrimSpace(text) != "" {
			out = append(out, domain.SemanticChunk{
				Type:      domain.ChunkTypeModule,
				Name:      fmt.Sprintf("%s#%d", name, len(out)+1),
				Content:   text,
				StartLine: start + 1,
				EndLine:   end + 1,
				Metadata:  domain.ChunkMetadata{Language: language},
			})
		}
		start, size = -1, 0
	}

	for i, line := range lines {
		blank := strings.TrimSpace(line) == ""
		if start < 0 {
			if blank {
				continue
			}
			start = i
		}
		n := utf8.RuneCountInString(line) + 1
		if size > 0 && size+n > cfg.MaxChars {
			flush(i - 1)
			if blank {
				continue
			}
			start = i
		}
		size += n
		if blank && size >= cfg.MinChars {
			flush(i)
		}
	}
	flush(len(lines) - 1)

	return out
}
