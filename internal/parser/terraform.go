package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var (
	hclTwoLabelBlock = regexp.MustCompile(`^(resource|data)\s+"([^"]+)"\s+"([^"]+)"\s*\{`)
	hclOneLabelBlock = regexp.MustCompile(`^(module|variable|output|provider)\s+"([^"]+)"\s*\{`)
	hclBareBlock     = regexp.MustCompile(`^(locals|terraform|moved|import|check)\s*\{`)
	hclHeredocStart  = regexp.MustCompile(`<<-?\s*([A-Za-z_][A-Za-z0-9_]*)\s*$`)
	hclReference     = regexp.MustCompile(`\b(var|local|module)\.([A-Za-z0-9_-]+)|\bdata\.([A-Za-z0-9_]+)\.([A-Za-z0-9_-]+)|\b([a-z][a-z0-9]*_[a-z0-9_]+)\.([A-Za-z0-9_-]+)\b`)
	hclSourceAttr    = regexp.MustCompile(`(?m)^\s*source\s*=\s*"([^"]+)"`)
	terraformSig     = regexp.MustCompile(`(?m)^(resource|data)\s+"[^"]+"\s+"[^"]+"\s*\{|^(module|variable|provider|output)\s+"[^"]+"\s*\{`)
)

// TerraformParser chunks HCL configuration into top-level blocks using a
// brace-depth state machine.
type TerraformParser struct{}

// NewTerraformParser creates a TerraformParser.
func NewTerraformParser() *TerraformParser { return &TerraformParser{} }

func (p *TerraformParser) Language() string     { return "terraform" }
func (p *TerraformParser) Extensions() []string { return []string{".tf", ".tfvars", ".hcl"} }
func (p *TerraformParser) Aliases() []string    { return []string{"hcl", "tf"} }

func (p *TerraformParser) SniffContent(content string) bool {
	return terraformSig.MatchString(content)
}

type hclBlock struct {
	kind       string
	name       string
	start, end int
}

func (p *TerraformParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	s := newSource(content)
	blocks, err := scanHCLBlocks(s)
	if err != nil {
		return nil, err
	}

	// Resource types declared in this file, used to recognise bare
	// `type.name` references.
	declared := map[string]bool{}
	for _, b := range blocks {
		if b.kind == "resource" {
			typ, _, _ := strings.Cut(b.name, ".")
			declared[typ] = true
		}
	}

	var chunks []domain.SemanticChunk
	for _, b := range blocks {
		body := s.slice(b.start, b.end)
		meta := domain.ChunkMetadata{Dependencies: hclReferences(body, b.name, declared)}

		var chunkType domain.ChunkType
		switch b.kind {
		case "resource", "data":
			chunkType = domain.ChunkTypeResource
		case "module":
			chunkType = domain.ChunkTypeModule
			if m := hclSourceAttr.FindStringSubmatch(body); m != nil {
				meta.Dependencies = appendUnique([]string{m[1]}, meta.Dependencies...)
			}
		case "variable":
			chunkType = domain.ChunkTypeVariable
			meta.Exports = []string{"var." + b.name}
		case "output":
			chunkType = domain.ChunkTypeOutput
			meta.Exports = []string{b.name}
		case "provider":
			chunkType = domain.ChunkTypeProvider
		default:
			chunkType = domain.ChunkTypeConfig
		}
		chunks = append(chunks, s.chunk(chunkType, b.name, b.start, b.end, meta))
	}
	return chunks, nil
}

// scanHCLBlocks finds top-level blocks. Braces inside strings, comments and
// heredocs are ignored.
func scanHCLBlocks(s *source) ([]hclBlock, error) {
	var blocks []hclBlock
	var cur *hclBlock
	depth := 0
	heredoc := ""

	for n := 1; n <= len(s.lines); n++ {
		line := s.line(n)
		if heredoc != "" {
			if strings.TrimSpace(line) == heredoc {
				heredoc = ""
			}
			continue
		}
		trimmed := strings.TrimSpace(line)

		if cur == nil {
			if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
				continue
			}
			cur = openHCLBlock(trimmed, n)
			if cur == nil {
				// tfvars style assignment or an unknown block.
				if key, _, ok := strings.Cut(trimmed, "="); ok && !strings.Contains(trimmed, "{") {
					blocks = append(blocks, hclBlock{kind: "assignment", name: strings.TrimSpace(key), start: n, end: n})
					continue
				}
				kw, _, _ := strings.Cut(trimmed, " ")
				cur = &hclBlock{kind: "block", name: strings.Trim(kw, "{"), start: n}
			}
		}

		depth += braceDelta(line)
		if m := hclHeredocStart.FindStringSubmatch(line); m != nil {
			heredoc = m[1]
		}
		if depth <= 0 {
			if depth < 0 {
				return nil, fmt.Errorf("line %d: unbalanced closing brace", n)
			}
			cur.end = n
			blocks = append(blocks, *cur)
			cur = nil
		}
	}
	if cur != nil {
		return nil, fmt.Errorf("line %d: unterminated %s block %q", cur.start, cur.kind, cur.name)
	}
	return blocks, nil
}

func openHCLBlock(line string, n int) *hclBlock {
	if m := hclTwoLabelBlock.FindStringSubmatch(line); m != nil {
		name := m[2] + "." + m[3]
		if m[1] == "data" {
			name = "data." + name
		}
		return &hclBlock{kind: m[1], name: name, start: n}
	}
	if m := hclOneLabelBlock.FindStringSubmatch(line); m != nil {
		return &hclBlock{kind: m[1], name: m[2], start: n}
	}
	if m := hclBareBlock.FindStringSubmatch(line); m != nil {
		return &hclBlock{kind: m[1], name: m[1], start: n}
	}
	return nil
}

// braceDelta counts { minus } outside of strings and line comments.
func braceDelta(line string) int {
	delta := 0
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '#':
			return delta
		case '/':
			if i+1 < len(line) && line[i+1] == '/' {
				return delta
			}
		case '{':
			delta++
		case '}':
			delta--
		}
	}
	return delta
}

func hclReferences(body, self string, declared map[string]bool) []string {
	var deps []string
	for _, m := range hclReference.FindAllStringSubmatch(body, -1) {
		var ref string
		switch {
		case m[1] != "":
			ref = m[1] + "." + m[2]
		case m[3] != "":
			ref = "data." + m[3] + "." + m[4]
		case m[5] != "" && declared[m[5]]:
			ref = m[5] + "." + m[6]
		}
		if ref != "" && ref != self {
			deps = appendUnique(deps, ref)
		}
	}
	return deps
}
