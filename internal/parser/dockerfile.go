package parser

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var (
	dockerFromLine  = regexp.MustCompile(`(?i)^FROM\s+(?:--platform=\S+\s+)?(\S+)(?:\s+AS\s+(\S+))?`)
	dockerSignature = regexp.MustCompile(`(?im)^FROM\s+\S+`)
	dockerCopyFrom  = regexp.MustCompile(`(?i)--from=(\S+)`)
)

// DockerfileParser chunks container build files: one stage chunk per FROM
// with nested instruction chunks.
type DockerfileParser struct{}

// NewDockerfileParser creates a DockerfileParser.
func NewDockerfileParser() *DockerfileParser { return &DockerfileParser{} }

func (p *DockerfileParser) Language() string     { return "dockerfile" }
func (p *DockerfileParser) Extensions() []string { return []string{".dockerfile"} }
func (p *DockerfileParser) Aliases() []string    { return []string{"docker", "containerfile"} }

func (p *DockerfileParser) MatchFilename(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	return base == "dockerfile" || base == "containerfile" ||
		strings.HasPrefix(base, "dockerfile.") || strings.HasSuffix(base, ".dockerfile")
}

func (p *DockerfileParser) SniffContent(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(line), "ARG ") {
			continue
		}
		return dockerSignature.MatchString(line)
	}
	return false
}

type dockerInstruction struct {
	keyword    string
	args       string
	start, end int
}

func (p *DockerfileParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	s := newSource(content)
	instructions := scanDockerInstructions(s)

	var chunks []domain.SemanticChunk
	stageIdx := -1
	stageNum := 0
	for _, ins := range instructions {
		if ins.keyword == "FROM" {
			m := dockerFromLine.FindStringSubmatch("FROM " + ins.args)
			if m == nil {
				return nil, fmt.Errorf("line %d: malformed FROM instruction", ins.start)
			}
			name := m[2]
			if name == "" {
				name = fmt.Sprintf("stage-%d", stageNum)
			}
			stageNum++
			chunks = append(chunks, s.chunk(domain.ChunkTypeStage, name, ins.start, ins.end,
				domain.ChunkMetadata{Dependencies: []string{m[1]}}))
			stageIdx = len(chunks) - 1
		}

		parent := ""
		if stageIdx >= 0 {
			stage := &chunks[stageIdx]
			parent = stage.Name
			stage.EndLine = ins.end
			switch ins.keyword {
			case "COPY", "ADD":
				if m := dockerCopyFrom.FindStringSubmatch(ins.args); m != nil {
					stage.Metadata.Dependencies = appendUnique(stage.Metadata.Dependencies, m[1])
				}
			case "EXPOSE":
				stage.Metadata.Exports = appendUnique(stage.Metadata.Exports, strings.Fields(ins.args)...)
			}
		}
		chunks = append(chunks, s.chunk(domain.ChunkTypeInstruction, ins.keyword, ins.start, ins.end,
			domain.ChunkMetadata{Parent: parent, Parameters: instructionArgs(ins)}))
	}

	for i := range chunks {
		chunks[i].Content = s.slice(chunks[i].StartLine, chunks[i].EndLine)
	}
	return chunks, nil
}

// scanDockerInstructions joins backslash continuations and skips comments.
func scanDockerInstructions(s *source) []dockerInstruction {
	var out []dockerInstruction
	var cur *dockerInstruction
	for n := 1; n <= len(s.lines); n++ {
		raw := strings.TrimSpace(s.line(n))
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if cur == nil {
			keyword, args, _ := strings.Cut(raw, " ")
			cur = &dockerInstruction{keyword: strings.ToUpper(keyword), args: strings.TrimSpace(args), start: n, end: n}
		} else {
			cur.args += " " + raw
			cur.end = n
		}
		if strings.HasSuffix(raw, "\\") {
			cur.args = strings.TrimSpace(strings.TrimSuffix(cur.args, "\\"))
			continue
		}
		out = append(out, *cur)
		cur = nil
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

func instructionArgs(ins dockerInstruction) []string {
	switch ins.keyword {
	case "ARG", "ENV", "EXPOSE", "VOLUME", "USER", "WORKDIR":
		return strings.Fields(ins.args)
	}
	return nil
}
